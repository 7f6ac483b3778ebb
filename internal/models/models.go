// Package models holds the entity and API types shared by handlers and tests.
package models

// APIResponse is the standard envelope for JSON responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta carries pagination info for list responses.
type Meta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Stage is a single named production step.
type Stage struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RouteTemplate is a reusable ordered sequence of stages.
type RouteTemplate struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	IsDefault bool    `json:"is_default"`
	Stages    []Stage `json:"stages,omitempty"`
}

// Part is the central tracked entity. PartID is caller-supplied and stable.
type Part struct {
	PartID            string  `json:"part_id"`
	Product           string  `json:"product"`
	Name              string  `json:"name"`
	Material          string  `json:"material"`
	Size              string  `json:"size"`
	DrawingFilename   string  `json:"drawing_filename,omitempty"`
	CurrentStatus     string  `json:"current_status"`
	QuantityTotal     int     `json:"quantity_total"`
	QuantityCompleted int     `json:"quantity_completed"`
	RouteTemplateID   *int    `json:"route_template_id"`
	ResponsibleID     *int    `json:"responsible_id"`
	Responsible       string  `json:"responsible,omitempty"`
	ParentID          *string `json:"parent_id"`
	CreatedAt         string  `json:"created_at"`
	LastUpdate        string  `json:"last_update"`
}

// LedgerEntry is one recorded completion event. Stage is a denormalized
// name copy; renaming a stage does not rewrite history.
type LedgerEntry struct {
	ID           int    `json:"id"`
	PartID       string `json:"part_id"`
	Stage        string `json:"stage"`
	OperatorName string `json:"operator_name"`
	Quantity     int    `json:"quantity"`
	CreatedAt    string `json:"created_at"`
}

// ResponsibleChange is one append-only responsibility assignment event.
type ResponsibleChange struct {
	ID        int    `json:"id"`
	PartID    string `json:"part_id"`
	UserID    *int   `json:"user_id"`
	Username  string `json:"username,omitempty"`
	CreatedAt string `json:"created_at"`
}

// PartNote is a free-text note attached to a part, optionally tagged
// with a stage from the part's route.
type PartNote struct {
	ID        int    `json:"id"`
	PartID    string `json:"part_id"`
	UserID    int    `json:"user_id"`
	Author    string `json:"author,omitempty"`
	StageID   *int   `json:"stage_id"`
	StageName string `json:"stage_name,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// User is an account that can log in and be assigned as responsible.
type User struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	RoleID      int    `json:"role_id"`
	RoleName    string `json:"role_name,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
	LastLogin   string `json:"last_login,omitempty"`
}

// Role groups users under an OR-combined permission mask.
type Role struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	IsDefault   bool   `json:"is_default"`
	Permissions int    `json:"permissions"`
}

// HistoryEvent is one row of a part's combined history (ledger entries,
// audit entries, notes and responsibility changes merged by time).
type HistoryEvent struct {
	ID        int    `json:"id"`
	Type      string `json:"type"` // "status", "audit", "note", "responsible"
	Timestamp string `json:"timestamp"`
	Stage     string `json:"stage,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Action    string `json:"action,omitempty"`
	Details   string `json:"details,omitempty"`
	Text      string `json:"text,omitempty"`
	Username  string `json:"username,omitempty"`
	UserID    *int   `json:"user_id,omitempty"`
}

// ProductSummary aggregates progress over a product's root parts.
type ProductSummary struct {
	Product           string `json:"product"`
	TotalParts        int    `json:"total_parts"`
	QuantityTotal     int    `json:"quantity_total"`
	QuantityCompleted int    `json:"quantity_completed"`
}

// ImportResult reports the outcome of a bulk import.
type ImportResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}
