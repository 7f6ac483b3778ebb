// Package audit writes and queries the categorized audit trail.
package audit

import (
	"database/sql"
	"log"
	"net/http"
	"strings"
)

// Categories group audit entries for filtering.
const (
	CategoryPart       = "part"
	CategoryManagement = "management"
	CategoryAuth       = "auth"
)

// Entry is one audit log row.
type Entry struct {
	ID        int    `json:"id"`
	PartID    string `json:"part_id,omitempty"`
	UserID    *int   `json:"user_id,omitempty"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
	Category  string `json:"category"`
	CreatedAt string `json:"created_at"`
}

// Log inserts an audit entry. Failures are logged, never propagated:
// an audit write must not fail the operation it records.
func Log(db *sql.DB, userID int, username, action, category, partID, details string) {
	var uid interface{}
	if userID > 0 {
		uid = userID
	}
	_, err := db.Exec(`INSERT INTO audit_log (part_id, user_id, username, action, details, category)
		VALUES (?, ?, ?, ?, ?, ?)`, nullIfEmpty(partID), uid, username, action, details, category)
	if err != nil {
		log.Printf("audit: write failed: %v", err)
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetUserContext resolves the session cookie to the acting user, or
// (0, "system") when the request carries no valid session.
func GetUserContext(db *sql.DB, r *http.Request, cookieName string) (int, string) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return 0, "system"
	}
	var id int
	var username string
	err = db.QueryRow(`SELECT u.id, u.username FROM users u
		JOIN sessions s ON u.id = s.user_id WHERE s.token = ?`, cookie.Value).Scan(&id, &username)
	if err != nil {
		return 0, "system"
	}
	return id, username
}

// Filter narrows a Query call.
type Filter struct {
	Category string
	Username string
	PartID   string
	Search   string
	DateFrom string
	DateTo   string
	Limit    int
	Offset   int
}

// Query returns matching entries newest first plus the unpaged total.
func Query(db *sql.DB, f Filter) ([]Entry, int, error) {
	var conditions []string
	var args []interface{}
	if f.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, f.Category)
	}
	if f.Username != "" {
		conditions = append(conditions, "username = ?")
		args = append(args, f.Username)
	}
	if f.PartID != "" {
		conditions = append(conditions, "part_id = ?")
		args = append(args, f.PartID)
	}
	if f.Search != "" {
		conditions = append(conditions, "(action LIKE ? OR details LIKE ? OR part_id LIKE ?)")
		s := "%" + f.Search + "%"
		args = append(args, s, s, s)
	}
	if f.DateFrom != "" {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, f.DateTo+" 23:59:59")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, COALESCE(part_id, ''), user_id, username, action,
		COALESCE(details, ''), category, created_at FROM audit_log` + where +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := db.Query(query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PartID, &e.UserID, &e.Username, &e.Action,
			&e.Details, &e.Category, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
