package main

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"

	"fabtrack/internal/routing"
)

func loadRouteTemplate(q queryer, id int) (*RouteTemplate, error) {
	var rt RouteTemplate
	var isDefault int
	err := q.QueryRow("SELECT id, name, is_default FROM route_templates WHERE id = ?", id).
		Scan(&rt.ID, &rt.Name, &isDefault)
	if err != nil {
		return nil, err
	}
	rt.IsDefault = isDefault == 1

	rows, err := q.Query(`SELECT s.id, s.name FROM route_stages rs
		JOIN stages s ON rs.stage_id = s.id
		WHERE rs.template_id = ? ORDER BY rs.ord`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		rt.Stages = append(rt.Stages, s)
	}
	return &rt, rows.Err()
}

func handleListRoutes(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT id FROM route_templates ORDER BY name")
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	var ids []int
	for rows.Next() {
		var id int
		rows.Scan(&id)
		ids = append(ids, id)
	}
	rows.Close()

	templates := []RouteTemplate{}
	for _, id := range ids {
		rt, err := loadRouteTemplate(db, id)
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
		templates = append(templates, *rt)
	}
	jsonResp(w, templates)
}

func handleGetRoute(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid route id", "VALIDATION_FAILED", 400)
		return
	}
	rt, err := loadRouteTemplate(db, id)
	if err != nil {
		jsonErrCode(w, "Route template not found", "NOT_FOUND", 404)
		return
	}
	jsonResp(w, rt)
}

func handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		StageIDs []int  `json:"stage_ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonErrCode(w, "name: is required", "VALIDATION_FAILED", 400)
		return
	}
	if len(req.StageIDs) == 0 {
		jsonErrCode(w, "A route template needs at least one stage", "EMPTY_ROUTE", 400)
		return
	}

	var dup int
	db.QueryRow("SELECT COUNT(*) FROM route_templates WHERE name = ?", req.Name).Scan(&dup)
	if dup > 0 {
		jsonErrCode(w, "Route template name already exists", "DUPLICATE_NAME", 409)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	res, err := tx.Exec("INSERT INTO route_templates (name) VALUES (?)", req.Name)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	id64, _ := res.LastInsertId()
	id := int(id64)

	for ord, stageID := range req.StageIDs {
		if _, err := tx.Exec("INSERT INTO route_stages (template_id, stage_id, ord) VALUES (?, ?, ?)",
			id, stageID, ord); err != nil {
			jsonErrCode(w, "Unknown stage id in route", "VALIDATION_FAILED", 400)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "create_route", AuditCategoryManagement, "", "Created route template "+req.Name)
	rt, err := loadRouteTemplate(db, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, rt)
}

// handleUpdateRoute replaces the template's whole ordered stage list, and
// optionally renames it, in one transaction.
func handleUpdateRoute(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid route id", "VALIDATION_FAILED", 400)
		return
	}
	var req struct {
		Name     string `json:"name"`
		StageIDs []int  `json:"stage_ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	if len(req.StageIDs) == 0 {
		jsonErrCode(w, "A route template needs at least one stage", "EMPTY_ROUTE", 400)
		return
	}

	var oldName string
	if err := db.QueryRow("SELECT name FROM route_templates WHERE id = ?", id).Scan(&oldName); err != nil {
		jsonErrCode(w, "Route template not found", "NOT_FOUND", 404)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = oldName
	}
	var dup int
	db.QueryRow("SELECT COUNT(*) FROM route_templates WHERE name = ? AND id != ?", name, id).Scan(&dup)
	if dup > 0 {
		jsonErrCode(w, "Route template name already exists", "DUPLICATE_NAME", 409)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE route_templates SET name = ? WHERE id = ?", name, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := tx.Exec("DELETE FROM route_stages WHERE template_id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	for ord, stageID := range req.StageIDs {
		if _, err := tx.Exec("INSERT INTO route_stages (template_id, stage_id, ord) VALUES (?, ?, ?)",
			id, stageID, ord); err != nil {
			jsonErrCode(w, "Unknown stage id in route", "VALIDATION_FAILED", 400)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "update_route", AuditCategoryManagement, "", "Updated route template "+name)
	rt, err := loadRouteTemplate(db, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, rt)
}

func handleDeleteRoute(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid route id", "VALIDATION_FAILED", 400)
		return
	}

	var name string
	if err := db.QueryRow("SELECT name FROM route_templates WHERE id = ?", id).Scan(&name); err != nil {
		jsonErrCode(w, "Route template not found", "NOT_FOUND", 404)
		return
	}

	var refs int
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE route_template_id = ?", id).Scan(&refs)
	if refs > 0 {
		jsonErrCode(w, "Route template is assigned to parts", "IN_USE", 409)
		return
	}

	// route_stages rows go with the template via ON DELETE CASCADE
	if _, err := db.Exec("DELETE FROM route_templates WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "delete_route", AuditCategoryManagement, "", "Deleted route template "+name)
	jsonResp(w, map[string]string{"status": "deleted"})
}

// handleSetDefaultRoute clears the previous default and sets the new one
// atomically, so at most one template is default at any time.
func handleSetDefaultRoute(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid route id", "VALIDATION_FAILED", 400)
		return
	}

	var name string
	if err := db.QueryRow("SELECT name FROM route_templates WHERE id = ?", id).Scan(&name); err != nil {
		jsonErrCode(w, "Route template not found", "NOT_FOUND", 404)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE route_templates SET is_default = 0 WHERE is_default = 1"); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := tx.Exec("UPDATE route_templates SET is_default = 1 WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "set_default_route", AuditCategoryManagement, "", "Set default route template "+name)
	jsonResp(w, map[string]string{"status": "ok"})
}

// resolveOrCreateRoute finds the template matching the canonical name of
// the ordered stage list, creating missing stages (case-insensitive
// reuse) and the template itself when absent. Deterministic for a given
// name sequence, so repeated import rows share one template.
func resolveOrCreateRoute(tx *sql.Tx, stageNames []string) (int, error) {
	canonical := routing.CanonicalName(stageNames)

	var id int
	err := tx.QueryRow("SELECT id FROM route_templates WHERE name = ?", canonical).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	stageIDs := make([]int, 0, len(stageNames))
	for _, raw := range stageNames {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		var stageID int
		var existingName string
		err := tx.QueryRow("SELECT id, name FROM stages WHERE LOWER(name) = LOWER(?)", name).
			Scan(&stageID, &existingName)
		if err == sql.ErrNoRows {
			res, err := tx.Exec("INSERT INTO stages (name) VALUES (?)", name)
			if err != nil {
				return 0, err
			}
			id64, _ := res.LastInsertId()
			stageID = int(id64)
		} else if err != nil {
			return 0, err
		}
		stageIDs = append(stageIDs, stageID)
	}

	res, err := tx.Exec("INSERT INTO route_templates (name) VALUES (?)", canonical)
	if err != nil {
		return 0, err
	}
	id64, _ := res.LastInsertId()
	templateID := int(id64)
	for ord, stageID := range stageIDs {
		if _, err := tx.Exec("INSERT INTO route_stages (template_id, stage_id, ord) VALUES (?, ?, ?)",
			templateID, stageID, ord); err != nil {
			return 0, err
		}
	}
	return templateID, nil
}
