package main

import (
	"net/http"
	"strconv"
	"strings"

	"fabtrack/internal/validation"
)

func handleListStages(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT id, name FROM stages ORDER BY name")
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	stages := []Stage{}
	for rows.Next() {
		var s Stage
		rows.Scan(&s.ID, &s.Name)
		stages = append(stages, s)
	}
	jsonResp(w, stages)
}

func handleCreateStage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	ve := &ValidationErrors{}
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 200)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), "VALIDATION_FAILED", 400)
		return
	}

	var existing int
	db.QueryRow("SELECT COUNT(*) FROM stages WHERE LOWER(name) = LOWER(?)", req.Name).Scan(&existing)
	if existing > 0 {
		jsonErrCode(w, "Stage name already exists", "DUPLICATE_NAME", 409)
		return
	}

	res, err := db.Exec("INSERT INTO stages (name) VALUES (?)", req.Name)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	logAudit(r, "create_stage", AuditCategoryManagement, "", "Created stage "+req.Name)
	jsonResp(w, Stage{ID: int(id), Name: req.Name})
}

// handleRenameStage renames a stage. Ledger history keeps the old name;
// only routes and future resolution see the new one.
func handleRenameStage(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid stage id", "VALIDATION_FAILED", 400)
		return
	}
	var req struct {
		Name string `json:"name"`
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

	var oldName string
	if err := db.QueryRow("SELECT name FROM stages WHERE id = ?", id).Scan(&oldName); err != nil {
		jsonErrCode(w, "Stage not found", "NOT_FOUND", 404)
		return
	}

	var dup int
	db.QueryRow("SELECT COUNT(*) FROM stages WHERE LOWER(name) = LOWER(?) AND id != ?", req.Name, id).Scan(&dup)
	if dup > 0 {
		jsonErrCode(w, "Stage name already exists", "DUPLICATE_NAME", 409)
		return
	}

	if _, err := db.Exec("UPDATE stages SET name = ? WHERE id = ?", req.Name, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "rename_stage", AuditCategoryManagement, "",
		"Renamed stage "+oldName+" to "+req.Name)
	jsonResp(w, Stage{ID: id, Name: req.Name})
}

func handleDeleteStage(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid stage id", "VALIDATION_FAILED", 400)
		return
	}

	var name string
	if err := db.QueryRow("SELECT name FROM stages WHERE id = ?", id).Scan(&name); err != nil {
		jsonErrCode(w, "Stage not found", "NOT_FOUND", 404)
		return
	}

	var refs int
	db.QueryRow("SELECT COUNT(*) FROM route_stages WHERE stage_id = ?", id).Scan(&refs)
	if refs > 0 {
		jsonErrCode(w, "Stage is referenced by a route template", "IN_USE", 409)
		return
	}

	if _, err := db.Exec("DELETE FROM stages WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "delete_stage", AuditCategoryManagement, "", "Deleted stage "+name)
	jsonResp(w, map[string]string{"status": "deleted"})
}
