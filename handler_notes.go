package main

import (
	"net/http"
	"strconv"
	"strings"

	"fabtrack/internal/validation"
)

func handleListPartNotes(w http.ResponseWriter, r *http.Request, partID string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", partID).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	rows, err := db.Query(`SELECT n.id, n.part_id, n.user_id,
		COALESCE(NULLIF(u.display_name, ''), u.username, ''),
		n.stage_id, COALESCE(s.name, ''), n.text, n.created_at
		FROM part_notes n
		LEFT JOIN users u ON n.user_id = u.id
		LEFT JOIN stages s ON n.stage_id = s.id
		WHERE n.part_id = ? ORDER BY n.created_at DESC, n.id DESC`, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	notes := []PartNote{}
	for rows.Next() {
		var n PartNote
		rows.Scan(&n.ID, &n.PartID, &n.UserID, &n.Author, &n.StageID, &n.StageName, &n.Text, &n.CreatedAt)
		notes = append(notes, n)
	}
	jsonResp(w, notes)
}

func handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartID  string `json:"part_id"`
		StageID *int   `json:"stage_id"`
		Text    string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.Text = strings.TrimSpace(req.Text)

	ve := &ValidationErrors{}
	validation.RequireField(ve, "part_id", req.PartID)
	validation.RequireField(ve, "text", req.Text)
	validation.ValidateMaxLength(ve, "text", req.Text, validation.MaxStringLength)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), "VALIDATION_FAILED", 400)
		return
	}

	var exists int
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", req.PartID).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}
	if req.StageID != nil {
		// A stage tag must come from the part's assigned route.
		var onRoute int
		db.QueryRow(`SELECT COUNT(*) FROM route_stages rs
			JOIN parts p ON p.route_template_id = rs.template_id
			WHERE p.part_id = ? AND rs.stage_id = ?`, req.PartID, *req.StageID).Scan(&onRoute)
		if onRoute == 0 {
			jsonErrCode(w, "Stage is not on the part's route", "VALIDATION_FAILED", 400)
			return
		}
	}

	userID, username := getUserContext(r)
	if userID == 0 {
		unauthorized(w)
		return
	}

	res, err := db.Exec("INSERT INTO part_notes (part_id, user_id, stage_id, text) VALUES (?, ?, ?, ?)",
		req.PartID, userID, req.StageID, req.Text)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	logAudit(r, "add_note", AuditCategoryPart, req.PartID, "Note added by "+username)
	broadcast("part_updated", "Note added to part "+req.PartID, req.PartID)
	jsonResp(w, PartNote{ID: int(id), PartID: req.PartID, UserID: userID, Author: username,
		StageID: req.StageID, Text: req.Text})
}

// noteForUpdate loads a note and checks the caller may modify it: the
// author, or anyone holding the admin flag.
func noteForUpdate(w http.ResponseWriter, r *http.Request, idStr string) (id int, partID string, ok bool) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid note id", "VALIDATION_FAILED", 400)
		return 0, "", false
	}
	var authorID int
	err = db.QueryRow("SELECT part_id, user_id FROM part_notes WHERE id = ?", id).Scan(&partID, &authorID)
	if err != nil {
		jsonErrCode(w, "Note not found", "NOT_FOUND", 404)
		return 0, "", false
	}

	userID, _ := getUserContext(r)
	perms, _ := r.Context().Value(ctxPerms).(int)
	if userID != authorID && !hasPermission(perms, PermAdmin) {
		forbidden(w, "Only the author may modify this note")
		return 0, "", false
	}
	return id, partID, true
}

func handleUpdateNote(w http.ResponseWriter, r *http.Request, idStr string) {
	id, partID, ok := noteForUpdate(w, r, idStr)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		jsonErrCode(w, "text: is required", "VALIDATION_FAILED", 400)
		return
	}

	if _, err := db.Exec("UPDATE part_notes SET text = ? WHERE id = ?", req.Text, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	logAudit(r, "edit_note", AuditCategoryPart, partID, "Note edited")
	jsonResp(w, map[string]string{"status": "ok"})
}

func handleDeleteNote(w http.ResponseWriter, r *http.Request, idStr string) {
	id, partID, ok := noteForUpdate(w, r, idStr)
	if !ok {
		return
	}
	if _, err := db.Exec("DELETE FROM part_notes WHERE id = ?", id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	logAudit(r, "delete_note", AuditCategoryPart, partID, "Note deleted")
	jsonResp(w, map[string]string{"status": "deleted"})
}
