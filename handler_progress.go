package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"fabtrack/internal/routing"
)

// partRouteStages returns the ordered stage names of the part's assigned
// route, or ok=false when no route is assigned.
func partRouteStages(q queryer, partID string) ([]string, bool, error) {
	var templateID sql.NullInt64
	err := q.QueryRow("SELECT route_template_id FROM parts WHERE part_id = ?", partID).Scan(&templateID)
	if err != nil {
		return nil, false, err
	}
	if !templateID.Valid {
		return nil, false, nil
	}
	names, err := routeStageNames(q, int(templateID.Int64))
	if err != nil {
		return nil, false, err
	}
	return names, true, nil
}

// handlePartStages returns the derived status of every stage on the
// part's route, in route order.
func handlePartStages(w http.ResponseWriter, r *http.Request, partID string) {
	var target int
	err := db.QueryRow("SELECT quantity_total FROM parts WHERE part_id = ?", partID).Scan(&target)
	if err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}
	stages, hasRoute, err := partRouteStages(db, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if !hasRoute {
		jsonErrCode(w, "Part has no assigned route", "NO_ROUTE_ASSIGNED", 409)
		return
	}
	done, err := doneByStageFor(db, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, routing.Resolve(stages, done, target))
}

// handleNextStage returns the first stage in route order whose recorded
// sum is below the target, or next=null when production is complete.
func handleNextStage(w http.ResponseWriter, r *http.Request, partID string) {
	var target int
	err := db.QueryRow("SELECT quantity_total FROM parts WHERE part_id = ?", partID).Scan(&target)
	if err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}
	stages, hasRoute, err := partRouteStages(db, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if !hasRoute {
		jsonErrCode(w, "Part has no assigned route", "NO_ROUTE_ASSIGNED", 409)
		return
	}
	done, err := doneByStageFor(db, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	next, ok := routing.NextStage(stages, done, target)
	if !ok {
		jsonResp(w, map[string]interface{}{"next": nil, "complete": true})
		return
	}
	jsonResp(w, map[string]interface{}{
		"next":      next,
		"complete":  false,
		"remaining": routing.Remaining(done, next, target),
	})
}

// handleRecordCompletion appends a ledger entry. The per-stage cumulative
// check runs after an UPDATE on the part row, which takes the write lock:
// two concurrent confirmations for the same part serialize there, so both
// can never pass the check when their combined quantity would exceed the
// target.
func handleRecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartID       string `json:"part_id"`
		Stage        string `json:"stage"`
		OperatorName string `json:"operator_name"`
		Quantity     int    `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.Stage = strings.TrimSpace(req.Stage)
	req.OperatorName = strings.TrimSpace(req.OperatorName)
	if req.PartID == "" || req.Stage == "" {
		jsonErrCode(w, "part_id and stage are required", "VALIDATION_FAILED", 400)
		return
	}
	if req.Quantity < 1 {
		jsonErrCode(w, "quantity: must be a positive integer", "VALIDATION_FAILED", 400)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	var target int
	if err := tx.QueryRow("SELECT quantity_total FROM parts WHERE part_id = ?", req.PartID).
		Scan(&target); err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	stages, hasRoute, err := partRouteStages(tx, req.PartID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if !hasRoute {
		jsonErrCode(w, "Part has no assigned route", "NO_ROUTE_ASSIGNED", 409)
		return
	}
	onRoute := false
	for _, s := range stages {
		if s == req.Stage {
			onRoute = true
			break
		}
	}
	if !onRoute {
		jsonErrCode(w, "Stage is not on the part's route", "VALIDATION_FAILED", 400)
		return
	}

	// Touch the part row first: acquires the write lock before the sum.
	if _, err := tx.Exec("UPDATE parts SET last_update = CURRENT_TIMESTAMP WHERE part_id = ?",
		req.PartID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	var doneAt int
	if err := tx.QueryRow(`SELECT COALESCE(SUM(quantity), 0) FROM status_history
		WHERE part_id = ? AND stage = ?`, req.PartID, req.Stage).Scan(&doneAt); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if doneAt+req.Quantity > target {
		jsonErrCode(w, fmt.Sprintf("Stage %s already has %d of %d recorded", req.Stage, doneAt, target),
			"OVER_COMPLETION", 409)
		return
	}

	res, err := tx.Exec(`INSERT INTO status_history (part_id, stage, operator_name, quantity)
		VALUES (?, ?, ?, ?)`, req.PartID, req.Stage, req.OperatorName, req.Quantity)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	entryID, _ := res.LastInsertId()

	if _, err := tx.Exec(`UPDATE parts SET quantity_completed = quantity_completed + ?,
		current_status = ? WHERE part_id = ?`, req.Quantity, req.Stage, req.PartID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "record_completion", AuditCategoryPart, req.PartID,
		fmt.Sprintf("Recorded %d at stage %s by %s", req.Quantity, req.Stage, req.OperatorName))
	broadcast("stage_completed",
		fmt.Sprintf("Part %s: %d recorded at %s", req.PartID, req.Quantity, req.Stage), req.PartID)

	jsonResp(w, LedgerEntry{
		ID:           int(entryID),
		PartID:       req.PartID,
		Stage:        req.Stage,
		OperatorName: req.OperatorName,
		Quantity:     req.Quantity,
	})
}

// handleCancelEntry deletes a ledger entry and restores the part's cached
// totals: quantity_completed drops by the entry's quantity (floored at
// zero) and current_status falls back to the most recent remaining entry,
// or "In stock" when none remain.
func handleCancelEntry(w http.ResponseWriter, r *http.Request, idStr string) {
	entryID, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid entry id", "VALIDATION_FAILED", 400)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	var partID, stage string
	var quantity int
	err = tx.QueryRow("SELECT part_id, stage, quantity FROM status_history WHERE id = ?", entryID).
		Scan(&partID, &stage, &quantity)
	if err != nil {
		jsonErrCode(w, "Ledger entry not found", "NOT_FOUND", 404)
		return
	}

	// Write lock before recomputing the fallback status.
	if _, err := tx.Exec("UPDATE parts SET last_update = CURRENT_TIMESTAMP WHERE part_id = ?",
		partID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := tx.Exec("DELETE FROM status_history WHERE id = ?", entryID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	status := "In stock"
	var lastStage sql.NullString
	tx.QueryRow(`SELECT stage FROM status_history WHERE part_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, partID).Scan(&lastStage)
	if lastStage.Valid {
		status = lastStage.String
	}

	if _, err := tx.Exec(`UPDATE parts SET quantity_completed = MAX(quantity_completed - ?, 0),
		current_status = ? WHERE part_id = ?`, quantity, status, partID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "cancel_completion", AuditCategoryPart, partID,
		fmt.Sprintf("Cancelled %d at stage %s", quantity, stage))
	broadcast("stage_cancelled",
		fmt.Sprintf("Part %s: entry at %s cancelled", partID, stage), partID)
	jsonResp(w, map[string]string{"status": "cancelled"})
}

// handlePartHistory merges ledger entries, audit entries, notes and
// responsibility changes into one timeline, newest first.
func handlePartHistory(w http.ResponseWriter, r *http.Request, partID string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", partID).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	events := []HistoryEvent{}

	rows, err := db.Query(`SELECT id, stage, operator_name, quantity, created_at
		FROM status_history WHERE part_id = ?`, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	for rows.Next() {
		var e HistoryEvent
		e.Type = "status"
		rows.Scan(&e.ID, &e.Stage, &e.Operator, &e.Quantity, &e.Timestamp)
		events = append(events, e)
	}
	rows.Close()

	rows, err = db.Query(`SELECT id, username, action, COALESCE(details, ''), created_at
		FROM audit_log WHERE part_id = ?`, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	for rows.Next() {
		var e HistoryEvent
		e.Type = "audit"
		rows.Scan(&e.ID, &e.Username, &e.Action, &e.Details, &e.Timestamp)
		events = append(events, e)
	}
	rows.Close()

	rows, err = db.Query(`SELECT n.id, n.text, COALESCE(NULLIF(u.display_name, ''), u.username, ''),
		COALESCE(s.name, ''), n.created_at
		FROM part_notes n
		LEFT JOIN users u ON n.user_id = u.id
		LEFT JOIN stages s ON n.stage_id = s.id
		WHERE n.part_id = ?`, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	for rows.Next() {
		var e HistoryEvent
		e.Type = "note"
		rows.Scan(&e.ID, &e.Text, &e.Username, &e.Stage, &e.Timestamp)
		events = append(events, e)
	}
	rows.Close()

	rows, err = db.Query(`SELECT h.id, h.user_id, COALESCE(NULLIF(u.display_name, ''), u.username, ''), h.created_at
		FROM responsible_history h LEFT JOIN users u ON h.user_id = u.id
		WHERE h.part_id = ?`, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	for rows.Next() {
		var e HistoryEvent
		e.Type = "responsible"
		rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Timestamp)
		events = append(events, e)
	}
	rows.Close()

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp > events[j].Timestamp
		}
		return events[i].ID > events[j].ID
	})
	jsonResp(w, events)
}
