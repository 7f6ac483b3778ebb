package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fabtrack/internal/validation"
)

// loadPart reads one part with its responsible display name resolved.
func loadPart(q queryer, partID string) (*Part, error) {
	var p Part
	err := q.QueryRow(`SELECT p.part_id, p.product, p.name, p.material, p.size,
		COALESCE(p.drawing_filename, ''), p.current_status, p.quantity_total, p.quantity_completed,
		p.route_template_id, p.responsible_id, p.parent_id, p.created_at, p.last_update,
		COALESCE(u.display_name, '')
		FROM parts p LEFT JOIN users u ON p.responsible_id = u.id
		WHERE p.part_id = ?`, partID).
		Scan(&p.PartID, &p.Product, &p.Name, &p.Material, &p.Size,
			&p.DrawingFilename, &p.CurrentStatus, &p.QuantityTotal, &p.QuantityCompleted,
			&p.RouteTemplateID, &p.ResponsibleID, &p.ParentID, &p.CreatedAt, &p.LastUpdate,
			&p.Responsible)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func handleListParts(w http.ResponseWriter, r *http.Request) {
	product := r.URL.Query().Get("product")
	search := r.URL.Query().Get("search")
	rootsOnly := r.URL.Query().Get("roots") == "1"

	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	page := 1
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n > 0 {
		page = n
	}

	var conditions []string
	var args []interface{}
	if product != "" {
		conditions = append(conditions, "p.product = ?")
		args = append(args, product)
	}
	if search != "" {
		conditions = append(conditions, "(p.part_id LIKE ? OR p.name LIKE ?)")
		s := "%" + search + "%"
		args = append(args, s, s)
	}
	if rootsOnly {
		conditions = append(conditions, "p.parent_id IS NULL")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	db.QueryRow("SELECT COUNT(*) FROM parts p"+where, args...).Scan(&total)

	offset := (page - 1) * limit
	rows, err := db.Query(`SELECT p.part_id, p.product, p.name, p.material, p.size,
		COALESCE(p.drawing_filename, ''), p.current_status, p.quantity_total, p.quantity_completed,
		p.route_template_id, p.responsible_id, p.parent_id, p.created_at, p.last_update,
		COALESCE(u.display_name, '')
		FROM parts p LEFT JOIN users u ON p.responsible_id = u.id`+where+
		" ORDER BY p.created_at DESC, p.part_id LIMIT ? OFFSET ?", append(args, limit, offset)...)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	items := []Part{}
	for rows.Next() {
		var p Part
		rows.Scan(&p.PartID, &p.Product, &p.Name, &p.Material, &p.Size,
			&p.DrawingFilename, &p.CurrentStatus, &p.QuantityTotal, &p.QuantityCompleted,
			&p.RouteTemplateID, &p.ResponsibleID, &p.ParentID, &p.CreatedAt, &p.LastUpdate,
			&p.Responsible)
		items = append(items, p)
	}
	jsonRespMeta(w, items, total, page, limit)
}

func handleGetPart(w http.ResponseWriter, r *http.Request, partID string) {
	p, err := loadPart(db, partID)
	if err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}
	jsonResp(w, p)
}

type partRequest struct {
	PartID          string `json:"part_id"`
	Product         string `json:"product"`
	Name            string `json:"name"`
	Material        string `json:"material"`
	Size            string `json:"size"`
	QuantityTotal   int    `json:"quantity_total"`
	RouteTemplateID *int   `json:"route_template_id"`
	ResponsibleID   *int   `json:"responsible_id"`
}

func validatePartRequest(req *partRequest) *ValidationErrors {
	ve := &ValidationErrors{}
	validation.RequireField(ve, "part_id", req.PartID)
	validation.ValidatePartID(ve, "part_id", req.PartID)
	validation.RequireField(ve, "name", req.Name)
	validation.ValidateMaxLength(ve, "name", req.Name, 500)
	validation.ValidatePositiveInt(ve, "quantity_total", req.QuantityTotal)
	return ve
}

func handleCreatePart(w http.ResponseWriter, r *http.Request) {
	var req partRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.PartID = strings.TrimSpace(req.PartID)
	req.Name = strings.TrimSpace(req.Name)
	if req.QuantityTotal == 0 {
		req.QuantityTotal = 1
	}
	ve := validatePartRequest(&req)
	validation.RequireField(ve, "product", req.Product)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), "VALIDATION_FAILED", 400)
		return
	}

	if req.RouteTemplateID != nil {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM route_templates WHERE id = ?", *req.RouteTemplateID).Scan(&count)
		if count == 0 {
			jsonErrCode(w, "Route template not found", "NOT_FOUND", 404)
			return
		}
	}

	if req.Material == "" {
		req.Material = "Unspecified"
	}
	_, err := db.Exec(`INSERT INTO parts (part_id, product, name, material, size,
		quantity_total, route_template_id, responsible_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.PartID, req.Product, req.Name, req.Material, req.Size,
		req.QuantityTotal, req.RouteTemplateID, req.ResponsibleID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			jsonErrCode(w, "Part id already exists", "DUPLICATE_ID", 409)
			return
		}
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "create_part", AuditCategoryPart, req.PartID, "Created part "+req.PartID+" ("+req.Name+")")
	broadcast("part_created", "Part "+req.PartID+" created", req.PartID)

	p, err := loadPart(db, req.PartID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, p)
}

// handleCreateChildPart creates a part under a parent. Product and route
// template are copied from the parent at creation time; later parent
// changes do not propagate.
func handleCreateChildPart(w http.ResponseWriter, r *http.Request, parentID string) {
	var req partRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.PartID = strings.TrimSpace(req.PartID)
	req.Name = strings.TrimSpace(req.Name)
	if req.QuantityTotal == 0 {
		req.QuantityTotal = 1
	}
	if ve := validatePartRequest(&req); ve.HasErrors() {
		jsonErrCode(w, ve.Error(), "VALIDATION_FAILED", 400)
		return
	}

	var product string
	var routeTemplateID *int
	err := db.QueryRow("SELECT product, route_template_id FROM parts WHERE part_id = ?", parentID).
		Scan(&product, &routeTemplateID)
	if err != nil {
		jsonErrCode(w, "Parent part not found", "PARENT_NOT_FOUND", 404)
		return
	}
	if req.RouteTemplateID != nil {
		routeTemplateID = req.RouteTemplateID
	}

	if req.Material == "" {
		req.Material = "Unspecified"
	}
	_, err = db.Exec(`INSERT INTO parts (part_id, product, name, material, size,
		quantity_total, route_template_id, responsible_id, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.PartID, product, req.Name, req.Material, req.Size,
		req.QuantityTotal, routeTemplateID, req.ResponsibleID, parentID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			jsonErrCode(w, "Part id already exists", "DUPLICATE_ID", 409)
			return
		}
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "create_part", AuditCategoryPart, req.PartID,
		"Created part "+req.PartID+" under "+parentID)
	broadcast("part_created", "Part "+req.PartID+" created", req.PartID)

	p, err := loadPart(db, req.PartID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, p)
}

func handleUpdatePart(w http.ResponseWriter, r *http.Request, partID string) {
	before, err := loadPart(db, partID)
	if err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	var req struct {
		Name          *string `json:"name"`
		Material      *string `json:"material"`
		Size          *string `json:"size"`
		QuantityTotal *int    `json:"quantity_total"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}

	name := before.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			jsonErrCode(w, "name: is required", "VALIDATION_FAILED", 400)
			return
		}
	}
	material := before.Material
	if req.Material != nil {
		material = *req.Material
	}
	size := before.Size
	if req.Size != nil {
		size = *req.Size
	}
	qty := before.QuantityTotal
	if req.QuantityTotal != nil {
		qty = *req.QuantityTotal
		if qty < 1 {
			jsonErrCode(w, "quantity_total: must be a positive integer", "VALIDATION_FAILED", 400)
			return
		}
	}

	// Field-diff summary; a no-op edit writes no audit entry.
	var changes []string
	if name != before.Name {
		changes = append(changes, fmt.Sprintf("name: %q -> %q", before.Name, name))
	}
	if material != before.Material {
		changes = append(changes, fmt.Sprintf("material: %q -> %q", before.Material, material))
	}
	if size != before.Size {
		changes = append(changes, fmt.Sprintf("size: %q -> %q", before.Size, size))
	}
	if qty != before.QuantityTotal {
		changes = append(changes, fmt.Sprintf("quantity_total: %d -> %d", before.QuantityTotal, qty))
	}
	if len(changes) == 0 {
		jsonResp(w, map[string]string{"status": "unchanged"})
		return
	}

	_, err = db.Exec(`UPDATE parts SET name = ?, material = ?, size = ?, quantity_total = ?,
		last_update = CURRENT_TIMESTAMP WHERE part_id = ?`,
		name, material, size, qty, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "update_part", AuditCategoryPart, partID, strings.Join(changes, "; "))
	broadcast("part_updated", "Part "+partID+" updated", partID)

	p, err := loadPart(db, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	jsonResp(w, p)
}

// collectSubtreeIDs gathers a part and all descendants breadth-first, so
// arbitrarily deep assemblies never recurse.
func collectSubtreeIDs(q queryer, rootID string) ([]string, error) {
	ids := []string{rootID}
	frontier := []string{rootID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			rows, err := q.Query("SELECT part_id FROM parts WHERE parent_id = ?", id)
			if err != nil {
				return nil, err
			}
			for rows.Next() {
				var child string
				if err := rows.Scan(&child); err != nil {
					rows.Close()
					return nil, err
				}
				next = append(next, child)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return nil, err
			}
		}
		ids = append(ids, next...)
		frontier = next
	}
	return ids, nil
}

// deleteSubtreeTx removes the part, its descendants and all their
// history, notes and responsibility rows in the caller's transaction.
// Returns the ids deleted and their drawing filenames for cleanup after
// commit.
func deleteSubtreeTx(tx *sql.Tx, rootID string) ([]string, []string, error) {
	ids, err := collectSubtreeIDs(tx, rootID)
	if err != nil {
		return nil, nil, err
	}

	var drawings []string
	for _, id := range ids {
		var fn sql.NullString
		tx.QueryRow("SELECT drawing_filename FROM parts WHERE part_id = ?", id).Scan(&fn)
		if fn.Valid && fn.String != "" {
			drawings = append(drawings, fn.String)
		}
	}

	// Children before parents to satisfy the parent_id foreign key.
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		for _, stmt := range []string{
			"DELETE FROM status_history WHERE part_id = ?",
			"DELETE FROM responsible_history WHERE part_id = ?",
			"DELETE FROM part_notes WHERE part_id = ?",
			"DELETE FROM parts WHERE part_id = ?",
		} {
			if _, err := tx.Exec(stmt, id); err != nil {
				return nil, nil, err
			}
		}
	}
	return ids, drawings, nil
}

// removeDrawingFiles deletes drawing files after a committed deletion.
// Failures are logged only.
func removeDrawingFiles(filenames []string) {
	for _, fn := range filenames {
		if err := os.Remove(filepath.Join(drawingsDir, fn)); err != nil && !os.IsNotExist(err) {
			log.Printf("drawing cleanup: %v", err)
		}
	}
}

func handleDeletePart(w http.ResponseWriter, r *http.Request, partID string) {
	var exists int
	db.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", partID).Scan(&exists)
	if exists == 0 {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	ids, drawings, err := deleteSubtreeTx(tx, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	removeDrawingFiles(drawings)
	logAudit(r, "delete_part", AuditCategoryPart, partID,
		fmt.Sprintf("Deleted part %s and %d descendant(s)", partID, len(ids)-1))
	broadcast("part_deleted", "Part "+partID+" deleted", partID)
	jsonResp(w, map[string]interface{}{"status": "deleted", "deleted_count": len(ids)})
}

func handleBulkDeleteParts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PartIDs []string `json:"part_ids"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.PartIDs) == 0 {
		jsonErrCode(w, "part_ids is required", "VALIDATION_FAILED", 400)
		return
	}

	deleted := 0
	skipped := 0
	var allDrawings []string
	for _, partID := range req.PartIDs {
		var exists int
		db.QueryRow("SELECT COUNT(*) FROM parts WHERE part_id = ?", partID).Scan(&exists)
		if exists == 0 {
			// Already gone, possibly as a descendant of an earlier id.
			skipped++
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			jsonErr(w, err.Error(), 500)
			return
		}
		ids, drawings, err := deleteSubtreeTx(tx, partID)
		if err != nil {
			tx.Rollback()
			skipped++
			continue
		}
		if err := tx.Commit(); err != nil {
			skipped++
			continue
		}
		deleted += len(ids)
		allDrawings = append(allDrawings, drawings...)
	}

	removeDrawingFiles(allDrawings)
	logAudit(r, "bulk_delete", AuditCategoryPart, "",
		fmt.Sprintf("Bulk deleted %d part(s), %d skipped", deleted, skipped))
	broadcast("bulk_delete", fmt.Sprintf("%d part(s) deleted", deleted), "")
	jsonResp(w, map[string]int{"deleted": deleted, "skipped": skipped})
}

// handleReassignResponsible updates who is accountable for a part. A
// no-op assignment returns "unchanged" and writes nothing.
func handleReassignResponsible(w http.ResponseWriter, r *http.Request, partID string) {
	var req struct {
		UserID *int `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}

	p, err := loadPart(db, partID)
	if err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	unchanged := (p.ResponsibleID == nil && req.UserID == nil) ||
		(p.ResponsibleID != nil && req.UserID != nil && *p.ResponsibleID == *req.UserID)
	if unchanged {
		jsonResp(w, map[string]string{"status": "unchanged"})
		return
	}

	newName := "unassigned"
	if req.UserID != nil {
		err := db.QueryRow("SELECT COALESCE(NULLIF(display_name, ''), username) FROM users WHERE id = ?", *req.UserID).
			Scan(&newName)
		if err != nil {
			jsonErrCode(w, "User not found", "NOT_FOUND", 404)
			return
		}
	}

	tx, err := db.Begin()
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE parts SET responsible_id = ?, last_update = CURRENT_TIMESTAMP
		WHERE part_id = ?`, req.UserID, partID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := tx.Exec("INSERT INTO responsible_history (part_id, user_id) VALUES (?, ?)",
		partID, req.UserID); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "reassign_responsible", AuditCategoryPart, partID,
		"Responsible for "+partID+" set to "+newName)
	broadcast("part_updated", "Part "+partID+" responsible changed", partID)
	jsonResp(w, map[string]string{"status": "changed"})
}

// handleChangePartRoute re-points the part at another template. Old
// ledger entries are kept as-is; statuses are computed against the new
// route only.
func handleChangePartRoute(w http.ResponseWriter, r *http.Request, partID string) {
	var req struct {
		RouteTemplateID *int `json:"route_template_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}

	p, err := loadPart(db, partID)
	if err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	unchanged := (p.RouteTemplateID == nil && req.RouteTemplateID == nil) ||
		(p.RouteTemplateID != nil && req.RouteTemplateID != nil && *p.RouteTemplateID == *req.RouteTemplateID)
	if unchanged {
		jsonResp(w, map[string]string{"status": "unchanged"})
		return
	}

	routeName := "none"
	if req.RouteTemplateID != nil {
		err := db.QueryRow("SELECT name FROM route_templates WHERE id = ?", *req.RouteTemplateID).
			Scan(&routeName)
		if err != nil {
			jsonErrCode(w, "Route template not found", "NOT_FOUND", 404)
			return
		}
	}

	_, err = db.Exec(`UPDATE parts SET route_template_id = ?, last_update = CURRENT_TIMESTAMP
		WHERE part_id = ?`, req.RouteTemplateID, partID)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "change_route", AuditCategoryPart, partID,
		"Route for "+partID+" set to "+routeName)
	broadcast("part_updated", "Part "+partID+" route changed", partID)
	jsonResp(w, map[string]string{"status": "changed"})
}
