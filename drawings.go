package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"fabtrack/internal/validation"
)

// handleUploadDrawing stores an uploaded drawing under a generated name
// and attaches it to the part, removing any previous file after commit.
func handleUploadDrawing(w http.ResponseWriter, r *http.Request, partID string) {
	var oldFilename string
	err := db.QueryRow("SELECT COALESCE(drawing_filename, '') FROM parts WHERE part_id = ?", partID).
		Scan(&oldFilename)
	if err != nil {
		jsonErrCode(w, "Part not found", "NOT_FOUND", 404)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonErrCode(w, "Invalid multipart form", "VALIDATION_FAILED", 400)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonErrCode(w, "file field is required", "VALIDATION_FAILED", 400)
		return
	}
	defer file.Close()

	ve := &ValidationErrors{}
	validation.ValidateDrawingUpload(ve, header.Filename, header.Size)
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), "VALIDATION_FAILED", 400)
		return
	}

	ext := strings.ToLower(filepath.Ext(validation.SanitizeFilename(header.Filename)))
	filename := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(drawingsDir, filename))
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(filepath.Join(drawingsDir, filename))
		jsonErr(w, err.Error(), 500)
		return
	}
	dst.Close()

	if _, err := db.Exec(`UPDATE parts SET drawing_filename = ?, last_update = CURRENT_TIMESTAMP
		WHERE part_id = ?`, filename, partID); err != nil {
		os.Remove(filepath.Join(drawingsDir, filename))
		jsonErr(w, err.Error(), 500)
		return
	}

	// Old file cleanup is best effort only.
	if oldFilename != "" {
		if err := os.Remove(filepath.Join(drawingsDir, oldFilename)); err != nil && !os.IsNotExist(err) {
			log.Printf("drawing cleanup: %v", err)
		}
	}

	logAudit(r, "upload_drawing", AuditCategoryPart, partID, "Uploaded drawing "+header.Filename)
	broadcast("part_updated", "Drawing uploaded for part "+partID, partID)
	jsonResp(w, map[string]string{"drawing_filename": filename})
}

// handleServeDrawing serves a stored drawing file by its generated name.
func handleServeDrawing(w http.ResponseWriter, r *http.Request, filename string) {
	clean := validation.SanitizeFilename(filename)
	if clean != filename {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(drawingsDir, clean)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}
