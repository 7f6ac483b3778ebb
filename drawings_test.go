package main

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func uploadRequest(t *testing.T, path, filename string, content []byte, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := authedRequest("PUT", path, buf.Bytes(), token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadDrawing(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()
	oldDir := drawingsDir
	drawingsDir = t.TempDir()
	defer func() { drawingsDir = oldDir }()

	token := loginOperator(t, db, "op1")
	createTestPart(t, db, "P-1", 5, nil)

	w := httptest.NewRecorder()
	handleUploadDrawing(w, uploadRequest(t, "/api/v1/parts/P-1/drawing", "bracket.pdf",
		[]byte("%PDF-1.4 fake"), token), "P-1")
	assertStatus(t, w, 200)

	data := decodeAPIResponse(t, w).Data.(map[string]interface{})
	stored := data["drawing_filename"].(string)
	if filepath.Ext(stored) != ".pdf" {
		t.Errorf("Expected stored name to keep the extension, got %q", stored)
	}
	if _, err := os.Stat(filepath.Join(drawingsDir, stored)); err != nil {
		t.Errorf("Stored file missing: %v", err)
	}

	var dbName string
	db.QueryRow("SELECT drawing_filename FROM parts WHERE part_id = 'P-1'").Scan(&dbName)
	if dbName != stored {
		t.Errorf("DB filename %q does not match stored %q", dbName, stored)
	}

	// Replacing the drawing removes the previous file.
	w = httptest.NewRecorder()
	handleUploadDrawing(w, uploadRequest(t, "/api/v1/parts/P-1/drawing", "bracket-v2.pdf",
		[]byte("%PDF-1.4 v2"), token), "P-1")
	assertStatus(t, w, 200)
	if _, err := os.Stat(filepath.Join(drawingsDir, stored)); !os.IsNotExist(err) {
		t.Errorf("Expected old drawing removed, stat err = %v", err)
	}
}

func TestUploadDrawingRejections(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()
	oldDir := drawingsDir
	drawingsDir = t.TempDir()
	defer func() { drawingsDir = oldDir }()

	token := loginOperator(t, db, "op1")
	createTestPart(t, db, "P-1", 5, nil)

	w := httptest.NewRecorder()
	handleUploadDrawing(w, uploadRequest(t, "/api/v1/parts/P-1/drawing", "script.exe",
		[]byte("MZ"), token), "P-1")
	assertStatus(t, w, 400)
	assertErrorCode(t, w, "VALIDATION_FAILED")

	w = httptest.NewRecorder()
	handleUploadDrawing(w, uploadRequest(t, "/api/v1/parts/MISSING/drawing", "a.pdf",
		[]byte("x"), token), "MISSING")
	assertStatus(t, w, 404)
	assertErrorCode(t, w, "NOT_FOUND")

	entries, _ := os.ReadDir(drawingsDir)
	if len(entries) != 0 {
		t.Errorf("Expected no stored files after rejections, found %d", len(entries))
	}
}

func TestServeDrawing(t *testing.T) {
	oldDir := drawingsDir
	drawingsDir = t.TempDir()
	defer func() { drawingsDir = oldDir }()

	os.WriteFile(filepath.Join(drawingsDir, "abc123.pdf"), []byte("%PDF-1.4 data"), 0644)

	w := httptest.NewRecorder()
	handleServeDrawing(w, httptest.NewRequest("GET", "/files/abc123.pdf", nil), "abc123.pdf")
	assertStatus(t, w, 200)
	if !bytes.Contains(w.Body.Bytes(), []byte("%PDF-1.4")) {
		t.Error("Expected file contents served")
	}

	// Names that sanitize differently are treated as traversal attempts.
	w = httptest.NewRecorder()
	handleServeDrawing(w, httptest.NewRequest("GET", "/files/x", nil), "../secret.pdf")
	assertStatus(t, w, 404)

	w = httptest.NewRecorder()
	handleServeDrawing(w, httptest.NewRequest("GET", "/files/nope.pdf", nil), "nope.pdf")
	assertStatus(t, w, 404)
}
