package main

import (
	"bytes"
	"image/png"
	"net/http/httptest"
	"testing"
)

func TestPartQR(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	createTestPart(t, db, "P-1", 5, nil)

	w := httptest.NewRecorder()
	handlePartQR(w, authedRequest("GET", "/api/v1/parts/P-1/qr?size=128", nil, token), "P-1")
	assertStatus(t, w, 200)
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("Expected 128px image, got %d", img.Bounds().Dx())
	}

	// Out-of-range size falls back to the default.
	w = httptest.NewRecorder()
	handlePartQR(w, authedRequest("GET", "/api/v1/parts/P-1/qr?size=9999", nil, token), "P-1")
	assertStatus(t, w, 200)
	img, err = png.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	if img.Bounds().Dx() != 256 {
		t.Errorf("Expected default 256px image, got %d", img.Bounds().Dx())
	}

	w = httptest.NewRecorder()
	handlePartQR(w, authedRequest("GET", "/api/v1/parts/MISSING/qr", nil, token), "MISSING")
	assertStatus(t, w, 404)
	assertErrorCode(t, w, "NOT_FOUND")
}
