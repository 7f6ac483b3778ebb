package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"fabtrack/internal/auth"
)

// setupTestDB creates an in-memory SQLite database with the full schema
// and seeded roles. Tests swap it into the global db:
//
//	oldDB := db
//	db = setupTestDB(t)
//	defer func() { db.Close(); db = oldDB }()
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	testDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	// One connection: every handle sees the same in-memory database.
	testDB.SetMaxOpenConns(1)

	if _, err := testDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	old := db
	db = testDB
	if err := runMigrations(); err != nil {
		db = old
		t.Fatalf("Failed to run migrations: %v", err)
	}
	seedTestRoles(t, testDB)
	db = old
	return testDB
}

// seedTestRoles inserts the built-in roles without the bcrypt cost of a
// full seedDB.
func seedTestRoles(t *testing.T, testDB *sql.DB) {
	t.Helper()
	roles := []struct {
		name      string
		isDefault int
		mask      int
	}{
		{"Operator", 1, auth.OperatorMask},
		{"Manager", 0, auth.ManagerMask},
		{"Administrator", 0, auth.AdminMask},
	}
	for _, r := range roles {
		if _, err := testDB.Exec("INSERT INTO roles (name, is_default, permissions) VALUES (?, ?, ?)",
			r.name, r.isDefault, r.mask); err != nil {
			t.Fatalf("Failed to seed role %s: %v", r.name, err)
		}
	}
}

// createTestUser creates a user with the given role name.
func createTestUser(t *testing.T, testDB *sql.DB, username, password, roleName string, active bool) int {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	var roleID int
	if err := testDB.QueryRow("SELECT id FROM roles WHERE name = ?", roleName).Scan(&roleID); err != nil {
		t.Fatalf("Unknown role %s: %v", roleName, err)
	}

	activeInt := 0
	if active {
		activeInt = 1
	}
	result, err := testDB.Exec(
		"INSERT INTO users (username, password_hash, display_name, role_id, active) VALUES (?, ?, ?, ?, ?)",
		username, hash, username+" Display", roleID, activeInt,
	)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	id, _ := result.LastInsertId()
	return int(id)
}

// createTestSession creates a session token for the given user.
func createTestSession(t *testing.T, testDB *sql.DB, userID int) string {
	t.Helper()
	token := fmt.Sprintf("test-session-token-%d-%s", userID, time.Now().Format("20060102150405.000000"))
	_, err := testDB.Exec(
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, time.Now().Add(24*time.Hour).UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}
	return token
}

// loginAdmin creates an Administrator and returns their session token.
func loginAdmin(t *testing.T, testDB *sql.DB) string {
	t.Helper()
	id := createTestUser(t, testDB, "admin", "password", "Administrator", true)
	return createTestSession(t, testDB, id)
}

// loginOperator creates an Operator and returns their session token.
func loginOperator(t *testing.T, testDB *sql.DB, username string) string {
	t.Helper()
	id := createTestUser(t, testDB, username, "password", "Operator", true)
	return createTestSession(t, testDB, id)
}

// authedRequest builds a request carrying a session cookie.
func authedRequest(method, path string, body []byte, sessionToken string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if sessionToken != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sessionToken})
	}
	return req
}

// authedJSONRequest builds an authenticated request with a JSON body.
func authedJSONRequest(method, path string, body interface{}, sessionToken string) *http.Request {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := authedRequest(method, path, bodyBytes, sessionToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withPerms attaches a permission mask to the request context, standing
// in for the middleware in direct handler tests.
func withPerms(req *http.Request, perms int) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), ctxPerms, perms))
}

// createTestRoute inserts stages (reusing existing names) and a template
// holding them in order, returning the template id.
func createTestRoute(t *testing.T, testDB *sql.DB, name string, stageNames ...string) int {
	t.Helper()
	res, err := testDB.Exec("INSERT INTO route_templates (name) VALUES (?)", name)
	if err != nil {
		t.Fatalf("Failed to create route template: %v", err)
	}
	templateID64, _ := res.LastInsertId()
	templateID := int(templateID64)

	for ord, stageName := range stageNames {
		var stageID int
		err := testDB.QueryRow("SELECT id FROM stages WHERE name = ?", stageName).Scan(&stageID)
		if err == sql.ErrNoRows {
			r, err := testDB.Exec("INSERT INTO stages (name) VALUES (?)", stageName)
			if err != nil {
				t.Fatalf("Failed to create stage %s: %v", stageName, err)
			}
			id64, _ := r.LastInsertId()
			stageID = int(id64)
		} else if err != nil {
			t.Fatalf("Failed to look up stage %s: %v", stageName, err)
		}
		if _, err := testDB.Exec("INSERT INTO route_stages (template_id, stage_id, ord) VALUES (?, ?, ?)",
			templateID, stageID, ord); err != nil {
			t.Fatalf("Failed to add route stage: %v", err)
		}
	}
	return templateID
}

// createTestPart inserts a part with the given target quantity and
// optional route template.
func createTestPart(t *testing.T, testDB *sql.DB, partID string, qty int, templateID *int) {
	t.Helper()
	_, err := testDB.Exec(`INSERT INTO parts (part_id, product, name, quantity_total, route_template_id)
		VALUES (?, 'Widget', ?, ?, ?)`, partID, "Part "+partID, qty, templateID)
	if err != nil {
		t.Fatalf("Failed to create test part: %v", err)
	}
}

// decodeAPIResponse decodes an APIResponse envelope.
func decodeAPIResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var response APIResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode API response: %v", err)
	}
	return response
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// assertErrorCode checks the machine-readable error code in the body.
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, expected string) {
	t.Helper()
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp["code"] != expected {
		t.Errorf("Expected error code %s, got %s (error: %s)", expected, resp["code"], resp["error"])
	}
}
