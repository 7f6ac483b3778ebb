package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLogin(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "alice", "correct-horse", "Manager", true)

	w := httptest.NewRecorder()
	handleLogin(w, authedJSONRequest("POST", "/auth/login",
		LoginRequest{Username: "alice", Password: "correct-horse"}, ""))
	assertStatus(t, w, 200)

	var resp struct {
		User UserResponse `json:"user"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.User.Username != "alice" || resp.User.Role != "Manager" {
		t.Errorf("Unexpected user payload: %+v", resp.User)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || len(cookie.Value) != 64 {
		t.Fatalf("Expected a 64-char session cookie, got %+v", cookie)
	}

	var sessions int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", cookie.Value).Scan(&sessions)
	if sessions != 1 {
		t.Errorf("Expected session row for token, got %d", sessions)
	}

	var audits int
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action = 'login' AND username = 'alice'").Scan(&audits)
	if audits != 1 {
		t.Errorf("Expected login audit attributed to alice, got %d", audits)
	}
}

func TestLoginRejections(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	createTestUser(t, db, "alice", "correct-horse", "Operator", true)
	createTestUser(t, db, "bob", "password", "Operator", false)

	w := httptest.NewRecorder()
	handleLogin(w, authedJSONRequest("POST", "/auth/login",
		LoginRequest{Username: "alice", Password: "wrong"}, ""))
	assertStatus(t, w, 401)
	assertErrorCode(t, w, "UNAUTHORIZED")

	w = httptest.NewRecorder()
	handleLogin(w, authedJSONRequest("POST", "/auth/login",
		LoginRequest{Username: "nobody", Password: "whatever"}, ""))
	assertStatus(t, w, 401)
	assertErrorCode(t, w, "UNAUTHORIZED")

	// Deactivated accounts fail even with the right password.
	w = httptest.NewRecorder()
	handleLogin(w, authedJSONRequest("POST", "/auth/login",
		LoginRequest{Username: "bob", Password: "password"}, ""))
	assertStatus(t, w, 403)
	assertErrorCode(t, w, "FORBIDDEN")
}

func TestLogout(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")

	w := httptest.NewRecorder()
	handleLogout(w, authedRequest("POST", "/auth/logout", nil, token))
	assertStatus(t, w, 200)

	var sessions int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", token).Scan(&sessions)
	if sessions != 0 {
		t.Errorf("Expected session removed, got %d", sessions)
	}
	var audits int
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action = 'logout' AND username = 'op1'").Scan(&audits)
	if audits != 1 {
		t.Errorf("Expected logout audit attributed to op1, got %d", audits)
	}
}

func TestMe(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginAdmin(t, db)

	w := httptest.NewRecorder()
	handleMe(w, authedRequest("GET", "/auth/me", nil, token))
	assertStatus(t, w, 200)

	var resp struct {
		User UserResponse `json:"user"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.User.Username != "admin" || resp.User.Role != "Administrator" {
		t.Errorf("Unexpected user payload: %+v", resp.User)
	}

	w = httptest.NewRecorder()
	handleMe(w, authedRequest("GET", "/auth/me", nil, ""))
	assertStatus(t, w, 401)
}

func TestRequireAuthSlidingExpiry(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")

	// Shrink the session to nearly expired.
	soon := time.Now().Add(time.Minute).UTC().Format(sqliteTimeFormat)
	db.Exec("UPDATE sessions SET expires_at = ? WHERE token = ?", soon, token)

	handler := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("GET", "/api/v1/parts", nil, token))
	assertStatus(t, w, 200)

	var expiresAt string
	db.QueryRow("SELECT expires_at FROM sessions WHERE token = ?", token).Scan(&expiresAt)
	parsed, err := time.ParseInLocation(sqliteTimeFormat, expiresAt, time.UTC)
	if err != nil {
		t.Fatalf("Bad expiry %q: %v", expiresAt, err)
	}
	if time.Until(parsed) < 23*time.Hour {
		t.Errorf("Expected expiry pushed out ~24h, got %s", expiresAt)
	}
}

func TestRequireAuthRejections(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	handler := requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	// No cookie.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("GET", "/api/v1/parts", nil, ""))
	assertStatus(t, w, 401)

	// Expired session.
	id := createTestUser(t, db, "op1", "password", "Operator", true)
	token := createTestSession(t, db, id)
	past := time.Now().Add(-time.Hour).UTC().Format(sqliteTimeFormat)
	db.Exec("UPDATE sessions SET expires_at = ? WHERE token = ?", past, token)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("GET", "/api/v1/parts", nil, token))
	assertStatus(t, w, 401)

	// Deactivated account with a live session.
	bobID := createTestUser(t, db, "bob", "password", "Operator", false)
	bobToken := createTestSession(t, db, bobID)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("GET", "/api/v1/parts", nil, bobToken))
	assertStatus(t, w, 403)
	assertErrorCode(t, w, "FORBIDDEN")

	// Health stays open.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, authedRequest("GET", "/api/v1/health", nil, ""))
	assertStatus(t, w, 200)
}

func TestRequiredPermission(t *testing.T) {
	cases := []struct {
		method, path string
		want         int
	}{
		{"GET", "parts", 0},
		{"GET", "parts/P-1/qr", PermGenerateQR},
		{"GET", "audit", PermViewAuditLog},
		{"GET", "export/parts", PermViewReports},
		{"GET", "users", PermManageUsers},
		{"POST", "parts", PermAddParts},
		{"POST", "parts/bulk-delete", PermDeleteParts},
		{"PUT", "parts/P-1", PermEditParts},
		{"DELETE", "parts/P-1", PermDeleteParts},
		{"POST", "progress", PermEditParts},
		{"DELETE", "progress/3", PermEditParts},
		{"POST", "notes", PermEditParts},
		{"POST", "stages", PermManageStages},
		{"PUT", "routes/2", PermManageRoutes},
		{"POST", "import", PermAddParts},
		{"PUT", "users/2/password", PermManageUsers},
	}
	for _, c := range cases {
		if got := requiredPermission(c.method, c.path); got != c.want {
			t.Errorf("%s %s: expected flag %d, got %d", c.method, c.path, c.want, got)
		}
	}
}
