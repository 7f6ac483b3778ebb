package main

import (
	"encoding/json"
	"net/http"
	"time"

	"fabtrack/internal/auth"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Permissions int    `json:"permissions"`
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}

	var id, active, perms int
	var passwordHash, displayName, roleName string
	err := db.QueryRow(`SELECT u.id, u.password_hash, u.display_name, u.active, r.name, r.permissions
		FROM users u JOIN roles r ON u.role_id = r.id WHERE u.username = ?`, req.Username).
		Scan(&id, &passwordHash, &displayName, &active, &roleName, &perms)
	if err != nil {
		jsonErrCode(w, "Invalid username or password", "UNAUTHORIZED", 401)
		return
	}
	if !auth.CheckPassword(passwordHash, req.Password) {
		jsonErrCode(w, "Invalid username or password", "UNAUTHORIZED", 401)
		return
	}
	if active == 0 {
		jsonErrCode(w, "Account deactivated", "FORBIDDEN", 403)
		return
	}

	// Clean expired sessions
	db.Exec("DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP")

	// Create session with retry on token collision
	var token string
	expires := time.Now().Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		token = auth.GenerateToken()
		_, err = db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
			token, id, expires.UTC().Format(sqliteTimeFormat))
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		jsonErr(w, "Failed to create session", 500)
		return
	}

	db.Exec("UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?", id)
	logAuditAs(id, req.Username, "login", AuditCategoryAuth, "", "User "+req.Username+" logged in")

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})

	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": UserResponse{ID: id, Username: req.Username, DisplayName: displayName, Role: roleName, Permissions: perms},
	})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		// Resolve the user before the session row disappears.
		userID, username := getUserContext(r)
		db.Exec("DELETE FROM sessions WHERE token = ?", cookie.Value)
		if userID != 0 {
			logAuditAs(userID, username, "logout", AuditCategoryAuth, "", "User "+username+" logged out")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		unauthorized(w)
		return
	}

	var id, perms int
	var username, displayName, roleName string
	err = db.QueryRow(`SELECT u.id, u.username, u.display_name, r.name, r.permissions
		FROM sessions s JOIN users u ON s.user_id = u.id JOIN roles r ON u.role_id = r.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&id, &username, &displayName, &roleName, &perms)
	if err != nil {
		unauthorized(w)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"user": UserResponse{ID: id, Username: username, DisplayName: displayName, Role: roleName, Permissions: perms},
	})
}
