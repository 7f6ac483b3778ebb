package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

const sessionCookieName = "fabtrack_session"

type contextKey string

const (
	ctxUserID   contextKey = "userID"
	ctxUsername contextKey = "username"
	ctxPerms    contextKey = "perms"
)

func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Exempt paths
		if path == "/auth/login" ||
			path == "/auth/logout" ||
			path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			unauthorized(w)
			return
		}

		var userID, perms, active int
		var username string
		err = db.QueryRow(`SELECT s.user_id, u.username, r.permissions, u.active
			FROM sessions s JOIN users u ON s.user_id = u.id JOIN roles r ON u.role_id = r.id
			WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
			Scan(&userID, &username, &perms, &active)
		if err != nil {
			unauthorized(w)
			return
		}
		if active == 0 {
			forbidden(w, "Account deactivated")
			return
		}

		// Sliding window: extend session expiry on each authenticated request
		// Sessions are stored in UTC to match CURRENT_TIMESTAMP.
		newExpiry := time.Now().Add(24 * time.Hour)
		db.Exec("UPDATE sessions SET expires_at = ? WHERE token = ?",
			newExpiry.UTC().Format(sqliteTimeFormat), cookie.Value)

		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    cookie.Value,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Expires:  newExpiry,
		})

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxUsername, username)
		ctx = context.WithValue(ctx, ctxPerms, perms)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(401)
	json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized", "code": "UNAUTHORIZED"})
}

func forbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(403)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "FORBIDDEN"})
}

// requiredPermission maps a mutating API call to the flag it needs.
// GET requests are open to any authenticated user except the audit log
// and reports, which have their own view flags.
func requiredPermission(method, apiPath string) int {
	seg := strings.SplitN(apiPath, "/", 2)[0]

	if method == "GET" {
		switch seg {
		case "audit":
			return PermViewAuditLog
		case "reports", "export":
			return PermViewReports
		case "users", "roles":
			return PermManageUsers
		}
		if strings.HasSuffix(apiPath, "/qr") {
			return PermGenerateQR
		}
		return 0
	}

	switch seg {
	case "stages":
		return PermManageStages
	case "routes":
		return PermManageRoutes
	case "users", "roles":
		return PermManageUsers
	case "import":
		return PermAddParts
	case "parts":
		switch method {
		case "POST":
			if seg2(apiPath) == "bulk-delete" {
				return PermDeleteParts
			}
			return PermAddParts
		case "PUT":
			return PermEditParts
		case "DELETE":
			return PermDeleteParts
		}
	case "progress", "notes":
		return PermEditParts
	}
	return 0
}

func seg2(apiPath string) string {
	parts := strings.Split(apiPath, "/")
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}

// requirePerms enforces the permission map on /api/v1/ routes.
func requirePerms(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if !strings.HasPrefix(path, "/api/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		perms, _ := r.Context().Value(ctxPerms).(int)
		apiPath := strings.TrimPrefix(path, "/api/v1/")
		apiPath = strings.TrimSuffix(apiPath, "/")

		if flag := requiredPermission(r.Method, apiPath); flag != 0 && !hasPermission(perms, flag) {
			forbidden(w, "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}
