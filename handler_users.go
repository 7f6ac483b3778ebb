package main

import (
	"net/http"
	"strconv"
	"strings"

	"fabtrack/internal/auth"
	"fabtrack/internal/validation"
)

func handleListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query(`SELECT u.id, u.username, COALESCE(u.display_name, ''),
		u.role_id, r.name, u.active, COALESCE(u.created_at, ''), COALESCE(u.last_login, '')
		FROM users u JOIN roles r ON u.role_id = r.id ORDER BY u.username`)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		var active int
		rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.RoleID, &u.RoleName,
			&active, &u.CreatedAt, &u.LastLogin)
		u.Active = active == 1
		users = append(users, u)
	}
	jsonResp(w, users)
}

func handleListRoles(w http.ResponseWriter, r *http.Request) {
	rows, err := db.Query("SELECT id, name, is_default, permissions FROM roles ORDER BY id")
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		var isDefault int
		rows.Scan(&role.ID, &role.Name, &isDefault, &role.Permissions)
		role.IsDefault = isDefault == 1
		roles = append(roles, role)
	}
	jsonResp(w, roles)
}

func handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
		RoleID      *int   `json:"role_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	ve := &ValidationErrors{}
	validation.RequireField(ve, "username", req.Username)
	if len(req.Password) < 8 {
		ve.Add("password", "must be at least 8 characters")
	}
	if ve.HasErrors() {
		jsonErrCode(w, ve.Error(), "VALIDATION_FAILED", 400)
		return
	}

	roleID := 0
	if req.RoleID != nil {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM roles WHERE id = ?", *req.RoleID).Scan(&count)
		if count == 0 {
			jsonErrCode(w, "Role not found", "NOT_FOUND", 404)
			return
		}
		roleID = *req.RoleID
	} else {
		id, err := defaultRoleID()
		if err != nil {
			jsonErr(w, "No default role configured", 500)
			return
		}
		roleID = id
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	res, err := db.Exec(`INSERT INTO users (username, password_hash, display_name, role_id)
		VALUES (?, ?, ?, ?)`, req.Username, hash, req.DisplayName, roleID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			jsonErrCode(w, "Username already exists", "DUPLICATE_NAME", 409)
			return
		}
		jsonErr(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()

	logAudit(r, "create_user", AuditCategoryAuth, "", "Created user "+req.Username)
	jsonResp(w, map[string]interface{}{"id": id, "username": req.Username})
}

func handleUpdateUser(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid user id", "VALIDATION_FAILED", 400)
		return
	}

	var username string
	var curRoleID, curActive int
	var curDisplay string
	err = db.QueryRow("SELECT username, COALESCE(display_name, ''), role_id, active FROM users WHERE id = ?", id).
		Scan(&username, &curDisplay, &curRoleID, &curActive)
	if err != nil {
		jsonErrCode(w, "User not found", "NOT_FOUND", 404)
		return
	}

	var req struct {
		DisplayName *string `json:"display_name"`
		RoleID      *int    `json:"role_id"`
		Active      *bool   `json:"active"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonErrCode(w, "Invalid request body", "VALIDATION_FAILED", 400)
		return
	}

	display := curDisplay
	if req.DisplayName != nil {
		display = *req.DisplayName
	}
	roleID := curRoleID
	if req.RoleID != nil {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM roles WHERE id = ?", *req.RoleID).Scan(&count)
		if count == 0 {
			jsonErrCode(w, "Role not found", "NOT_FOUND", 404)
			return
		}
		roleID = *req.RoleID
	}
	active := curActive
	if req.Active != nil {
		active = 0
		if *req.Active {
			active = 1
		}
	}

	_, err = db.Exec("UPDATE users SET display_name = ?, role_id = ?, active = ? WHERE id = ?",
		display, roleID, active, id)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}

	logAudit(r, "update_user", AuditCategoryAuth, "", "Updated user "+username)
	jsonResp(w, map[string]string{"status": "ok"})
}

func handleResetPassword(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.Atoi(idStr)
	if err != nil {
		jsonErrCode(w, "Invalid user id", "VALIDATION_FAILED", 400)
		return
	}

	var username string
	if err := db.QueryRow("SELECT username FROM users WHERE id = ?", id).Scan(&username); err != nil {
		jsonErrCode(w, "User not found", "NOT_FOUND", 404)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil || len(req.Password) < 8 {
		jsonErrCode(w, "password: must be at least 8 characters", "VALIDATION_FAILED", 400)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	if _, err := db.Exec("UPDATE users SET password_hash = ? WHERE id = ?", hash, id); err != nil {
		jsonErr(w, err.Error(), 500)
		return
	}
	// Force re-login everywhere
	db.Exec("DELETE FROM sessions WHERE user_id = ?", id)

	logAudit(r, "reset_password", AuditCategoryAuth, "", "Reset password for "+username)
	jsonResp(w, map[string]string{"status": "ok"})
}
