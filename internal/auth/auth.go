// Package auth holds the permission bitmask, password hashing and
// session token primitives.
package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Permission flags. A role's permission mask is the OR of its flags.
const (
	PermAddParts     = 1
	PermEditParts    = 2
	PermDeleteParts  = 4
	PermGenerateQR   = 8
	PermViewAuditLog = 16
	PermManageStages = 32
	PermManageRoutes = 64
	PermViewReports  = 128
	PermManageUsers  = 256
	PermAdmin        = 512
)

// Seeded role masks. Operator is the default role for new users.
const (
	OperatorMask = PermAddParts | PermEditParts | PermGenerateQR
	ManagerMask  = OperatorMask | PermDeleteParts | PermViewAuditLog |
		PermManageStages | PermManageRoutes | PermViewReports
	AdminMask = ManagerMask | PermManageUsers | PermAdmin
)

// HasPermission reports whether the mask grants the flag. Admin grants
// everything.
func HasPermission(mask, flag int) bool {
	if mask&PermAdmin != 0 {
		return true
	}
	return mask&flag == flag
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateToken returns a 64-char random hex session token.
func GenerateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// UserPermissions loads the permission mask of the session's user, or 0
// when the token is unknown or expired.
func UserPermissions(db *sql.DB, token string) int {
	var mask int
	err := db.QueryRow(`SELECT r.permissions FROM sessions s
		JOIN users u ON s.user_id = u.id
		JOIN roles r ON u.role_id = r.id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, token).Scan(&mask)
	if err != nil {
		return 0
	}
	return mask
}
