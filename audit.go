package main

import (
	"net/http"

	"fabtrack/internal/audit"
)

// Audit categories re-exported for handlers.
const (
	AuditCategoryPart       = audit.CategoryPart
	AuditCategoryManagement = audit.CategoryManagement
	AuditCategoryAuth       = audit.CategoryAuth
)

type AuditEntry = audit.Entry
type AuditFilter = audit.Filter

// logAudit writes one audit entry attributed to the request's user.
func logAudit(r *http.Request, action, category, partID, details string) {
	userID, username := audit.GetUserContext(db, r, sessionCookieName)
	audit.Log(db, userID, username, action, category, partID, details)
}

// logAuditAs writes one audit entry for a known user, used where the
// request carries no session yet (login).
func logAuditAs(userID int, username, action, category, partID, details string) {
	audit.Log(db, userID, username, action, category, partID, details)
}

func getUserContext(r *http.Request) (int, string) {
	return audit.GetUserContext(db, r, sessionCookieName)
}

func queryAudit(f AuditFilter) ([]AuditEntry, int, error) {
	return audit.Query(db, f)
}
