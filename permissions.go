package main

import "fabtrack/internal/auth"

// Permission flag aliases for handlers and the middleware route map.
const (
	PermAddParts     = auth.PermAddParts
	PermEditParts    = auth.PermEditParts
	PermDeleteParts  = auth.PermDeleteParts
	PermGenerateQR   = auth.PermGenerateQR
	PermViewAuditLog = auth.PermViewAuditLog
	PermManageStages = auth.PermManageStages
	PermManageRoutes = auth.PermManageRoutes
	PermViewReports  = auth.PermViewReports
	PermManageUsers  = auth.PermManageUsers
	PermAdmin        = auth.PermAdmin
)

func hasPermission(mask, flag int) bool {
	return auth.HasPermission(mask, flag)
}
