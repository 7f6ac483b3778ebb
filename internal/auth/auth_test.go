package auth

import "testing"

func TestHasPermission(t *testing.T) {
	if !HasPermission(OperatorMask, PermAddParts) {
		t.Error("Operator should be able to add parts")
	}
	if HasPermission(OperatorMask, PermDeleteParts) {
		t.Error("Operator should not be able to delete parts")
	}
	if !HasPermission(ManagerMask, PermManageRoutes) {
		t.Error("Manager should be able to manage routes")
	}
	if HasPermission(ManagerMask, PermManageUsers) {
		t.Error("Manager should not be able to manage users")
	}
}

func TestAdminImpliesEverything(t *testing.T) {
	flags := []int{
		PermAddParts, PermEditParts, PermDeleteParts, PermGenerateQR,
		PermViewAuditLog, PermManageStages, PermManageRoutes,
		PermViewReports, PermManageUsers,
	}
	for _, f := range flags {
		if !HasPermission(PermAdmin, f) {
			t.Errorf("Admin mask should grant flag %d", f)
		}
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "s3cret-password") {
		t.Error("Correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("Wrong password accepted")
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	a := GenerateToken()
	b := GenerateToken()
	if len(a) != 64 {
		t.Errorf("Expected 64-char token, got %d", len(a))
	}
	if a == b {
		t.Error("Tokens should be unique")
	}
}
