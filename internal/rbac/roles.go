package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleAdmin may do everything, including issuing operator tokens.
	RoleAdmin = "admin"
	// RoleSupervisor runs campaigns: lifecycle control, leads, scripts, ad hoc calls, voids.
	RoleSupervisor = "supervisor"
	// RoleAnalyst reads rollups and call history.
	RoleAnalyst = "analyst"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func Valid(role string) bool {
	switch role {
	case RoleAdmin, RoleSupervisor, RoleAnalyst:
		return true
	default:
		return false
	}
}
