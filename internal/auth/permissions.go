package auth

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermOutputRead    Permission = "output:read"
	PermOutputOperate Permission = "output:operate"
	PermDiagnostics   Permission = "diagnostics:read"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermOutputRead,
	},
	RoleOperator: {
		PermOutputRead,
		PermOutputOperate,
	},
	RoleAdmin: {
		PermOutputRead,
		PermOutputOperate,
		PermDiagnostics,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
