package auth

import "errors"

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer can read output state and watch the WebSocket feed.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally switch, dim and refresh outputs.
	RoleOperator Role = "operator"

	// RoleAdmin has full access, including frame diagnostics.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
