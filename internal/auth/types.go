package auth

import "errors"

// Role is an authorisation tier.
type Role string

const (
	// RoleOperator can inspect devices and open or close them.
	RoleOperator Role = "operator"

	// RoleAdmin additionally creates and removes devices, issues control
	// commands and reads the audit trail. Control dispatch treats admin
	// callers as privileged.
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleOperator || r == RoleAdmin
}

// Privileged reports whether r may issue control commands.
func (r Role) Privileged() bool {
	return HasPermission(r, PermControl)
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrNoKeys             = errors.New("no access keys configured")
)
