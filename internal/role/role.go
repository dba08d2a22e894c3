// Package role defines the closed set of roles recognised by tenauth.
package role

// Role is one of the recognised role names carried in user records and
// token claims.
type Role string

const (
	SuperAdmin Role = "superadmin"
	Admin      Role = "admin"
	Manager    Role = "manager"
	User       Role = "user"
	Viewer     Role = "viewer"
)

// All lists every recognised role.
var All = []Role{SuperAdmin, Admin, Manager, User, Viewer}

// Valid reports whether r is a recognised role.
func Valid(r Role) bool {
	for _, known := range All {
		if r == known {
			return true
		}
	}
	return false
}

// ValidSet reports whether roles is non-empty and every entry is recognised.
func ValidSet(roles []string) bool {
	if len(roles) == 0 {
		return false
	}
	for _, r := range roles {
		if !Valid(Role(r)) {
			return false
		}
	}
	return true
}

// Contains reports whether roles includes r.
func Contains(roles []string, r Role) bool {
	for _, have := range roles {
		if Role(have) == r {
			return true
		}
	}
	return false
}

// ContainsAny reports whether roles includes at least one of required.
// Role requirements are OR-matched: holding any single required role grants
// the operation.
func ContainsAny(roles []string, required ...Role) bool {
	for _, want := range required {
		if Contains(roles, want) {
			return true
		}
	}
	return false
}
