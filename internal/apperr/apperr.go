// Package apperr defines the typed failure taxonomy shared by the auth,
// tenant, admin and bootstrap packages. Handlers map kinds onto HTTP
// statuses; services never leak raw storage errors for expected conditions.
package apperr

import "errors"

// Kind classifies a domain failure.
type Kind string

const (
	TenantNotFound     Kind = "tenant_not_found"
	TenantInactive     Kind = "tenant_inactive"
	InvalidCredentials Kind = "invalid_credentials"
	MustChangePassword Kind = "must_change_password"
	TokenExpired       Kind = "token_expired"
	InvalidToken       Kind = "invalid_token"
	TenantMismatch     Kind = "tenant_mismatch"
	DeviceRevoked      Kind = "device_revoked"
	SecurityViolation  Kind = "security_violation"
	Forbidden          Kind = "forbidden"
	PolicyViolation    Kind = "policy_violation"
	Conflict           Kind = "conflict"
	NotFound           Kind = "not_found"
	Gone               Kind = "gone"
)

// Error is a typed domain failure carrying a Kind and a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// E constructs an *Error.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the Kind from err, or "" when err carries no domain Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is a domain Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
