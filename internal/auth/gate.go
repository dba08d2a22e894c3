package auth

import (
	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/role"
)

// RequireRoles checks a caller's role set against an operation's declared
// requirement. Requirements are OR-matched: holding any one of the required
// roles grants the operation.
func RequireRoles(roles []string, required ...role.Role) error {
	if len(required) == 0 {
		return nil
	}
	if role.ContainsAny(roles, required...) {
		return nil
	}
	return apperr.E(apperr.Forbidden, "insufficient role")
}

// RequireClaims verifies token claims against a role requirement.
// Super admins carry the system tenant id and remain subject to role checks
// like everyone else.
func RequireClaims(claims *Claims, required ...role.Role) error {
	if claims == nil {
		return apperr.E(apperr.Forbidden, "authentication required")
	}
	return RequireRoles(claims.Roles, required...)
}

// IsSuperAdminClaims reports whether claims identify a platform super admin:
// the system tenant id plus the explicit flag. Super admins bypass tenant
// scoping on cross-tenant administrative endpoints.
func IsSuperAdminClaims(claims *Claims) bool {
	return claims != nil && claims.TenantID == model.SystemTenantID && claims.IsSuperAdmin
}
