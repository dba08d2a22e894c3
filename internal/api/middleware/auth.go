// Package middleware provides HTTP middleware for tenauth: tenant
// resolution and JWT authentication.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/d9705996/tenauth/internal/api/jsonapi"
	"github.com/d9705996/tenauth/internal/auth"
	"github.com/d9705996/tenauth/internal/role"
	"github.com/d9705996/tenauth/internal/tenant"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// ResolveTenant extracts the tenant hint (header > query > host subdomain),
// resolves it through the resolver and attaches the tenant context to the
// request. Exempt paths (tenant discovery, bootstrap, health, metrics) pass
// through unresolved. Resolution fails closed: an unknown or inactive tenant
// never falls back to another one.
func ResolveTenant(resolver *tenant.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tenant.Exempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tc, err := resolver.Resolve(r.Context(), tenant.HintFromRequest(r))
			if err != nil {
				var appErr *apperr.Error
				if errors.As(err, &appErr) {
					switch appErr.Kind {
					case apperr.TenantNotFound:
						jsonapi.RenderError(w, http.StatusBadRequest,
							string(appErr.Kind), "Bad Request", appErr.Message)
					default:
						jsonapi.RenderError(w, http.StatusForbidden,
							string(appErr.Kind), "Forbidden", appErr.Message)
					}
					return
				}
				jsonapi.RenderError(w, http.StatusInternalServerError,
					"internal", "Internal Server Error", "tenant resolution failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), tc)))
		})
	}
}

// RequireAuth validates the Bearer JWT in the Authorization header against
// the access-token secret. On success it injects *auth.Claims into the
// request context; when a tenant context is present the token's tenant claim
// must match it. On failure it writes a 401 JSON:API error response.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "Authorization header is required")
				return
			}

			claims, err := auth.ParseToken(token, auth.TokenTypeAccess, secret)
			if err != nil {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"invalid_token", "Unauthorized", "access token is invalid or expired")
				return
			}

			// Super-admin tokens carry the system tenant and may cross
			// tenant boundaries; everyone else must match the resolved one.
			if tc, ok := tenant.FromContext(r.Context()); ok &&
				claims.TenantID != tc.TenantID && !auth.IsSuperAdminClaims(claims) {
				jsonapi.RenderError(w, http.StatusForbidden,
					string(apperr.TenantMismatch), "Forbidden", "token does not belong to this tenant")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts Claims from the request context.
// Returns nil if not present.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	v := ctx.Value(claimsKey)
	if v == nil {
		return nil
	}
	c, _ := v.(*auth.Claims)
	return c
}

// RequireRole checks that the authenticated user holds at least one of the
// given roles. Must be chained after RequireAuth.
func RequireRole(required ...role.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if err := auth.RequireClaims(claims, required...); err != nil {
				var appErr *apperr.Error
				if errors.As(err, &appErr) && appErr.Kind == apperr.Forbidden && claims != nil {
					jsonapi.RenderError(w, http.StatusForbidden,
						"forbidden", "Forbidden", appErr.Message)
					return
				}
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin restricts a route to platform super admins. Must be
// chained after RequireAuth.
func RequireSuperAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "authentication required")
				return
			}
			if !auth.IsSuperAdminClaims(claims) {
				jsonapi.RenderError(w, http.StatusForbidden,
					"forbidden", "Forbidden", "super admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
