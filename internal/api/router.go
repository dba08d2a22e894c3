// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/d9705996/tenauth/internal/api/handler"
	"github.com/d9705996/tenauth/internal/api/middleware"
	"github.com/d9705996/tenauth/internal/health"
	"github.com/d9705996/tenauth/internal/role"
	"github.com/d9705996/tenauth/internal/tenant"
)

// Handlers collects the route handlers registered by RegisterRoutes.
type Handlers struct {
	Health    *health.Handler
	Auth      *handler.AuthHandler
	Tenants   *handler.TenantHandler
	Admin     *handler.AdminHandler
	Bootstrap *handler.BootstrapHandler
}

// RegisterRoutes registers all application routes on mux and returns the
// wrapped handler with the tenant-resolution middleware applied to the whole
// tree (exempt paths pass through inside the middleware).
func RegisterRoutes(mux *http.ServeMux, h Handlers, resolver *tenant.Resolver, accessSecret string) http.Handler {
	// Public endpoints (no tenant, no auth)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)
	mux.HandleFunc("GET /api/v1/tenants/verify/{slug}", h.Tenants.Verify)
	mux.HandleFunc("GET /api/v1/tenants/detect", h.Tenants.Detect)
	mux.HandleFunc("GET /api/v1/bootstrap/status", h.Bootstrap.Status)
	mux.HandleFunc("POST /api/v1/bootstrap/admin", h.Bootstrap.CreateFirstAdmin)

	// Tenant-scoped, unauthenticated auth endpoints
	mux.HandleFunc("POST /api/v1/auth/login", h.Auth.Login)
	mux.HandleFunc("POST /api/v1/auth/super-admin/login", h.Auth.SuperAdminLogin)
	mux.HandleFunc("POST /api/v1/auth/signup", h.Auth.Signup)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Auth.Refresh)

	// Auth-required routes — wrap with RequireAuth middleware.
	protected := middleware.RequireAuth(accessSecret)
	mux.Handle("POST /api/v1/auth/logout", protected(http.HandlerFunc(h.Auth.Logout)))
	mux.Handle("POST /api/v1/auth/logout-all", protected(http.HandlerFunc(h.Auth.LogoutAll)))
	mux.Handle("POST /api/v1/auth/change-password", protected(http.HandlerFunc(h.Auth.ChangePassword)))
	mux.Handle("GET /api/v1/auth/profile", protected(http.HandlerFunc(h.Auth.Profile)))
	mux.Handle("GET /api/v1/auth/devices", protected(http.HandlerFunc(h.Auth.Devices)))

	// Admin routes — additionally require the admin role.
	adminOnly := func(hf http.HandlerFunc) http.Handler {
		return protected(middleware.RequireRole(role.Admin)(hf))
	}
	mux.Handle("POST /api/v1/admin/users", adminOnly(h.Admin.CreateUser))
	mux.Handle("GET /api/v1/admin/users", adminOnly(h.Admin.ListUsers))
	mux.Handle("GET /api/v1/admin/users/{id}", adminOnly(h.Admin.GetUser))
	mux.Handle("POST /api/v1/admin/users/{id}/deactivate", adminOnly(h.Admin.DeactivateUser))
	mux.Handle("POST /api/v1/admin/users/{id}/reactivate", adminOnly(h.Admin.ReactivateUser))
	mux.Handle("PATCH /api/v1/admin/users/{id}/roles", adminOnly(h.Admin.UpdateUserRoles))
	mux.Handle("POST /api/v1/admin/invites", adminOnly(h.Admin.InviteUser))
	mux.Handle("DELETE /api/v1/admin/devices/{deviceId}", adminOnly(h.Admin.RevokeDevice))
	mux.Handle("GET /api/v1/admin/stats", adminOnly(h.Admin.Stats))

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return middleware.ResolveTenant(resolver)(mux)
}
