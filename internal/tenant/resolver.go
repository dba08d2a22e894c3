// Package tenant resolves an inbound tenant hint (header, query parameter or
// host subdomain) into a validated tenant context. The reserved "system"
// tenant is recognised without touching the store so super-admin login stays
// reachable even when the database is down.
package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/store"
)

// HeaderName is the wire convention for the explicit tenant hint.
const HeaderName = "x-tenant-id"

// Context is the immutable per-request tenant context attached after
// resolution and threaded through every downstream call.
type Context struct {
	TenantID       string
	Slug           string
	IsSystemTenant bool
	Settings       model.TenantSettings
}

// SystemContext is the context produced for the reserved system tenant.
func SystemContext() Context {
	return Context{
		TenantID:       model.SystemTenantID,
		Slug:           model.SystemTenantID,
		IsSystemTenant: true,
	}
}

// Resolver maps tenant hints to contexts.
type Resolver struct {
	tenants store.Tenants
}

// NewResolver creates a Resolver backed by the given tenant repository.
func NewResolver(tenants store.Tenants) *Resolver {
	return &Resolver{tenants: tenants}
}

// Resolve normalises hint and produces a Context. The system tenant is
// returned without a lookup; any other hint must match an active tenant by
// id or slug. Resolution never falls back to a different tenant.
func (r *Resolver) Resolve(ctx context.Context, hint string) (Context, error) {
	normalized := strings.ToLower(strings.TrimSpace(hint))
	if normalized == "" {
		return Context{}, apperr.E(apperr.TenantNotFound, "tenant id required")
	}

	if normalized == model.SystemTenantID {
		return SystemContext(), nil
	}

	t, err := r.tenants.ActiveTenantByIDOrSlug(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Context{}, apperr.E(apperr.TenantInactive, "invalid or inactive tenant")
		}
		return Context{}, err
	}

	return Context{
		TenantID: t.ID,
		Slug:     t.Slug,
		Settings: t.Settings,
	}, nil
}

// reservedSubdomains never identify a tenant.
var reservedSubdomains = map[string]bool{
	"www":       true,
	"localhost": true,
	"127":       true,
	"api":       true,
	"app":       true,
}

// HintFromRequest extracts the tenant hint from a request. An explicit
// header or query value takes priority over the inferred host subdomain.
func HintFromRequest(r *http.Request) string {
	if v := r.Header.Get(HeaderName); v != "" {
		return v
	}
	if v := r.URL.Query().Get("tenant"); v != "" {
		return v
	}
	host := r.Host
	if host == "" {
		return ""
	}
	sub := strings.Split(host, ".")[0]
	if sub == "" || reservedSubdomains[sub] || strings.Contains(sub, "localhost") {
		return ""
	}
	// Strip a bare "host:port" form: a host without dots has no subdomain.
	if !strings.Contains(host, ".") {
		return ""
	}
	return sub
}

// exemptPrefixes lists route prefixes that bypass tenant resolution:
// tenant discovery, bootstrap, health and metrics.
var exemptPrefixes = []string{
	"/api/v1/tenants/verify",
	"/api/v1/tenants/detect",
	"/api/v1/bootstrap",
	"/api/v1/health",
	"/api/v1/ready",
	"/metrics",
}

// Exempt reports whether path is declared tenant-resolution-exempt.
func Exempt(path string) bool {
	for _, p := range exemptPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

type contextKey string

const tenantContextKey contextKey = "tenant_context"

// WithContext attaches tc to ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

// FromContext extracts the tenant context attached by the middleware.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(tenantContextKey).(Context)
	return tc, ok
}
