package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/d9705996/tenauth/internal/api/jsonapi"
	"github.com/d9705996/tenauth/internal/store"
)

// TenantHandler serves the public tenant-discovery endpoints. Both are
// tenant-resolution-exempt: clients call them before they know their tenant.
type TenantHandler struct {
	tenants store.Tenants
}

// NewTenantHandler creates a TenantHandler.
func NewTenantHandler(tenants store.Tenants) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

// tenantBranding is the public projection of a tenant: enough for a login
// page, nothing operational.
type tenantBranding struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	RequireInvite bool   `json:"requireInvite"`
	LogoURL       string `json:"logoUrl,omitempty"`
	ThemeColor    string `json:"themeColor,omitempty"`
}

// Verify handles GET /api/v1/tenants/verify/{slug}. Inactive tenants are
// indistinguishable from missing ones.
func (h *TenantHandler) Verify(w http.ResponseWriter, r *http.Request) {
	slug := strings.ToLower(strings.TrimSpace(r.PathValue("slug")))
	if slug == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_slug", "Bad Request", "tenant slug is required")
		return
	}

	t, err := h.tenants.TenantBySlug(r.Context(), slug)
	if err != nil || !t.IsActive {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			renderError(w, err)
			return
		}
		jsonapi.RenderError(w, http.StatusNotFound, "tenant_not_found", "Not Found", "tenant not found")
		return
	}

	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "tenant",
		ID:   t.Slug,
		Attributes: tenantBranding{
			Name:          t.Name,
			Slug:          t.Slug,
			RequireInvite: t.Settings.RequireInvite,
			LogoURL:       t.Settings.LogoURL,
			ThemeColor:    t.Settings.ThemeColor,
		},
	})
}

// Detect handles GET /api/v1/tenants/detect?domain=. It matches the domain
// against each active tenant's allowed-domains list.
func (h *TenantHandler) Detect(w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("domain")))
	if domain == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_domain", "Bad Request", "domain query parameter is required")
		return
	}

	t, err := h.tenants.TenantByDomain(r.Context(), domain)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonapi.RenderError(w, http.StatusNotFound, "tenant_not_found", "Not Found", "no tenant allows that domain")
			return
		}
		renderError(w, err)
		return
	}

	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "tenant",
		ID:   t.Slug,
		Attributes: tenantBranding{
			Name:          t.Name,
			Slug:          t.Slug,
			RequireInvite: t.Settings.RequireInvite,
			LogoURL:       t.Settings.LogoURL,
			ThemeColor:    t.Settings.ThemeColor,
		},
	})
}
