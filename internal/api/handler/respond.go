package handler

import (
	"errors"
	"net/http"

	"github.com/d9705996/tenauth/internal/apperr"
	"github.com/d9705996/tenauth/internal/api/jsonapi"
)

// kindStatus maps the domain failure taxonomy onto HTTP status codes.
var kindStatus = map[apperr.Kind]int{
	apperr.TenantNotFound:     http.StatusBadRequest,
	apperr.TenantInactive:     http.StatusForbidden,
	apperr.InvalidCredentials: http.StatusUnauthorized,
	apperr.MustChangePassword: http.StatusForbidden,
	apperr.TokenExpired:       http.StatusUnauthorized,
	apperr.InvalidToken:       http.StatusUnauthorized,
	apperr.TenantMismatch:     http.StatusForbidden,
	apperr.DeviceRevoked:      http.StatusUnauthorized,
	apperr.SecurityViolation:  http.StatusUnauthorized,
	apperr.Forbidden:          http.StatusForbidden,
	apperr.PolicyViolation:    http.StatusConflict,
	apperr.Conflict:           http.StatusConflict,
	apperr.NotFound:           http.StatusNotFound,
	apperr.Gone:               http.StatusGone,
}

// renderError writes err as a JSON:API error document. Domain errors carry
// their kind as the error code; anything else becomes an opaque 500.
func renderError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status, ok := kindStatus[appErr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		jsonapi.RenderError(w, status, string(appErr.Kind), http.StatusText(status), appErr.Message)
		return
	}
	jsonapi.RenderError(w, http.StatusInternalServerError,
		"internal", "Internal Server Error", "an internal error occurred")
}
