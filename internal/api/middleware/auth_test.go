package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/d9705996/tenauth/internal/api/middleware"
	"github.com/d9705996/tenauth/internal/auth"
	"github.com/d9705996/tenauth/internal/model"
	"github.com/d9705996/tenauth/internal/role"
	"github.com/d9705996/tenauth/internal/store"
	"github.com/d9705996/tenauth/internal/tenant"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "middleware-test-access-secret"

func signTestToken(t *testing.T, claims auth.Claims, typ auth.TokenType, secret string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims.TokenType = typ
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "tenauth",
		ID:        uuid.New().String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func okHandler(captured **auth.Claims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = middleware.ClaimsFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth_MissingToken(t *testing.T) {
	h := middleware.RequireAuth(testSecret)(okHandler(nil))

	for name, header := range map[string]string{
		"no header":  "",
		"not bearer": "Basic dXNlcjpwYXNz",
		"bare token": "sometoken",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "missing_token")
		})
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	h := middleware.RequireAuth(testSecret)(okHandler(nil))

	expired := signTestToken(t, auth.Claims{Email: "u@example.com"},
		auth.TokenTypeAccess, testSecret, -time.Minute)
	wrongSecret := signTestToken(t, auth.Claims{Email: "u@example.com"},
		auth.TokenTypeAccess, "other-secret", time.Minute)
	refreshToken := signTestToken(t, auth.Claims{Email: "u@example.com"},
		auth.TokenTypeRefresh, testSecret, time.Minute)

	for name, token := range map[string]string{
		"expired":        expired,
		"wrong secret":   wrongSecret,
		"refresh not ok": refreshToken,
		"garbage":        "not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_token")
		})
	}
}

func TestRequireAuth_InjectsClaims(t *testing.T) {
	var got *auth.Claims
	h := middleware.RequireAuth(testSecret)(okHandler(&got))

	token := signTestToken(t, auth.Claims{
		Email:    "u@example.com",
		Roles:    []string{"admin"},
		TenantID: "tenant-1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}, auth.TokenTypeAccess, testSecret, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, []string{"admin"}, got.Roles)
}

func TestRequireAuth_TenantMismatch(t *testing.T) {
	h := middleware.RequireAuth(testSecret)(okHandler(nil))

	token := signTestToken(t, auth.Claims{
		Email: "u@example.com", Roles: []string{"user"}, TenantID: "tenant-1",
	}, auth.TokenTypeAccess, testSecret, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req = req.WithContext(tenant.WithContext(req.Context(), tenant.Context{TenantID: "tenant-2"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_mismatch")
}

func TestRequireAuth_SuperAdminCrossesTenants(t *testing.T) {
	var got *auth.Claims
	h := middleware.RequireAuth(testSecret)(okHandler(&got))

	token := signTestToken(t, auth.Claims{
		Email:        "root@example.com",
		Roles:        []string{"superadmin"},
		TenantID:     "system",
		IsSuperAdmin: true,
	}, auth.TokenTypeAccess, testSecret, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req = req.WithContext(tenant.WithContext(req.Context(), tenant.Context{TenantID: "tenant-2"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.True(t, got.IsSuperAdmin)
}

func TestRequireRole(t *testing.T) {
	chain := middleware.RequireAuth(testSecret)(
		middleware.RequireRole(role.Admin)(okHandler(nil)))

	admin := signTestToken(t, auth.Claims{
		Email: "a@example.com", Roles: []string{"admin"}, TenantID: "tenant-1",
	}, auth.TokenTypeAccess, testSecret, time.Minute)
	user := signTestToken(t, auth.Claims{
		Email: "u@example.com", Roles: []string{"user"}, TenantID: "tenant-1",
	}, auth.TokenTypeAccess, testSecret, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	// RequireRole without RequireAuth ahead of it sees no claims at all.
	h := middleware.RequireRole(role.Admin)(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSuperAdmin(t *testing.T) {
	chain := middleware.RequireAuth(testSecret)(
		middleware.RequireSuperAdmin()(okHandler(nil)))

	root := signTestToken(t, auth.Claims{
		Email: "root@example.com", Roles: []string{"superadmin"},
		TenantID: "system", IsSuperAdmin: true,
	}, auth.TokenTypeAccess, testSecret, time.Minute)
	admin := signTestToken(t, auth.Claims{
		Email: "a@example.com", Roles: []string{"admin"}, TenantID: "tenant-1",
	}, auth.TokenTypeAccess, testSecret, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/platform/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+root)
	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/platform/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func newResolver(t *testing.T) (*tenant.Resolver, *model.Tenant) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Tenant{}))
	st := store.New(db)

	tn := &model.Tenant{Name: "Acme", Slug: "acme", IsActive: true}
	require.NoError(t, st.CreateTenant(context.Background(), tn))
	return tenant.NewResolver(st), tn
}

func TestResolveTenant(t *testing.T) {
	resolver, tn := newResolver(t)

	var got tenant.Context
	h := middleware.ResolveTenant(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.Header.Set(tenant.HeaderName, "acme")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tn.ID, got.TenantID)
	assert.Equal(t, "acme", got.Slug)
}

func TestResolveTenant_Unknown(t *testing.T) {
	resolver, _ := newResolver(t)
	h := middleware.ResolveTenant(resolver)(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.Header.Set(tenant.HeaderName, "nonesuch")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Unknown and inactive are indistinguishable to the caller.
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestResolveTenant_NoHint(t *testing.T) {
	resolver, _ := newResolver(t)
	h := middleware.ResolveTenant(resolver)(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenant_not_found")
}

func TestResolveTenant_ExemptPaths(t *testing.T) {
	resolver, _ := newResolver(t)
	h := middleware.ResolveTenant(resolver)(okHandler(nil))

	for _, path := range []string{
		"/api/v1/health",
		"/api/v1/tenants/verify/acme",
		"/api/v1/bootstrap/status",
		"/metrics",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
