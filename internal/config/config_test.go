package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/d9705996/tenauth/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "test-refresh-secret")
}

func TestLoad_MissingDBDSN(t *testing.T) {
	// DB_DSN is only required when DB_DRIVER=postgres.
	setRequired(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoad_SQLiteNoDBDSN(t *testing.T) {
	// With sqlite driver, DB_DSN is not required.
	setRequired(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.NoError(t, err)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "test-refresh-secret")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_MissingRefreshSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-access-secret")
	t.Setenv("JWT_REFRESH_SECRET", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_REFRESH_SECRET")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	// Clear optional vars to ensure defaults apply
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("LOG_FORMAT")
	os.Unsetenv("WORKER_CONCURRENCY")
	os.Unsetenv("DB_DRIVER")
	os.Unsetenv("DB_FILE")
	os.Unsetenv("JWT_ACCESS_TTL")
	os.Unsetenv("JWT_REFRESH_TTL")
	os.Unsetenv("JWT_MOBILE_ACCESS_TTL")
	os.Unsetenv("JWT_MOBILE_REFRESH_TTL")
	os.Unsetenv("BCRYPT_COST")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.MobileAccessTTL)
	assert.Equal(t, 90*24*time.Hour, cfg.JWT.MobileRefreshTTL)
	assert.Equal(t, 12, cfg.Security.BcryptCost)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "tenauth.db", cfg.DB.File)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("WORKER_CONCURRENCY", "20")
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_FILE", "test.db")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 20, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 10, cfg.Security.BcryptCost)
	assert.Equal(t, "test.db", cfg.DB.File)
}

func TestLoad_AccessTTLMustBeShorterThanRefresh(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_ACCESS_TTL", "8h")
	t.Setenv("JWT_REFRESH_TTL", "1h")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ACCESS_TTL")
}

func TestLoad_MobileTTLOrdering(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_MOBILE_ACCESS_TTL", "2160h")
	t.Setenv("JWT_MOBILE_REFRESH_TTL", "168h")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_MOBILE_ACCESS_TTL")
}

func TestLoad_BcryptCostBounds(t *testing.T) {
	setRequired(t)
	t.Setenv("BCRYPT_COST", "4")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BCRYPT_COST")
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_ACCESS_TTL", "not-a-duration")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_ACCESS_TTL")
}
