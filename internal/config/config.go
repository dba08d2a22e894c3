// Package config loads all runtime configuration from environment variables.
// No config files and no third-party config framework are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config holds all runtime configuration for tenauth.
type Config struct {
	HTTP     HTTPConfig
	DB       DBConfig
	Log      LogConfig
	JWT      JWTConfig
	Security SecurityConfig
	Worker   WorkerConfig
	OTel     OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "tenauth.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// JWTConfig holds signing secrets and per-channel token lifetimes. Access
// and refresh tokens are signed with independent secrets so one cannot be
// presented in place of the other.
type JWTConfig struct {
	AccessSecret     string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	RefreshSecret    string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MobileAccessTTL  time.Duration
	MobileRefreshTTL time.Duration
}

// SecurityConfig holds password hashing settings. BcryptCost trades login
// latency against brute-force resistance.
type SecurityConfig struct {
	BcryptCost int
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent or any lifetime
// ordering constraint is violated.
func Load() (*Config, error) {
	cfg := &Config{}

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "tenauth.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// JWT (secrets required)
	cfg.JWT.AccessSecret = os.Getenv("JWT_SECRET")
	if cfg.JWT.AccessSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	cfg.JWT.RefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	if cfg.JWT.RefreshSecret == "" {
		return nil, errors.New("JWT_REFRESH_SECRET is required")
	}
	var err error
	cfg.JWT.AccessTTL, err = envDuration("JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}
	cfg.JWT.RefreshTTL, err = envDuration("JWT_REFRESH_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("JWT_REFRESH_TTL: %w", err)
	}
	cfg.JWT.MobileAccessTTL, err = envDuration("JWT_MOBILE_ACCESS_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("JWT_MOBILE_ACCESS_TTL: %w", err)
	}
	cfg.JWT.MobileRefreshTTL, err = envDuration("JWT_MOBILE_REFRESH_TTL", 90*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("JWT_MOBILE_REFRESH_TTL: %w", err)
	}
	if cfg.JWT.AccessTTL >= cfg.JWT.RefreshTTL {
		return nil, errors.New("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}
	if cfg.JWT.MobileAccessTTL >= cfg.JWT.MobileRefreshTTL {
		return nil, errors.New("JWT_MOBILE_ACCESS_TTL must be shorter than JWT_MOBILE_REFRESH_TTL")
	}

	// Security
	cfg.Security.BcryptCost = envInt("BCRYPT_COST", 12)
	if cfg.Security.BcryptCost < 10 || cfg.Security.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("BCRYPT_COST must be between 10 and %d", bcrypt.MaxCost)
	}

	// Worker
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", 10)

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
