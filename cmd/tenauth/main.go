// Tenauth — multi-tenant authentication and session service
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d9705996/tenauth/internal/admin"
	tenauthapi "github.com/d9705996/tenauth/internal/api"
	"github.com/d9705996/tenauth/internal/api/handler"
	"github.com/d9705996/tenauth/internal/auth"
	"github.com/d9705996/tenauth/internal/bootstrap"
	"github.com/d9705996/tenauth/internal/config"
	"github.com/d9705996/tenauth/internal/db"
	"github.com/d9705996/tenauth/internal/health"
	"github.com/d9705996/tenauth/internal/observability"
	"github.com/d9705996/tenauth/internal/store"
	"github.com/d9705996/tenauth/internal/tenant"
	"github.com/d9705996/tenauth/internal/version"
	"github.com/d9705996/tenauth/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "tenauth",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting tenauth", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	st := store.New(gormDB)

	// --- Services ------------------------------------------------------------
	authSvc := auth.NewService(auth.ServiceConfig{
		Users:      st,
		Tenants:    st,
		Devices:    st,
		Invites:    st,
		JWT:        cfg.JWT,
		BcryptCost: cfg.Security.BcryptCost,
		Logger:     log,
	})
	adminSvc := admin.NewService(st, st, st, cfg.Security.BcryptCost, log)
	bootstrapSvc := bootstrap.NewService(st, st, cfg.Security.BcryptCost, log)

	// First run: mint and log the single-use setup token so the first
	// super-admin can be created through the bootstrap endpoint.
	if _, err := bootstrapSvc.EnsureSetupToken(ctx); err != nil {
		return fmt.Errorf("bootstrap setup token: %w", err)
	}

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	wq, err := worker.New(ctx, pool, cfg.DB.Driver, cfg.Worker.Concurrency, st, st, log)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	mux := http.NewServeMux()
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	root := tenauthapi.RegisterRoutes(mux, tenauthapi.Handlers{
		Health:    health.New(db.NewPinger(gormDB)),
		Auth:      handler.NewAuthHandler(authSvc),
		Tenants:   handler.NewTenantHandler(st),
		Admin:     handler.NewAdminHandler(adminSvc),
		Bootstrap: handler.NewBootstrapHandler(bootstrapSvc),
	}, tenant.NewResolver(st), cfg.JWT.AccessSecret)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
