// Package worker bootstraps the River job queue and the periodic purge jobs
// that sweep expired invites and setup tokens.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/d9705996/tenauth/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// setupTokenRetention is how long expired setup tokens are kept before the
// purge job removes the rows.
const setupTokenRetention = 24 * time.Hour

// PurgeInvitesArgs removes invites whose expiry has passed.
type PurgeInvitesArgs struct{}

// Kind returns the unique job type identifier for invite purge jobs.
func (PurgeInvitesArgs) Kind() string { return "purge_expired_invites" }

type purgeInvitesWorker struct {
	river.WorkerDefaults[PurgeInvitesArgs]
	invites store.Invites
	log     *slog.Logger
}

func (w *purgeInvitesWorker) Work(ctx context.Context, _ *river.Job[PurgeInvitesArgs]) error {
	n, err := w.invites.DeleteExpiredInvites(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("purge expired invites: %w", err)
	}
	if n > 0 {
		w.log.InfoContext(ctx, "purged expired invites", "count", n)
	}
	return nil
}

// PurgeSetupTokensArgs removes setup tokens past their retention window.
type PurgeSetupTokensArgs struct{}

// Kind returns the unique job type identifier for setup-token purge jobs.
func (PurgeSetupTokensArgs) Kind() string { return "purge_expired_setup_tokens" }

type purgeSetupTokensWorker struct {
	river.WorkerDefaults[PurgeSetupTokensArgs]
	tokens store.SetupTokens
	log    *slog.Logger
}

func (w *purgeSetupTokensWorker) Work(ctx context.Context, _ *river.Job[PurgeSetupTokensArgs]) error {
	n, err := w.tokens.DeleteExpiredSetupTokens(ctx, time.Now().Add(-setupTokenRetention))
	if err != nil {
		return fmt.Errorf("purge expired setup tokens: %w", err)
	}
	if n > 0 {
		w.log.InfoContext(ctx, "purged expired setup tokens", "count", n)
	}
	return nil
}

// Queue is the interface exposed by both the real River client and noopQueue.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
	log    *slog.Logger
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// noopQueue is used when River is unavailable (e.g. DB_DRIVER=sqlite).
type noopQueue struct{ log *slog.Logger }

func (n *noopQueue) Start(_ context.Context) error {
	n.log.Info("worker queue disabled (sqlite driver — River requires postgres)")
	return nil
}
func (n *noopQueue) Stop(_ context.Context) error { return nil }

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a River client with the purge workers registered
//     and hourly periodic purge jobs scheduled.
//   - anything else: returns a no-op queue that logs a startup notice.
//
// pool may be nil when driver != "postgres".
func New(ctx context.Context, pool *pgxpool.Pool, driver string, concurrency int, invites store.Invites, tokens store.SetupTokens, log *slog.Logger) (Queue, error) {
	if driver != "postgres" {
		return &noopQueue{log: log}, nil
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, &purgeInvitesWorker{invites: invites, log: log})
	river.AddWorker(workers, &purgeSetupTokensWorker{tokens: tokens, log: log})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers: workers,
		Logger:  log,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return PurgeInvitesArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return PurgeSetupTokensArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, log: log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
