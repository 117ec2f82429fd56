package integrations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/dmitrymomot/onboardkit/pkg/logger"
)

// Refresher proactively refreshes access tokens that are about to
// expire, so request-path refreshes stay rare. It runs on a gocron
// schedule; each tick lists integrations expiring within the refresh
// margin and refreshes them one by one. Concurrent refreshes of the
// same integration are resolved by the connector's compare-and-swap.
type Refresher struct {
	connector *Connector
	store     Store
	interval  time.Duration
	margin    time.Duration
	scheduler *gocron.Scheduler
	log       *slog.Logger
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

func WithRefresherLogger(log *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRefresher creates a background token refresher. Interval and
// margin come from Config.
func NewRefresher(connector *Connector, store Store, cfg Config, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		connector: connector,
		store:     store,
		interval:  cfg.RefreshInterval,
		margin:    cfg.RefreshMargin,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start schedules the refresh loop and returns immediately.
func (r *Refresher) Start() error {
	r.scheduler = gocron.NewScheduler(time.UTC)
	if _, err := r.scheduler.Every(r.interval).SingletonMode().Do(r.tick); err != nil {
		return err
	}
	r.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler, waiting for a running tick to finish.
func (r *Refresher) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}

func (r *Refresher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()
	r.RunOnce(ctx)
}

// RunOnce performs a single refresh pass. Exported so deployments that
// prefer an external scheduler can drive it directly.
func (r *Refresher) RunOnce(ctx context.Context) {
	expiring, err := r.store.ListExpiring(ctx, time.Now().UTC().Add(r.margin))
	if err != nil {
		r.log.ErrorContext(ctx, "failed to list expiring integrations",
			logger.Component("token_refresher"),
			logger.Error(err),
		)
		return
	}

	for _, integration := range expiring {
		if _, err := r.connector.RefreshToken(ctx, integration); err != nil {
			// ErrRefreshFailed already moved the record to expired; other
			// errors are transient and will be retried next tick.
			level := slog.LevelWarn
			if errors.Is(err, ErrRefreshFailed) {
				level = slog.LevelError
			}
			r.log.LogAttrs(ctx, level, "token refresh failed",
				logger.Component("token_refresher"),
				logger.Provider(integration.ProviderSlug),
				logger.UserID(integration.UserID.String()),
				logger.Error(err),
			)
		}
	}
}
