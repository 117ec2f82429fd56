package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/onboardkit/modules/integrations"
	"github.com/dmitrymomot/onboardkit/pkg/config"
	"github.com/dmitrymomot/onboardkit/pkg/httpserver"
	"github.com/dmitrymomot/onboardkit/pkg/logger"
	"github.com/dmitrymomot/onboardkit/pkg/pg"
	"github.com/dmitrymomot/onboardkit/pkg/redis"
	"github.com/dmitrymomot/onboardkit/pkg/secrets"
)

type appConfig struct {
	// AppSecretKey encrypts tokens at rest; hex-encoded 32 bytes.
	// Generate one with secrets.GenerateKey.
	AppSecretKey string `env:"APP_SECRET_KEY,required"`

	Log          logger.Config
	HTTP         httpserver.Config
	PG           pg.Config
	Redis        redis.Config
	Integrations integrations.Config
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log := logger.NewFromConfig(cfg.Log)

	appKey, err := hex.DecodeString(cfg.AppSecretKey)
	if err != nil || len(appKey) != secrets.KeySize {
		return fmt.Errorf("APP_SECRET_KEY must be %d hex-encoded bytes", secrets.KeySize)
	}

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	registry, err := integrations.NewRegistry(cfg.Integrations.Credentials())
	if err != nil {
		return err
	}

	store, err := integrations.NewPGStore(pool, appKey)
	if err != nil {
		return err
	}

	connector := integrations.NewConnector(
		registry,
		store,
		integrations.NewRedisStateStore(redisClient),
		cfg.Integrations,
		integrations.WithConnectorLogger(log),
	)

	processor := integrations.NewProcessor(
		integrations.NewPGEventStore(pool),
		integrations.WithProcessorLogger(log),
	)
	registerEventHandlers(processor, log)

	handler := integrations.NewHandler(
		connector,
		integrations.NewVerifier(registry),
		processor,
		integrations.Adapters(),
		cfg.Integrations,
		resolveUserID,
		integrations.WithHandlerLogger(log),
	)

	refresher := integrations.NewRefresher(connector, store, cfg.Integrations, integrations.WithRefresherLogger(log))
	if err := refresher.Start(); err != nil {
		return err
	}
	defer refresher.Stop()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.Healthz())
	r.Get("/readyz", httpserver.Readyz(log, pg.Healthcheck(pool), redis.Healthcheck(redisClient)))
	r.Mount("/", handler.Router())

	return httpserver.New(cfg.HTTP, httpserver.WithLogger(log)).Run(ctx, r)
}

// registerEventHandlers subscribes the events this deployment reacts
// to. Unregistered types are acknowledged and recorded without
// dispatch.
func registerEventHandlers(p *integrations.Processor, log *slog.Logger) {
	logEvent := func(ctx context.Context, event integrations.WebhookEvent) error {
		log.InfoContext(ctx, "webhook event received",
			logger.Component("event_handlers"),
			logger.Provider(event.Source),
			logger.EventType(event.EventType),
			logger.EventID(event.EventID),
		)
		return nil
	}

	p.Handle("calendly", "invitee.created", logEvent)
	p.Handle("calendly", "invitee.canceled", logEvent)
	p.Handle("docusign", "envelope-completed", logEvent)
	p.Handle("slack", "message", logEvent)
	p.Handle("google", "calendar.updated", logEvent)
}

// resolveUserID trusts the X-User-ID header set by the authenticating
// reverse proxy. Deployments terminating auth in-process should replace
// this with their session or JWT lookup.
func resolveUserID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.Header.Get("X-User-ID"))
}
