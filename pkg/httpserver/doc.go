// Package httpserver wraps net/http with graceful shutdown and
// health-check handlers.
//
// Run blocks until the context is canceled or an interrupt/TERM signal
// arrives, then shuts down with http.Server.Shutdown under a
// configurable deadline:
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server exited", logger.Error(err))
//	}
//
// Healthz serves liveness probes; Readyz runs dependency probes (such
// as pg.Healthcheck or redis.Healthcheck) and answers 503 when any
// fails.
package httpserver
