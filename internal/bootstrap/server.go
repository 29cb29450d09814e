package bootstrap

import (
	"context"
	"time"

	infragin "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/gin"
	inframetrics "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/metrics"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/api"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/handler"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/metrics"
)

const healthCheckTimeout = 2 * time.Second

// setupHTTPServer creates the HTTP server with all handlers wired.
func (a *App) setupHTTPServer() *infragin.Server {
	captureHandler := handler.NewCaptureHandler(a.service, a.log, a.cfg.Ingest.MaxBodyBytes)

	checks := api.HealthChecks{
		Ingest: handler.IngestHealthCheck(a.service.Draining),
		Queue:  handler.QueueHealthCheck(a.queue.Len, a.queue.Cap),
	}
	if a.memStore != nil {
		checks.Dedup = handler.DedupHealthCheck(a.memStore.Len, a.memStore.Capacity())
	}
	if a.redis != nil {
		checks.RedisPing = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			return a.redis.Ping(ctx).Err()
		}
	}
	if a.db != nil {
		checks.DatabasePing = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			return a.db.PingContext(ctx)
		}
	}

	return api.NewServer(captureHandler, a.cfg, a.log,
		api.RouteOptions{
			RateLimit:   a.cfg.RateLimit,
			HTTPMetrics: inframetrics.NewHTTPMetrics(a.registry, metrics.Namespace),
			Gatherer:    a.registry,
			Done:        a.done,
		},
		checks,
		a.beginShutdown,
	)
}
