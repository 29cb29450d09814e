package api

import (
	"time"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/config"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/handler"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// HealthChecks are the optional named checks reported by /health.
type HealthChecks struct {
	Ingest infragin.HealthChecker
	Queue  infragin.HealthChecker
	Dedup  infragin.HealthChecker
	// RedisPing and DatabasePing are nil when the backend is not in use.
	RedisPing    func() error
	DatabasePing func() error
}

// NewServer creates a new HTTP server. onShutdown runs once when the server
// begins shutting down, before in-flight requests finish.
func NewServer(
	captureHandler *handler.CaptureHandler,
	cfg *config.Config,
	log infralogger.Logger,
	routes RouteOptions,
	checks HealthChecks,
	onShutdown func(),
) *infragin.Server {
	builder := infragin.NewServerBuilder(cfg.Service.Name, cfg.Service.Port).
		WithLogger(log).
		WithHost(cfg.Service.Host).
		WithDebug(cfg.Service.Debug).
		WithVersion(cfg.Service.Version).
		WithTimeouts(defaultReadTimeout, defaultWriteTimeout, defaultIdleTimeout).
		WithShutdownTimeout(cfg.Service.ShutdownTimeout).
		WithRoutes(func(router *gin.Engine) {
			SetupRoutes(router, captureHandler, routes)
		})

	if checks.Ingest != nil {
		builder = builder.WithHealthCheck("ingest", checks.Ingest)
	}
	if checks.Queue != nil {
		builder = builder.WithHealthCheck("queue", checks.Queue)
	}
	if checks.Dedup != nil {
		builder = builder.WithHealthCheck("dedup", checks.Dedup)
	}
	if checks.RedisPing != nil {
		builder = builder.WithRedisHealthCheck(checks.RedisPing)
	}
	if checks.DatabasePing != nil {
		builder = builder.WithDatabaseHealthCheck(checks.DatabasePing)
	}
	if onShutdown != nil {
		builder = builder.WithShutdownHook(onShutdown)
	}

	return builder.Build()
}
