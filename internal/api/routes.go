package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	inframetrics "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/metrics"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/config"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/handler"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/middleware"
)

// RouteOptions carries what SetupRoutes needs besides the handler.
type RouteOptions struct {
	RateLimit   config.RateLimitConfig
	HTTPMetrics *inframetrics.HTTPMetrics
	Gatherer    prometheus.Gatherer
	// Done stops the rate limiter's cleanup goroutine.
	Done <-chan struct{}
}

// SetupRoutes configures all API routes.
// Health routes are registered by the infrastructure gin builder.
func SetupRoutes(router *gin.Engine, captureHandler *handler.CaptureHandler, opts RouteOptions) {
	if opts.HTTPMetrics != nil {
		router.Use(opts.HTTPMetrics.Middleware())
	}
	if opts.Gatherer != nil {
		inframetrics.RegisterRoute(router, opts.Gatherer)
	}

	capture := router.Group("")
	if opts.RateLimit.Enabled {
		capture.Use(middleware.RateLimiter(opts.RateLimit.MaxRequests, opts.RateLimit.Window, opts.Done))
	}
	capture.POST("/capture", captureHandler.HandleCapture)
}
