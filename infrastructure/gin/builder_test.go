package gin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ginpkg "github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
)

// Not parallel: Build sets the global gin mode.
func TestServerBuilder_HealthReflectsChecks(t *testing.T) {
	server := infragin.NewServerBuilder("capture-ingest", 8089).
		WithLogger(logger.NewNop()).
		WithVersion("9.9.9").
		WithHealthCheck("queue", func() infragin.CheckResult {
			return infragin.CheckResult{Status: infragin.HealthStatusHealthy}
		}).
		WithRedisHealthCheck(func() error { return errors.New("dial tcp: connection refused") }).
		WithRoutes(func(r *ginpkg.Engine) {
			r.POST("/capture", func(c *ginpkg.Context) { c.Status(http.StatusAccepted) })
		}).
		Build()

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a degraded service", w.Code)
	}

	var resp infragin.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != infragin.HealthStatusDegraded {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Version != "9.9.9" || resp.Service != "capture-ingest" {
		t.Errorf("identity = %s/%s, want capture-ingest/9.9.9", resp.Service, resp.Version)
	}
	if resp.Checks["redis"].Message != "Redis connection failed" {
		t.Errorf("redis check = %+v", resp.Checks["redis"])
	}

	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/health", http.NoBody))
	if w.Code != http.StatusOK {
		t.Errorf("HEAD /health = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unknown", http.NoBody))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /unknown = %d, want 404", w.Code)
	}
}

func TestServerBuilder_UnhealthyDatabaseReturns503(t *testing.T) {
	server := infragin.NewServerBuilder("capture-ingest", 8089).
		WithDatabaseHealthCheck(func() error { return errors.New("down") }).
		Build()

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestServer_ShutdownRunsHooksOnce(t *testing.T) {
	calls := 0
	server := infragin.NewServerBuilder("capture-ingest", 0).
		WithHost("127.0.0.1").
		WithShutdownTimeout(time.Second).
		WithShutdownHook(func() { calls++ }).
		Build()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Serve(ln) }()

	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v, want nil after shutdown", err)
	}
	if calls != 1 {
		t.Errorf("shutdown hook ran %d times, want 1", calls)
	}
}

func TestConfig_Address(t *testing.T) {
	t.Parallel()

	cfg := infragin.NewConfig("capture-ingest", 8089)
	cfg.Host = "127.0.0.1"
	if got := cfg.Address(); got != "127.0.0.1:8089" {
		t.Errorf("Address = %q, want 127.0.0.1:8089", got)
	}
}
