package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/middleware"
)

const testRateLimit = 3

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newLimitedRouter(t *testing.T, limit int) *gin.Engine {
	t.Helper()

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	r := gin.New()
	r.Use(middleware.RateLimiter(limit, time.Minute, done))
	r.POST("/capture", func(c *gin.Context) {
		c.String(http.StatusAccepted, "ok")
	})
	return r
}

func send(r *gin.Engine, remoteAddr, origin string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/capture", http.NoBody)
	req.RemoteAddr = remoteAddr
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	r := newLimitedRouter(t, testRateLimit)
	if code := send(r, "127.0.0.1:1234", ""); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	t.Parallel()

	r := newLimitedRouter(t, testRateLimit)
	for i := range testRateLimit {
		if code := send(r, "127.0.0.1:1234", ""); code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, code)
		}
	}

	if code := send(r, "127.0.0.1:1234", ""); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRateLimiter_OriginsIndependent(t *testing.T) {
	t.Parallel()

	r := newLimitedRouter(t, 1)

	if code := send(r, "127.0.0.1:1234", "chrome-extension://abc"); code != http.StatusAccepted {
		t.Fatalf("first origin: expected 202, got %d", code)
	}
	if code := send(r, "127.0.0.1:5678", "moz-extension://def"); code != http.StatusAccepted {
		t.Fatalf("second origin: expected 202, got %d", code)
	}
	if code := send(r, "127.0.0.1:9999", "chrome-extension://abc"); code != http.StatusTooManyRequests {
		t.Fatalf("first origin again: expected 429, got %d", code)
	}
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	t.Parallel()

	r := newLimitedRouter(t, 1)

	if code := send(r, "10.0.0.1:1234", ""); code != http.StatusAccepted {
		t.Fatalf("first IP: expected 202, got %d", code)
	}
	if code := send(r, "10.0.0.2:1234", ""); code != http.StatusAccepted {
		t.Fatalf("second IP: expected 202, got %d", code)
	}
}
