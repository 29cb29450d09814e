package handler_test

import (
	"testing"

	infragin "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/handler"
)

func TestQueueHealthCheck(t *testing.T) {
	t.Parallel()

	length := 0
	check := handler.QueueHealthCheck(func() int { return length }, func() int { return 10 })

	if got := check(); got.Status != infragin.HealthStatusHealthy || got.Message != "queue 0/10" {
		t.Errorf("empty queue: got %+v", got)
	}

	length = 9
	if got := check(); got.Status != infragin.HealthStatusDegraded {
		t.Errorf("90%% full queue: got %s, want degraded", got.Status)
	}
}

func TestDedupHealthCheck(t *testing.T) {
	t.Parallel()

	check := handler.DedupHealthCheck(func() int { return 12 }, 10)
	if got := check(); got.Status != infragin.HealthStatusDegraded {
		t.Errorf("over capacity: got %s, want degraded", got.Status)
	}
}

func TestIngestHealthCheck(t *testing.T) {
	t.Parallel()

	draining := false
	check := handler.IngestHealthCheck(func() bool { return draining })

	if got := check(); got.Status != infragin.HealthStatusHealthy {
		t.Errorf("running: got %s", got.Status)
	}
	draining = true
	if got := check(); got.Status != infragin.HealthStatusUnhealthy {
		t.Errorf("draining: got %s, want unhealthy", got.Status)
	}
}
