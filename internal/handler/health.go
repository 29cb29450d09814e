package handler

import (
	"fmt"

	infragin "github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/gin"
)

// degradedRatio is the fill level at which a bounded structure reports degraded.
const degradedRatio = 0.9

// QueueHealthCheck reports the ingestion queue fill level.
func QueueHealthCheck(length, capacity func() int) infragin.HealthChecker {
	return func() infragin.CheckResult {
		return fillCheck("queue", length(), capacity())
	}
}

// DedupHealthCheck reports the in-memory dedup store fill level. Entries over
// capacity are allowed, so this only ever degrades.
func DedupHealthCheck(length func() int, capacity int) infragin.HealthChecker {
	return func() infragin.CheckResult {
		return fillCheck("dedup store", length(), capacity)
	}
}

// IngestHealthCheck reports unhealthy once ingestion has begun shutting down.
func IngestHealthCheck(draining func() bool) infragin.HealthChecker {
	return func() infragin.CheckResult {
		if draining() {
			return infragin.CheckResult{Status: infragin.HealthStatusUnhealthy, Message: "shutting down"}
		}
		return infragin.CheckResult{Status: infragin.HealthStatusHealthy, Message: "accepting captures"}
	}
}

func fillCheck(name string, length, capacity int) infragin.CheckResult {
	msg := fmt.Sprintf("%s %d/%d", name, length, capacity)
	if capacity > 0 && float64(length) >= degradedRatio*float64(capacity) {
		return infragin.CheckResult{Status: infragin.HealthStatusDegraded, Message: msg}
	}
	return infragin.CheckResult{Status: infragin.HealthStatusHealthy, Message: msg}
}
