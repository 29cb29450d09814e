// Package metrics holds the Prometheus metrics of the capture ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every capture-ingest metric.
const Namespace = "capture_ingest"

// Outcome labels for CapturesTotal.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeQueueFull = "queue_full"
	OutcomeShutdown  = "shutdown"
)

// Metrics holds all pipeline metrics.
type Metrics struct {
	// Ingest
	CapturesTotal *prometheus.CounterVec
	RejectedTotal *prometheus.CounterVec

	// Dedup
	DedupCapacityPressure prometheus.Counter
	DedupEvictions        prometheus.Counter

	// Dispatch
	DeliveredTotal      *prometheus.CounterVec
	DeliveryFailures    *prometheus.CounterVec
	ConsumerDrops       *prometheus.CounterVec
	DeliveryLatency     *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initIngestMetrics(factory)
	m.initDedupMetrics(factory)
	m.initDispatchMetrics(factory)

	return m
}

func (m *Metrics) initIngestMetrics(factory promauto.Factory) {
	m.CapturesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "captures_total",
			Help:      "Capture submissions by outcome and ingress",
		},
		[]string{"outcome", "ingress"},
	)

	m.RejectedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "captures_rejected_total",
			Help:      "Rejected captures by error kind",
		},
		[]string{"kind"},
	)
}

func (m *Metrics) initDedupMetrics(factory promauto.Factory) {
	m.DedupCapacityPressure = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dedup",
			Name:      "capacity_pressure_total",
			Help:      "Inserts made while the dedup store was full of unexpired entries",
		},
	)

	m.DedupEvictions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dedup",
			Name:      "evictions_total",
			Help:      "Expired dedup entries removed",
		},
	)
}

func (m *Metrics) initDispatchMetrics(factory promauto.Factory) {
	m.DeliveredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "delivered_total",
			Help:      "Items successfully consumed, by consumer",
		},
		[]string{"consumer"},
	)

	m.DeliveryFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Items a consumer failed to process after all attempts",
		},
		[]string{"consumer"},
	)

	m.ConsumerDrops = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Oldest buffered items dropped because a consumer buffer was full",
		},
		[]string{"consumer"},
	)

	m.DeliveryLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "delivery_latency_seconds",
			Help:      "Time from enqueue to successful consume",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"consumer"},
	)

	m.CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "dispatch",
			Name:      "circuit_breaker_state",
			Help:      "Consumer circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"consumer"},
	)
}

// RegisterQueueGauges exposes queue depth and capacity through callbacks.
func RegisterQueueGauges(reg prometheus.Registerer, depth, capacity func() int) {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Items waiting in the ingestion queue",
		},
		func() float64 { return float64(depth()) },
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "capacity",
			Help:      "Ingestion queue capacity",
		},
		func() float64 { return float64(capacity()) },
	)
}
