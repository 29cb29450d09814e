// Package ingest runs a capture through validation, dedup and the queue.
// HTTP and MQTT ingress share one Service.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/dedup"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/metrics"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/queue"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/validator"
)

// Ingress labels.
const (
	IngressHTTP = "http"
	IngressMQTT = "mqtt"
)

// Result describes an ingested capture. Item is set only when accepted.
type Result struct {
	Verdict domain.Verdict
	Event   domain.CaptureEvent
	Item    domain.QueueItem
}

// Service is safe for concurrent use.
type Service struct {
	validator *validator.Validator
	store     dedup.Store
	queue     *queue.Queue
	metrics   *metrics.Metrics
	log       logger.Logger

	draining atomic.Bool
}

// NewService wires the pipeline stages together.
func NewService(
	v *validator.Validator,
	store dedup.Store,
	q *queue.Queue,
	m *metrics.Metrics,
	log logger.Logger,
) *Service {
	return &Service{
		validator: v,
		store:     store,
		queue:     q,
		metrics:   m,
		log:       log,
	}
}

// BeginShutdown makes every later call fail with ErrShutdownInProgress.
func (s *Service) BeginShutdown() {
	if s.draining.CompareAndSwap(false, true) {
		s.log.Info("Ingestion stopped accepting captures")
	}
}

// Draining reports whether BeginShutdown has been called.
func (s *Service) Draining() bool {
	return s.draining.Load()
}

// IngestJSON decodes body as a single capture object and ingests it.
func (s *Service) IngestJSON(ctx context.Context, body []byte, ingress string) (Result, error) {
	if s.draining.Load() {
		s.count(metrics.OutcomeShutdown, ingress)
		return Result{}, domain.ErrShutdownInProgress
	}

	raw, err := DecodeCapture(body)
	if err != nil {
		s.reject(err, ingress)
		return Result{}, err
	}
	return s.Ingest(ctx, raw, ingress)
}

// Ingest validates raw, checks it against the dedup store and enqueues it.
// Validation errors are *domain.ValidationError; capacity and shutdown
// errors are domain.ErrQueueFull and domain.ErrShutdownInProgress.
func (s *Service) Ingest(ctx context.Context, raw domain.RawCapture, ingress string) (Result, error) {
	if s.draining.Load() {
		s.count(metrics.OutcomeShutdown, ingress)
		return Result{}, domain.ErrShutdownInProgress
	}

	event, err := s.validator.Validate(raw)
	if err != nil {
		s.reject(err, ingress)
		return Result{}, err
	}

	if s.store.CheckAndInsert(ctx, event.Fingerprint, event.ReceivedAt) == domain.VerdictDuplicate {
		s.count(metrics.OutcomeDuplicate, ingress)
		s.log.Debug("Duplicate capture",
			logger.String("fingerprint", event.Fingerprint),
			logger.String("url", event.URL),
		)
		return Result{Verdict: domain.VerdictDuplicate, Event: event}, nil
	}

	item, err := s.queue.Enqueue(event)
	if err != nil {
		// Forget the fingerprint so the sender's retry is not a duplicate.
		s.store.Release(ctx, event.Fingerprint)

		if errors.Is(err, queue.ErrFull) {
			s.count(metrics.OutcomeQueueFull, ingress)
			s.log.Warn("Ingestion queue full",
				logger.String("fingerprint", event.Fingerprint),
				logger.Int("capacity", s.queue.Cap()),
			)
			return Result{}, domain.ErrQueueFull
		}

		s.count(metrics.OutcomeShutdown, ingress)
		return Result{}, domain.ErrShutdownInProgress
	}

	s.count(metrics.OutcomeAccepted, ingress)
	return Result{Verdict: domain.VerdictAccepted, Event: event, Item: item}, nil
}

func (s *Service) reject(err error, ingress string) {
	s.count(metrics.OutcomeRejected, ingress)
	kind := domain.KindOf(err)
	s.metrics.RejectedTotal.WithLabelValues(string(kind)).Inc()
	s.log.Debug("Rejected capture",
		logger.String("kind", string(kind)),
		logger.String("ingress", ingress),
		logger.Error(err),
	)
}

func (s *Service) count(outcome, ingress string) {
	s.metrics.CapturesTotal.WithLabelValues(outcome, ingress).Inc()
}

// DecodeCapture parses body, which must be a single JSON object.
func DecodeCapture(body []byte) (domain.RawCapture, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.RawCapture{}, domain.NewValidationError(domain.KindMalformedBody, "body", "not a JSON object")
	}

	var raw domain.RawCapture
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return domain.RawCapture{}, domain.NewValidationError(domain.KindMalformedBody, "body", err.Error())
	}
	return raw, nil
}
