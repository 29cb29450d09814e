// Package dispatcher fans queued captures out to registered consumers. Each
// consumer has its own bounded buffer; a slow consumer loses its oldest
// buffered items and never holds up the queue or other consumers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/metrics"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/queue"
)

// Default dispatcher settings.
const (
	DefaultBufferSize   = 256
	DefaultDrainTimeout = 10 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Register after Start.
	ErrAlreadyStarted = errors.New("dispatcher already started")
	// ErrDrainTimeout is returned by Wait when consumers did not finish in time.
	ErrDrainTimeout = errors.New("dispatcher drain timed out")
)

// Consumer processes captures. Consume is called from a single goroutine
// per consumer, in sequence order.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, item domain.QueueItem) error
}

// Source is where the dispatcher reads items from. Dequeue returns
// queue.ErrClosed once the source is closed and drained.
type Source interface {
	Dequeue(ctx context.Context) (domain.QueueItem, error)
}

// Config configures the dispatcher.
type Config struct {
	BufferSize int
	Retry      retry.Config
	Breaker    circuitbreaker.Config
}

// Dispatcher reads from a Source and offers each item to every consumer.
type Dispatcher struct {
	source  Source
	cfg     Config
	log     logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	subs    []*subscription
	started bool

	deliverCtx    context.Context
	cancelDeliver context.CancelFunc
	loopDone      chan struct{}
	workers       sync.WaitGroup
}

// New creates a Dispatcher. Register consumers before calling Start.
func New(source Source, cfg Config, log logger.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Retry.IsRetryable == nil {
		cfg.Retry.IsRetryable = retryable
	}

	return &Dispatcher{
		source:   source,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		loopDone: make(chan struct{}),
	}
}

// Register adds a consumer with its own buffer and circuit breaker.
func (d *Dispatcher) Register(c Consumer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}

	name := c.Name()
	breakerCfg := d.cfg.Breaker
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		d.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		d.log.Warn("Consumer circuit breaker state changed",
			logger.String("consumer", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}

	d.subs = append(d.subs, &subscription{
		consumer: c,
		name:     name,
		items:    make(chan domain.QueueItem, d.cfg.BufferSize),
		breaker:  circuitbreaker.New(breakerCfg),
	})
	d.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
	return nil
}

// Consumers returns the registered consumer names.
func (d *Dispatcher) Consumers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.subs))
	for _, s := range d.subs {
		names = append(names, s.name)
	}
	return names
}

// Start launches the dispatch loop and one worker per consumer. The loop
// stops when ctx is done or the source is closed and drained; consumers then
// finish what is already in their buffers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	subs := d.subs
	d.mu.Unlock()

	// Consumers keep running past ctx so buffered items can drain; Wait
	// cancels them on timeout.
	d.deliverCtx, d.cancelDeliver = context.WithCancel(context.WithoutCancel(ctx))

	for _, s := range subs {
		d.workers.Add(1)
		go d.runWorker(s)
	}

	go d.loop(ctx, subs)

	d.log.Info("Dispatcher started",
		logger.Int("consumers", len(subs)),
		logger.Int("buffer_size", d.cfg.BufferSize),
	)
}

// Wait blocks until the loop has stopped and every consumer has drained, or
// timeout elapses. On timeout in-flight consumes are cancelled.
func (d *Dispatcher) Wait(timeout time.Duration) error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil
	}

	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}

	done := make(chan struct{})
	go func() {
		<-d.loopDone
		d.workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		d.cancelDeliver()
		d.log.Info("Dispatcher drained")
		return nil
	case <-timer.C:
		d.cancelDeliver()
		d.log.Warn("Dispatcher drain timed out", logger.Duration("timeout", timeout))
		return fmt.Errorf("%w after %s", ErrDrainTimeout, timeout)
	}
}

func (d *Dispatcher) loop(ctx context.Context, subs []*subscription) {
	defer close(d.loopDone)
	defer func() {
		for _, s := range subs {
			close(s.items)
		}
	}()

	for {
		item, err := d.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				d.log.Info("Ingestion queue closed and drained")
			} else {
				d.log.Info("Dispatcher stopping", logger.Error(err))
			}
			return
		}

		for _, s := range subs {
			if dropped, ok := s.offer(item); ok {
				d.metrics.ConsumerDrops.WithLabelValues(s.name).Inc()
				d.log.Warn(domain.ErrConsumerBufferFull.Error(),
					logger.String("consumer", s.name),
					logger.Uint64("dropped_sequence", dropped.Sequence),
					logger.String("dropped_id", dropped.Event.ID),
					logger.Uint64("sequence", item.Sequence),
				)
			}
		}
	}
}

func (d *Dispatcher) runWorker(s *subscription) {
	defer d.workers.Done()

	for item := range s.items {
		d.deliver(s, item)
	}
}

func (d *Dispatcher) deliver(s *subscription, item domain.QueueItem) {
	err := retry.Retry(d.deliverCtx, d.cfg.Retry, func() error {
		return s.breaker.Execute(func() error {
			return s.consumer.Consume(d.deliverCtx, item)
		})
	})
	if err != nil {
		d.metrics.DeliveryFailures.WithLabelValues(s.name).Inc()
		d.log.Error("Consumer failed to process capture",
			logger.String("consumer", s.name),
			logger.Uint64("sequence", item.Sequence),
			logger.String("id", item.Event.ID),
			logger.String("fingerprint", item.Event.Fingerprint),
			logger.Error(err),
		)
		return
	}

	d.metrics.DeliveredTotal.WithLabelValues(s.name).Inc()
	d.metrics.DeliveryLatency.WithLabelValues(s.name).Observe(time.Since(item.EnqueuedAt).Seconds())
}

// retryable retries consumer errors except an open breaker, which will keep
// rejecting until its timeout.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, circuitbreaker.ErrCircuitOpen)
}

type subscription struct {
	consumer Consumer
	name     string
	items    chan domain.QueueItem
	breaker  *circuitbreaker.Breaker
}

// offer adds item without blocking. When the buffer is full the oldest
// buffered item is removed and returned with ok set. Only the dispatch loop
// sends, so a receive always frees a slot.
func (s *subscription) offer(item domain.QueueItem) (dropped domain.QueueItem, ok bool) {
	select {
	case s.items <- item:
		return domain.QueueItem{}, false
	default:
	}

	select {
	case dropped = <-s.items:
		ok = true
	default:
		// The worker took one in between.
	}
	s.items <- item
	return dropped, ok
}
