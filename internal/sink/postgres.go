package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

const (
	// columnsPerRow is the number of columns inserted per capture row.
	columnsPerRow = 10

	// insertBatchSize is the maximum number of rows per INSERT statement.
	insertBatchSize = 50

	// flushTimeout is the context timeout for each flush operation.
	flushTimeout = 5 * time.Second

	// maxPendingBatches bounds how much a failing database can pile up.
	maxPendingBatches = 20
)

// PostgresConfig tunes batching.
type PostgresConfig struct {
	FlushInterval  time.Duration
	FlushThreshold int
}

// PostgresSink batch-inserts captures into the captures table. Rows are
// buffered and written when FlushThreshold is reached or on FlushInterval.
type PostgresSink struct {
	db             *sql.DB
	log            logger.Logger
	flushInterval  time.Duration
	flushThreshold int

	mu      sync.Mutex
	pending []domain.QueueItem
	lastSeq uint64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPostgresSink creates a PostgresSink. Call Start to enable interval flushes.
func NewPostgresSink(db *sql.DB, log logger.Logger, cfg PostgresConfig) *PostgresSink {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = insertBatchSize
	}

	return &PostgresSink{
		db:             db,
		log:            log.With(logger.String("sink", "postgres")),
		flushInterval:  cfg.FlushInterval,
		flushThreshold: cfg.FlushThreshold,
		pending:        make([]domain.QueueItem, 0, cfg.FlushThreshold),
		stop:           make(chan struct{}),
	}
}

// Name implements dispatcher.Consumer.
func (s *PostgresSink) Name() string { return "postgres" }

// Start launches the interval flusher.
func (s *PostgresSink) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Consume buffers item and flushes when the threshold is reached. A failed
// flush keeps the rows and returns the error; a retried item is not buffered
// twice.
func (s *PostgresSink) Consume(ctx context.Context, item domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Sequence > s.lastSeq {
		s.pending = append(s.pending, item)
		s.lastSeq = item.Sequence
	}

	if len(s.pending) < s.flushThreshold {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush writes everything buffered.
func (s *PostgresSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Close stops the flusher and writes the remaining rows.
func (s *PostgresSink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return s.Flush(ctx)
}

func (s *PostgresSink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := s.Flush(ctx); err != nil {
				s.log.Error("Interval flush failed", logger.Error(err))
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// flushLocked writes pending rows in chunks of insertBatchSize. Chunks that
// were written are removed even when a later chunk fails.
func (s *PostgresSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	written := 0
	for written < len(s.pending) {
		end := min(written+insertBatchSize, len(s.pending))
		if err := s.batchInsert(ctx, s.pending[written:end]); err != nil {
			s.pending = s.pending[written:]
			s.trimLocked()
			return err
		}
		written = end
	}

	s.log.Debug("Flushed captures", logger.Int("total", written))
	s.pending = s.pending[:0]
	return nil
}

// trimLocked drops the oldest rows once the backlog passes its bound.
func (s *PostgresSink) trimLocked() {
	limit := s.flushThreshold * maxPendingBatches
	if over := len(s.pending) - limit; over > 0 {
		s.log.Warn("Dropping unwritten captures", logger.Int("dropped", over))
		s.pending = append(s.pending[:0:0], s.pending[over:]...)
	}
}

// batchInsert builds and executes a single INSERT statement with multiple value tuples.
func (s *PostgresSink) batchInsert(ctx context.Context, items []domain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	args := make([]any, 0, len(items)*columnsPerRow)
	var sb strings.Builder

	sb.WriteString("INSERT INTO captures (id, sequence, url, normalized_url, fingerprint, " +
		"origin_url, media_kind, observed_at, received_at, enqueued_at) VALUES ")

	for i := range items {
		if i > 0 {
			sb.WriteString(", ")
		}

		writeValueTuple(&sb, i)

		e := items[i].Event
		args = append(args,
			e.ID, int64(items[i].Sequence), e.URL, e.NormalizedURL, e.Fingerprint,
			e.OriginURL, string(e.MediaKind), e.ObservedAt, e.ReceivedAt, items[i].EnqueuedAt,
		)
	}

	sb.WriteString(" ON CONFLICT (id) DO NOTHING")

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("exec batch insert: %w", err)
	}
	return nil
}

// writeValueTuple writes a single ($1, ..., $10) placeholder tuple offset by
// the row index.
func writeValueTuple(sb *strings.Builder, rowIndex int) {
	base := rowIndex * columnsPerRow
	sb.WriteByte('(')
	for col := 1; col <= columnsPerRow; col++ {
		if col > 1 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "$%d", base+col)
	}
	sb.WriteByte(')')
}
