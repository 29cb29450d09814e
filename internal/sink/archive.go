package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

const (
	archivePrefix      = "captures"
	archiveContentType = "application/x-ndjson"
	defaultArchiveSize = 500
)

// ObjectStore is the subset of *minio.Client used by ArchiveSink.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts miniogo.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64,
		opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
}

// ArchiveConfig configures the MinIO client and batching.
type ArchiveConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

// NewMinIOClient connects to MinIO with static credentials.
func NewMinIOClient(cfg ArchiveConfig) (*miniogo.Client, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// ArchiveSink writes captures to object storage as JSON Lines, one object
// per batch, under captures/YYYY/MM/DD/<first-seq>-<last-seq>.jsonl.
type ArchiveSink struct {
	store         ObjectStore
	bucket        string
	batchSize     int
	flushInterval time.Duration
	log           logger.Logger

	mu      sync.Mutex
	pending []domain.QueueItem
	lastSeq uint64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewArchiveSink creates an ArchiveSink and makes sure the bucket exists.
func NewArchiveSink(ctx context.Context, store ObjectStore, cfg ArchiveConfig, log logger.Logger) (*ArchiveSink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultArchiveSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}

	if err := ensureBucket(ctx, store, cfg.Bucket); err != nil {
		return nil, err
	}

	return &ArchiveSink{
		store:         store,
		bucket:        cfg.Bucket,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		log:           log.With(logger.String("sink", "archive")),
		stop:          make(chan struct{}),
	}, nil
}

func ensureBucket(ctx context.Context, store ObjectStore, bucket string) error {
	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := store.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// Name implements dispatcher.Consumer.
func (s *ArchiveSink) Name() string { return "archive" }

// Start launches the interval flusher.
func (s *ArchiveSink) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.Flush(context.Background()); err != nil {
					s.log.Error("Interval archive failed", logger.Error(err))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Consume buffers item and uploads a batch once BatchSize items are pending.
func (s *ArchiveSink) Consume(ctx context.Context, item domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Sequence > s.lastSeq {
		s.pending = append(s.pending, item)
		s.lastSeq = item.Sequence
	}
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.uploadLocked(ctx)
}

// Flush uploads whatever is pending.
func (s *ArchiveSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadLocked(ctx)
}

// Close stops the flusher and uploads the remainder.
func (s *ArchiveSink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return s.Flush(ctx)
}

func (s *ArchiveSink) uploadLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range s.pending {
		if err := enc.Encode(s.pending[i]); err != nil {
			return fmt.Errorf("encode capture: %w", err)
		}
	}

	first, last := s.pending[0], s.pending[len(s.pending)-1]
	key := ObjectKey(first.EnqueuedAt, first.Sequence, last.Sequence)

	_, err := s.store.PutObject(ctx, s.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		miniogo.PutObjectOptions{
			ContentType: archiveContentType,
			UserMetadata: map[string]string{
				"first-sequence": fmt.Sprint(first.Sequence),
				"last-sequence":  fmt.Sprint(last.Sequence),
				"count":          fmt.Sprint(len(s.pending)),
			},
		},
	)
	if err != nil {
		if over := len(s.pending) - s.batchSize*maxPendingBatches; over > 0 {
			s.log.Warn("Dropping unarchived captures", logger.Int("dropped", over))
			s.pending = append(s.pending[:0:0], s.pending[over:]...)
		}
		return fmt.Errorf("upload %s: %w", key, err)
	}

	s.log.Debug("Archived captures",
		logger.String("object_key", key),
		logger.Int("count", len(s.pending)),
	)
	s.pending = s.pending[:0]
	return nil
}

// ObjectKey returns the archive object name for a batch.
func ObjectKey(t time.Time, firstSeq, lastSeq uint64) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%d-%d.jsonl",
		archivePrefix, t.Year(), t.Month(), t.Day(), firstSeq, lastSeq)
}
