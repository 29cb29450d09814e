package sink_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jonesrussell/north-cloud/capture-ingest/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/sink"
)

var insertPrefix = regexp.QuoteMeta("INSERT INTO captures (id, sequence, url, normalized_url, fingerprint, " +
	"origin_url, media_kind, observed_at, received_at, enqueued_at) VALUES ")

func newTestItem(t *testing.T, seq uint64) domain.QueueItem {
	t.Helper()

	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	return domain.QueueItem{
		Sequence:   seq,
		EnqueuedAt: now,
		Event: domain.CaptureEvent{
			ID:            "id-" + string(rune('a'+seq)),
			URL:           "https://cdn.example.com/seg.m3u8",
			NormalizedURL: "https://cdn.example.com/seg.m3u8",
			Fingerprint:   "fp",
			OriginURL:     "https://watch.example.com/",
			MediaKind:     domain.MediaHLS,
			ObservedAt:    now.Add(-time.Second),
			ReceivedAt:    now,
		},
	}
}

func newPostgresSink(t *testing.T, threshold int) (*sink.PostgresSink, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := sink.NewPostgresSink(db, logger.NewNop(), sink.PostgresConfig{
		FlushInterval:  time.Hour,
		FlushThreshold: threshold,
	})
	return s, mock
}

func TestPostgresSink_FlushesAtThreshold(t *testing.T) {
	t.Parallel()

	s, mock := newPostgresSink(t, 2)
	ctx := context.Background()

	mock.ExpectExec(insertPrefix+`\(\$1, .*\$10\), \(\$11, .*\$20\) ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(
			"id-b", int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), "fp", sqlmock.AnyArg(), "hls",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"id-c", int64(2), sqlmock.AnyArg(), sqlmock.AnyArg(), "fp", sqlmock.AnyArg(), "hls",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.Consume(ctx, newTestItem(t, 1)); err != nil {
		t.Fatalf("Consume 1: %v", err)
	}
	if err := s.Consume(ctx, newTestItem(t, 2)); err != nil {
		t.Fatalf("Consume 2: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSink_RetryDoesNotDuplicateRows(t *testing.T) {
	t.Parallel()

	s, mock := newPostgresSink(t, 1)
	ctx := context.Background()
	item := newTestItem(t, 1)

	mock.ExpectExec(insertPrefix).WillReturnError(errors.New("connection refused"))
	mock.ExpectExec(insertPrefix+`\(\$1, .*\$10\) ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Consume(ctx, item); err == nil {
		t.Fatal("expected error from failing insert")
	}
	if err := s.Consume(ctx, item); err != nil {
		t.Fatalf("retried Consume: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSink_CloseFlushesRemainder(t *testing.T) {
	t.Parallel()

	s, mock := newPostgresSink(t, 10)
	s.Start()

	mock.ExpectExec(insertPrefix).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Consume(context.Background(), newTestItem(t, 1)); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresSink_CloseWithNothingPending(t *testing.T) {
	t.Parallel()

	s, mock := newPostgresSink(t, 10)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected statements: %v", err)
	}
}
