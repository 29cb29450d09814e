// Package sink holds the dispatcher consumers that forward captures to logs,
// in-process channels, Postgres, Kafka, Redis and object storage.
package sink

import (
	"github.com/jonesrussell/north-cloud/capture-ingest/internal/dispatcher"
)

// Sink is a consumer that owns resources released after the dispatcher drains.
type Sink interface {
	dispatcher.Consumer
	Close() error
}
