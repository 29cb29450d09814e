package sink

import (
	"context"
	"sync"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

// ChannelSink hands captures to an in-process reader, such as a download
// worker embedded in the same binary.
type ChannelSink struct {
	name  string
	items chan domain.QueueItem
	once  sync.Once
}

// NewChannelSink creates a ChannelSink with room for buffer items.
func NewChannelSink(name string, buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{name: name, items: make(chan domain.QueueItem, buffer)}
}

// Name implements dispatcher.Consumer.
func (s *ChannelSink) Name() string { return s.name }

// C returns the receive side. It is closed by Close.
func (s *ChannelSink) C() <-chan domain.QueueItem { return s.items }

// Consume blocks until the reader takes the item or ctx is done. Backlog
// beyond the channel buffer is absorbed by the dispatcher's drop-oldest buffer.
func (s *ChannelSink) Consume(ctx context.Context, item domain.QueueItem) error {
	select {
	case s.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel. Call only after the dispatcher has drained.
func (s *ChannelSink) Close() error {
	s.once.Do(func() { close(s.items) })
	return nil
}
