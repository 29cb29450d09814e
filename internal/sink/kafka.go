package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka writer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaWriter builds a synchronous writer keyed by fingerprint so all
// sightings of one URL land on the same partition.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},

		BatchSize:    100,
		BatchBytes:   1 << 20, // ~1MB per batch
		BatchTimeout: 5 * time.Millisecond,

		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// KafkaSink publishes each capture as a JSON message.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink creates a KafkaSink on writer. The sink owns the writer.
func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Name implements dispatcher.Consumer.
func (s *KafkaSink) Name() string { return "kafka" }

// Consume implements dispatcher.Consumer.
func (s *KafkaSink) Consume(ctx context.Context, item domain.QueueItem) error {
	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal capture: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(item.Event.Fingerprint),
		Value: value,
		Headers: []kafka.Header{
			{Key: "capture-id", Value: []byte(item.Event.ID)},
			{Key: "sequence", Value: []byte(strconv.FormatUint(item.Sequence, 10))},
			{Key: "media-kind", Value: []byte(item.Event.MediaKind)},
		},
		Time: item.Event.ObservedAt,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
