package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka shipper configuration
type KafkaConfig struct {
	// Brokers is the bootstrap broker list (host:port)
	Brokers []string `json:"brokers"`
	// Topic receives one message per audit entry
	Topic string `json:"topic"`
	// BatchTimeout caps how long the writer waits to fill a batch
	BatchTimeout time.Duration `json:"batch_timeout"`
	// AllowAutoTopicCreation lets the broker create Topic on first write
	AllowAutoTopicCreation bool `json:"allow_auto_topic_creation"`
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaShipper publishes audit entries to a Kafka topic keyed by activity, so every
// change to one roster lands on the same partition in order.
type KafkaShipper struct {
	topic  string
	writer messageWriter
}

// NewKafkaShipper creates a Kafka shipper backed by a synchronous kafka.Writer.
func NewKafkaShipper(cfg *KafkaConfig) (*KafkaShipper, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
	}
	return newKafkaShipper(cfg.Topic, writer), nil
}

func newKafkaShipper(topic string, w messageWriter) *KafkaShipper {
	return &KafkaShipper{topic: topic, writer: w}
}

// Ship publishes one entry and waits for the broker acknowledgement.
func (ks *KafkaShipper) Ship(ctx context.Context, entry *LogEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strings.ToLower(entry.Activity)),
		Value: value,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if entry.RequestID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request_id", Value: []byte(entry.RequestID)})
	}

	if err := ks.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish audit entry to %s: %w", ks.topic, err)
	}
	return nil
}

// Close flushes pending writes and closes broker connections.
func (ks *KafkaShipper) Close() error {
	return ks.writer.Close()
}
