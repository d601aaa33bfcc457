// Package events publishes served searches for downstream analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/domain"
)

// DefaultTopic receives search events when no topic is configured
const DefaultTopic = "product-cache.searches"

// Publisher emits search events
type Publisher interface {
	Publish(ctx context.Context, event domain.SearchEvent) error
	Close() error
}

// Noop discards every event
type Noop struct{}

// Publish discards event
func (Noop) Publish(ctx context.Context, event domain.SearchEvent) error { return nil }

// Close does nothing
func (Noop) Close() error { return nil }

// Options configures the Kafka publisher
type Options struct {
	Brokers []string
	Topic   string
}

// messageWriter is the subset of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes search events to a Kafka topic, keyed by cache key so
// every event for a key lands on the same partition
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// New returns a Kafka publisher, or Noop when no brokers are configured
func New(opts Options, logger *zap.Logger) Publisher {
	if len(opts.Brokers) == 0 {
		return Noop{}
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return newKafkaPublisher(writer, opts.Topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger.Named("events.kafka"),
	}
}

// Publish encodes event as JSON and hands it to the writer
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.SearchEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode search event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.CacheKey),
		Value: data,
		Time:  event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish search event to %s: %w", p.topic, err)
	}

	p.logger.Debug("published search event",
		zap.String("key", event.CacheKey),
		zap.String("source", string(event.Source)))
	return nil
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
