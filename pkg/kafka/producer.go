// Package kafka publishes pipeline completion events so downstream
// consumers (cache invalidators, notifiers) learn when a collection has
// been rebuilt.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stackoff/stackoff/pkg/config"
)

// CollectionIndexed is the payload published after a full indexing pass
// over one collection.
type CollectionIndexed struct {
	Collection string    `json:"collection"`
	Kind       string    `json:"kind"`
	LinesRead  int64     `json:"lines_read"`
	Accepted   int64     `json:"accepted"`
	FinishedAt time.Time `json:"finished_at"`
}

// Producer publishes JSON-encoded events to a Kafka topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer creates a Producer for the configured index-complete topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.IndexCompleteTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", cfg.IndexCompleteTopic),
	}
}

// PublishCollectionIndexed writes one completion event, keyed by collection
// name, synchronously.
func (p *Producer) PublishCollectionIndexed(ctx context.Context, event CollectionIndexed) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling completion event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Collection),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish completion event",
			"collection", event.Collection,
			"error", err,
		)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("completion event published",
		"collection", event.Collection,
		"accepted", event.Accepted,
	)
	return nil
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
