package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// EntityEvent represents a lifecycle event about a canonical entity
type EntityEvent struct {
	EventType     string          `json:"event_type"` // created, updated, merged, held, rejected
	EntityID      string          `json:"entity_id"`
	EntityType    string          `json:"entity_type"`
	RunID         string          `json:"run_id,omitempty"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
	SourceRecords []string        `json:"source_records,omitempty"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SnapshotEvent announces that a new publication snapshot became current
type SnapshotEvent struct {
	EventType   string    `json:"event_type"` // snapshot.published
	Version     int64     `json:"version"`
	RunID       string    `json:"run_id"`
	EntityCount int       `json:"entity_count"`
	GeneratedAt time.Time `json:"generated_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// traceHeaders carries the current span downstream so consumers can join the
// trace. Returns nil when there is no active span.
func traceHeaders(ctx context.Context) []kafka.Header {
	tp := tracing.GetTraceParent(ctx)
	if tp == "" {
		return nil
	}
	headers := []kafka.Header{{Key: "traceparent", Value: []byte(tp)}}
	if ts := tracing.GetTraceState(ctx); ts != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(ts)})
	}
	return headers
}

// PublishEntityEvent publishes an entity event to Kafka
func (p *Producer) PublishEntityEvent(ctx context.Context, event *EntityEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEntityEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.EntityID),
		Value: data,
		Headers: append([]kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "entity_type", Value: []byte(event.EntityType)},
		}, traceHeaders(ctx)...),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish entity event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":  event.EventType,
		"entity_id":   event.EntityID,
		"entity_type": event.EntityType,
	}).Debug("Published entity event")

	return nil
}

// PublishEntityEvents publishes multiple entity events in a batch
func (p *Producer) PublishEntityEvents(ctx context.Context, events []*EntityEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishEntityEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.EntityID),
			Value: data,
			Headers: append([]kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "entity_type", Value: []byte(event.EntityType)},
				{Key: "schema_version", Value: []byte("1.0")},
			}, traceHeaders(ctx)...),
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish entity events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published entity events batch")

	return nil
}

// PublishSnapshotEvent publishes a snapshot.published event to Kafka
func (p *Producer) PublishSnapshotEvent(ctx context.Context, event *SnapshotEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishSnapshotEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte("snapshot"),
		Value: data,
		Headers: append([]kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		}, traceHeaders(ctx)...),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish snapshot event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"version": event.Version,
		"run_id":  event.RunID,
	}).Debug("Published snapshot event")

	return nil
}
