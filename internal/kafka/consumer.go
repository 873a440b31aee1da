package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"storefront-services/internal/store"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader messageReader
	logger *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return newConsumer(reader, logger)
}

func newConsumer(reader messageReader, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: logger,
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// ReadMessage reads the next message without committing it
func (c *Consumer) ReadMessage(ctx context.Context) (*kafka.Message, error) {
	message, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	return &message, nil
}

// CommitMessage commits the offset for a message
func (c *Consumer) CommitMessage(ctx context.Context, message *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *message)
}

// ParseTelemetryEvent decodes a telemetry envelope. Events without a
// timestamp take the message time.
func (c *Consumer) ParseTelemetryEvent(message *kafka.Message) (*store.TelemetryEvent, error) {
	var event store.TelemetryEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.EventID == "" {
		return nil, fmt.Errorf("eventId field is required")
	}
	if event.Type == "" {
		return nil, fmt.Errorf("type field is required")
	}

	if event.Data == nil {
		event.Data = map[string]interface{}{}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = message.Time
	}

	return &event, nil
}

// LogMessage logs a message with structured fields
func (c *Consumer) LogMessage(level string, msg string, message *kafka.Message, event *store.TelemetryEvent, fields ...zap.Field) {
	baseFields := []zap.Field{
		zap.String("topic", message.Topic),
		zap.Int("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.String("key", string(message.Key)),
	}

	if event != nil {
		baseFields = append(baseFields,
			zap.String("eventId", event.EventID),
			zap.String("type", event.Type),
		)
	}

	baseFields = append(baseFields, fields...)

	switch level {
	case "error":
		c.logger.Error(msg, baseFields...)
	case "warn":
		c.logger.Warn(msg, baseFields...)
	case "debug":
		c.logger.Debug(msg, baseFields...)
	default:
		c.logger.Info(msg, baseFields...)
	}
}
