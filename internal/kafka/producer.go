package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"storefront-services/internal/resilience"
	"storefront-services/internal/store"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
	now    func() time.Time
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return newProducer(writer, topic, logger)
}

func newProducer(writer messageWriter, topic string, logger *zap.Logger) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		logger: logger,
		now:    time.Now,
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Track publishes a telemetry event. It is the telemetry sink used by the
// offline queue, so a failed publish is retried or queued by the caller.
// eventID becomes the event's id; an empty one gets a fresh uuid.
func (p *Producer) Track(ctx context.Context, eventID, name string, properties map[string]interface{}) error {
	if name == "" {
		return &resilience.CodedError{Code: resilience.CodeInvalidArgument, Message: "event name is required"}
	}
	if properties == nil {
		properties = map[string]interface{}{}
	}
	if eventID == "" {
		eventID = uuid.New().String()
	}

	return p.PublishEvent(ctx, &store.TelemetryEvent{
		EventID:   eventID,
		Type:      name,
		Timestamp: p.now().UTC(),
		Data:      properties,
	})
}

// PublishEvent publishes an event keyed by its type
func (p *Producer) PublishEvent(ctx context.Context, event *store.TelemetryEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.Type),
		Value: jsonData,
		Time:  p.now(),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.logger.Info("event published to Kafka",
		zap.String("eventId", event.EventID),
		zap.String("type", event.Type),
		zap.String("topic", p.topic),
	)

	return nil
}
