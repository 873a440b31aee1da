package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"storefront-services/internal/metrics"
	"storefront-services/internal/resilience"
	"storefront-services/internal/store"
)

// OfflineQueueTopic is the DLQ list for offline queue items that exhausted
// their attempts.
const OfflineQueueTopic = "offline_queue"

// Message is a dead-lettered entry, newest first in its list.
type Message struct {
	EventID   string      `json:"eventId"`
	Topic     string      `json:"topic"`
	Partition int         `json:"partition"`
	Offset    int64       `json:"offset"`
	Payload   interface{} `json:"payload"`
	Error     string      `json:"error"`
	FailedAt  time.Time   `json:"failedAt"`
}

type RedisDLQ struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewRedisDLQ(addr, password string, logger *zap.Logger) (*RedisDLQ, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisDLQFromClient(client, logger), nil
}

// NewRedisDLQFromClient shares an existing client, such as the one behind
// the durable store.
func NewRedisDLQFromClient(client *redis.Client, logger *zap.Logger) *RedisDLQ {
	return &RedisDLQ{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (d *RedisDLQ) Close() error {
	return d.client.Close()
}

func key(topic string) string {
	return fmt.Sprintf("dlq:%s", topic)
}

// PushMessage pushes a failed Kafka message to the dead letter queue
func (d *RedisDLQ) PushMessage(ctx context.Context, topic string, partition int, offset int64, payload interface{}, errorMsg string) error {
	msg := Message{
		EventID:   extractEventID(payload),
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Payload:   payload,
		Error:     errorMsg,
		FailedAt:  d.now().UTC(),
	}
	if err := d.push(ctx, msg); err != nil {
		return err
	}

	d.logger.Error("message pushed to DLQ",
		zap.String("eventId", msg.EventID),
		zap.String("topic", topic),
		zap.Int("partition", partition),
		zap.Int64("offset", offset),
		zap.String("error", errorMsg),
	)
	return nil
}

// PushFailedItem dead-letters an offline queue item that will not be retried.
func (d *RedisDLQ) PushFailedItem(ctx context.Context, item resilience.QueuedItem, errorMsg string) error {
	msg := Message{
		EventID:  item.Operation.ID,
		Topic:    OfflineQueueTopic,
		Offset:   int64(item.Attempts),
		Payload:  item,
		Error:    errorMsg,
		FailedAt: d.now().UTC(),
	}
	if err := d.push(ctx, msg); err != nil {
		return err
	}

	d.logger.Error("offline item pushed to DLQ",
		zap.String("operationId", item.Operation.ID),
		zap.String("kind", string(item.Operation.Kind)),
		zap.Int("attempts", item.Attempts),
		zap.String("error", errorMsg),
	)
	return nil
}

func (d *RedisDLQ) push(ctx context.Context, msg Message) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	// Push to Redis list (newest first)
	if err := d.client.LPush(ctx, key(msg.Topic), jsonData).Err(); err != nil {
		return fmt.Errorf("failed to push to DLQ: %w", err)
	}
	metrics.DLQCountTotal.Inc()
	return nil
}

// GetMessages retrieves messages from the dead letter queue
func (d *RedisDLQ) GetMessages(ctx context.Context, topic string, start, stop int64) ([]string, error) {
	return d.client.LRange(ctx, key(topic), start, stop).Result()
}

// extractEventID attempts to extract eventId from the payload
func extractEventID(payload interface{}) string {
	switch p := payload.(type) {
	case map[string]interface{}:
		if eventID, ok := p["eventId"].(string); ok {
			return eventID
		}
	case *store.TelemetryEvent:
		if p.EventID != "" {
			return p.EventID
		}
	}
	return "unknown"
}
