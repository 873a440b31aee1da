package dlq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"storefront-services/internal/resilience"
	"storefront-services/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var failedAt = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

func newTestDLQ(t *testing.T) *RedisDLQ {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisDLQFromClient(client, zap.NewNop())
	d.now = func() time.Time { return failedAt }
	t.Cleanup(func() { d.Close() })
	return d
}

func TestPushMessageNewestFirst(t *testing.T) {
	d := newTestDLQ(t)
	ctx := context.Background()

	require.NoError(t, d.PushMessage(ctx, "telemetry", 0, 10, "not json", "failed to unmarshal event"))
	require.NoError(t, d.PushMessage(ctx, "telemetry", 1, 11, &store.TelemetryEvent{EventID: "e2", Type: "cart_viewed"}, "insert failed"))

	raw, err := d.GetMessages(ctx, "telemetry", 0, -1)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	var newest Message
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &newest))
	assert.Equal(t, "e2", newest.EventID)
	assert.Equal(t, int64(11), newest.Offset)
	assert.Equal(t, "insert failed", newest.Error)
	assert.True(t, failedAt.Equal(newest.FailedAt))

	var oldest Message
	require.NoError(t, json.Unmarshal([]byte(raw[1]), &oldest))
	assert.Equal(t, "unknown", oldest.EventID)
	assert.Equal(t, "not json", oldest.Payload)
}

func TestPushFailedItem(t *testing.T) {
	d := newTestDLQ(t)
	ctx := context.Background()

	op := resilience.NewStorageWrite("orders", json.RawMessage(`{"id":"o1"}`))
	op.ID = "op-1"
	item := resilience.QueuedItem{Operation: op, Attempts: 3, EnqueuedAt: failedAt.Add(-time.Hour)}

	require.NoError(t, d.PushFailedItem(ctx, item, "server unavailable"))

	raw, err := d.GetMessages(ctx, OfflineQueueTopic, 0, 0)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &msg))
	assert.Equal(t, "op-1", msg.EventID)
	assert.Equal(t, OfflineQueueTopic, msg.Topic)
	assert.Equal(t, int64(3), msg.Offset)
	assert.Equal(t, "server unavailable", msg.Error)
}

func TestExtractEventID(t *testing.T) {
	assert.Equal(t, "e1", extractEventID(map[string]interface{}{"eventId": "e1"}))
	assert.Equal(t, "unknown", extractEventID(map[string]interface{}{"eventId": 5}))
	assert.Equal(t, "unknown", extractEventID(&store.TelemetryEvent{}))
	assert.Equal(t, "unknown", extractEventID(42))
}
