package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"storefront-services/internal/resilience"
	"storefront-services/internal/store"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	messages  []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.messages) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestTrackPublishesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "storefront-telemetry", zap.NewNop())
	now := time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	err := p.Track(context.Background(), "", "promotion_applied", map[string]interface{}{"promotionId": "p1"})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "promotion_applied", string(msg.Key))

	var event store.TelemetryEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "promotion_applied", event.Type)
	assert.True(t, now.Equal(event.Timestamp))
	assert.Equal(t, "p1", event.Data["promotionId"])

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestTrackReusesEventIDAcrossAttempts(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "storefront-telemetry", zap.NewNop())

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Track(context.Background(), "op-42", "checkout_started", nil))
	}
	require.Len(t, w.messages, 2)

	for _, msg := range w.messages {
		var event store.TelemetryEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, "op-42", event.EventID)
	}
}

func TestTrackErrors(t *testing.T) {
	brokerErr := errors.New("broker down")
	p := newProducer(&fakeWriter{err: brokerErr}, "t", zap.NewNop())

	err := p.Track(context.Background(), "e1", "", nil)
	assert.Equal(t, resilience.ClientError, resilience.Classify(err))

	err = p.Track(context.Background(), "e1", "app_opened", nil)
	assert.ErrorIs(t, err, brokerErr)
}

func TestParseTelemetryEvent(t *testing.T) {
	c := newConsumer(&fakeReader{}, zap.NewNop())
	msgTime := time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

	event, err := c.ParseTelemetryEvent(&kafka.Message{
		Value: []byte(`{"eventId":"e1","type":"cart_viewed"}`),
		Time:  msgTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", event.EventID)
	assert.Equal(t, msgTime, event.Timestamp)
	assert.NotNil(t, event.Data)

	for _, raw := range []string{`not json`, `{"type":"x"}`, `{"eventId":"e2"}`} {
		_, err := c.ParseTelemetryEvent(&kafka.Message{Value: []byte(raw)})
		assert.Error(t, err, raw)
	}
}

func TestConsumerReadAndCommit(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{{Topic: "t", Offset: 7, Value: []byte(`{}`)}}}
	c := newConsumer(r, zap.NewNop())
	ctx := context.Background()

	msg, err := c.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.Offset)

	require.NoError(t, c.CommitMessage(ctx, msg))
	require.Len(t, r.committed, 1)

	_, err = c.ReadMessage(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogMessageFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	c := newConsumer(&fakeReader{}, zap.New(core))

	msg := &kafka.Message{Topic: "t", Partition: 2, Offset: 9, Key: []byte("k")}
	c.LogMessage("warn", "slow insert", msg, &store.TelemetryEvent{EventID: "e1", Type: "cart_viewed"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "slow insert", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "e1", fields["eventId"])
	assert.Equal(t, int64(9), fields["offset"])
}
