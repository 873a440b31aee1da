// Package resilience runs side-effecting operations with retry, backoff and
// a durable offline queue that is replayed when connectivity returns.
package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"storefront-services/internal/connectivity"
	"storefront-services/internal/metrics"
	"storefront-services/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OfflineQueueKey is the durable storage key holding the queued items.
const OfflineQueueKey = "offline_queue"

// Config controls retry behaviour.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxJitter  time.Duration
	// QueueOnExhaustion parks retryable operations in the offline queue once
	// their in-process retries run out.
	QueueOnExhaustion bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		MaxJitter:         time.Second,
		QueueOnExhaustion: true,
	}
}

// NetworkStatus reports whether the device is online.
type NetworkStatus interface {
	Online() bool
}

// DeadLetterSink receives items dropped after exhausting their attempts.
type DeadLetterSink interface {
	PushFailedItem(ctx context.Context, item QueuedItem, errorMsg string) error
}

type Option func(*Queue)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithSleep overrides the backoff wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = sleep }
}

// WithJitter overrides the random jitter source. fn must return a value in
// [0, max].
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(q *Queue) { q.jitter = fn }
}

func WithDeadLetter(sink DeadLetterSink) Option {
	return func(q *Queue) { q.deadLetter = sink }
}

type Queue struct {
	cfg        Config
	store      storage.Store
	exec       Executors
	network    NetworkStatus
	deadLetter DeadLetterSink
	logger     *zap.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration

	mu             sync.Mutex
	items          []QueuedItem
	errors         []ErrorRecord
	listeners      map[int]Listener
	listenerOrder  []int
	nextListenerID int

	// serialises drain passes
	drainMu sync.Mutex
}

func New(cfg Config, store storage.Store, exec Executors, network NetworkStatus, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		cfg:       cfg,
		store:     store,
		exec:      exec,
		network:   network,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		jitter:    randomJitter,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load restores the offline queue from durable storage. Call it once at
// startup before serving traffic.
func (q *Queue) Load(ctx context.Context) error {
	raw, ok, err := q.store.Get(ctx, OfflineQueueKey)
	if err != nil {
		return fmt.Errorf("failed to load offline queue: %w", err)
	}

	var stored []QueuedItem
	if ok {
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("failed to decode offline queue: %w", err)
		}
	}

	items := make([]QueuedItem, 0, len(stored))
	var invalid []QueuedItem
	for _, item := range stored {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if err := item.Operation.Validate(); err != nil {
			invalid = append(invalid, item)
			continue
		}
		items = append(items, item)
	}

	q.mu.Lock()
	q.items = items
	if len(invalid) > 0 {
		q.persistLocked(ctx)
	}
	q.mu.Unlock()

	// entries that fail validation are dead-lettered, never replayed
	for _, item := range invalid {
		invalidErr := &CodedError{Code: CodeInvalidArgument, Message: item.Operation.Validate().Error()}
		q.recordError(item.Operation, invalidErr, item.Attempts)
		q.reportPermanentFailure(ctx, item, invalidErr)
	}

	metrics.OfflineQueueDepth.Set(float64(len(items)))
	q.logger.Info("offline queue loaded", zap.Int("depth", len(items)), zap.Int("discarded", len(invalid)))
	return nil
}

// Execute runs op now when online, retrying network and server failures with
// backoff. When offline, op is queued and a *QueuedError is returned. Other
// failures come back as a *UserError.
func (q *Queue) Execute(ctx context.Context, op Operation) (Result, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	if err := op.Validate(); err != nil {
		invalid := &CodedError{Code: CodeInvalidArgument, Message: err.Error()}
		q.recordError(op, invalid, 0)
		metrics.OperationsExecutedTotal.WithLabelValues(string(op.Kind), "rejected").Inc()
		return Result{}, Translate(invalid)
	}

	for retry := 0; ; retry++ {
		if !q.network.Online() {
			item := q.enqueue(ctx, op)
			metrics.OperationsExecutedTotal.WithLabelValues(string(op.Kind), "queued").Inc()
			return Result{}, &QueuedError{ItemID: item.ID}
		}

		result, err := q.exec.run(ctx, op)
		if err == nil {
			metrics.OperationsExecutedTotal.WithLabelValues(string(op.Kind), "success").Inc()
			return result, nil
		}

		class := q.recordError(op, err, retry)
		if !class.Retryable() {
			metrics.OperationsExecutedTotal.WithLabelValues(string(op.Kind), "failed").Inc()
			return Result{}, Translate(err)
		}

		if retry >= q.cfg.MaxRetries {
			userErr := Translate(err)
			if q.cfg.QueueOnExhaustion {
				item := q.enqueue(ctx, op)
				userErr = &UserError{
					Message:      userErr.Message,
					Code:         userErr.Code,
					Class:        userErr.Class,
					QueuedItemID: item.ID,
					Err:          err,
				}
			}
			metrics.OperationsExecutedTotal.WithLabelValues(string(op.Kind), "exhausted").Inc()
			return Result{}, userErr
		}

		delay := q.Backoff(retry)
		metrics.OperationRetriesTotal.WithLabelValues(string(op.Kind)).Inc()
		q.logger.Warn("retrying operation",
			zap.String("operationId", op.ID),
			zap.String("kind", string(op.Kind)),
			zap.Int("retry", retry+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if sleepErr := q.sleep(ctx, delay); sleepErr != nil {
			metrics.OperationsExecutedTotal.WithLabelValues(string(op.Kind), "cancelled").Inc()
			return Result{}, Translate(err)
		}
	}
}

// Backoff returns the delay before retry n (0-based).
func (q *Queue) Backoff(retry int) time.Duration {
	return backoffDelay(q.cfg.BaseDelay, q.cfg.MaxDelay, q.jitter(q.cfg.MaxJitter), retry)
}

// backoffDelay computes base×2^retry + jitter, capped at maxDelay.
func backoffDelay(base, maxDelay, jitter time.Duration, retry int) time.Duration {
	d := base
	for i := 0; i < retry; i++ {
		if maxDelay > 0 && d >= maxDelay {
			break
		}
		d *= 2
	}
	d += jitter
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// DrainReport summarises one replay pass over the offline queue.
type DrainReport struct {
	Attempted         int `json:"attempted"`
	Succeeded         int `json:"succeeded"`
	Failed            int `json:"failed"`
	PermanentlyFailed int `json:"permanentlyFailed"`
	Remaining         int `json:"remaining"`
}

// OnConnectivityRestored replays the offline queue in enqueue order, making
// one attempt per item. Items that fail stay queued until their attempt
// counter reaches MaxRetries, at which point they are removed and reported
// as permanently failed.
func (q *Queue) OnConnectivityRestored(ctx context.Context) DrainReport {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var report DrainReport
	pending := q.Pending()
	q.logger.Info("draining offline queue", zap.Int("depth", len(pending)))

	for _, item := range pending {
		if ctx.Err() != nil || !q.network.Online() {
			break
		}
		report.Attempted++

		_, err := q.exec.run(ctx, item.Operation)
		if err == nil {
			q.remove(ctx, item.ID)
			report.Succeeded++
			metrics.OperationsExecutedTotal.WithLabelValues(string(item.Operation.Kind), "replayed").Inc()
			replayed := item
			q.emit(Event{Type: EventReplayed, Item: &replayed})
			continue
		}

		report.Failed++
		updated, dropped := q.markFailed(ctx, item.ID)
		q.recordError(item.Operation, err, updated.Attempts)

		if dropped {
			report.PermanentlyFailed++
			q.reportPermanentFailure(ctx, updated, err)
		}
	}

	report.Remaining = q.Depth()
	q.logger.Info("offline queue drained",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("permanentlyFailed", report.PermanentlyFailed),
		zap.Int("remaining", report.Remaining),
	)
	return report
}

// Watch drains the queue whenever monitor reports an offline to online
// transition. The returned function stops watching.
func (q *Queue) Watch(ctx context.Context, monitor *connectivity.Monitor) func() {
	return monitor.Subscribe(func(prev, cur connectivity.State) {
		if !prev.Online() && cur.Online() {
			go q.OnConnectivityRestored(ctx)
		}
	})
}

// Pending returns a snapshot of the queued items in FIFO order.
func (q *Queue) Pending() []QueuedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedItem, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) enqueue(ctx context.Context, op Operation) QueuedItem {
	item := QueuedItem{
		ID:         uuid.NewString(),
		Operation:  op,
		Attempts:   0,
		EnqueuedAt: q.now().UTC(),
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.persistLocked(ctx)
	q.mu.Unlock()

	q.logger.Info("operation queued for later delivery",
		zap.String("itemId", item.ID),
		zap.String("operationId", op.ID),
		zap.String("kind", string(op.Kind)),
	)
	q.emit(Event{Type: EventQueued, Item: &item})
	return item
}

func (q *Queue) remove(ctx context.Context, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.items {
		if q.items[i].ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.persistLocked(ctx)
			return
		}
	}
}

// markFailed bumps the attempt counter of the queued item id and drops it once the
// counter reaches MaxRetries.
func (q *Queue) markFailed(ctx context.Context, id string) (QueuedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		q.items[i].Attempts++
		item := q.items[i]
		dropped := item.Attempts >= q.cfg.MaxRetries
		if dropped {
			q.items = append(q.items[:i], q.items[i+1:]...)
		}
		q.persistLocked(ctx)
		return item, dropped
	}
	return QueuedItem{}, false
}

func (q *Queue) reportPermanentFailure(ctx context.Context, item QueuedItem, err error) {
	metrics.PermanentlyFailedTotal.Inc()
	metrics.OperationsExecutedTotal.WithLabelValues(string(item.Operation.Kind), "permanently_failed").Inc()
	q.logger.Error("operation permanently failed",
		zap.String("itemId", item.ID),
		zap.String("operationId", item.Operation.ID),
		zap.String("kind", string(item.Operation.Kind)),
		zap.Int("attempts", item.Attempts),
		zap.Error(err),
	)

	if q.deadLetter != nil {
		if dlqErr := q.deadLetter.PushFailedItem(ctx, item, err.Error()); dlqErr != nil {
			q.logger.Error("Failed to push to DLQ", zap.String("operationId", item.Operation.ID), zap.Error(dlqErr))
		}
	}

	q.emit(Event{Type: EventPermanentlyFailed, Item: &item, Err: Translate(err)})
}

// persistLocked flushes the queue; q.mu must be held. Storage failures are
// logged and the in-memory queue stays authoritative.
func (q *Queue) persistLocked(ctx context.Context) {
	metrics.OfflineQueueDepth.Set(float64(len(q.items)))

	items := q.items
	if items == nil {
		items = []QueuedItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		q.logger.Error("Failed to marshal offline queue", zap.Error(err))
		return
	}
	if err := q.store.Set(ctx, OfflineQueueKey, raw); err != nil {
		q.logger.Error("Failed to persist offline queue", zap.Int("depth", len(items)), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
