package resilience

import (
	"sort"
	"time"

	"storefront-services/internal/metrics"

	"go.uber.org/zap"
)

// ErrorRecord is one entry of the append-only failure log.
type ErrorRecord struct {
	OperationID   string        `json:"operationId"`
	OperationKind OperationKind `json:"operationKind"`
	Class         ErrorClass    `json:"class"`
	Message       string        `json:"message"`
	StatusOrCode  string        `json:"statusOrCode,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	RetryCount    int           `json:"retryCount"`
}

// groupKey is the status or code when known, the raw message otherwise.
func (r ErrorRecord) groupKey() string {
	if r.StatusOrCode != "" {
		return r.StatusOrCode
	}
	return r.Message
}

type EventType string

const (
	EventErrorRecorded     EventType = "error_recorded"
	EventQueued            EventType = "queued"
	EventReplayed          EventType = "replayed"
	EventPermanentlyFailed EventType = "permanently_failed"
)

// Event is delivered to every subscribed Listener.
type Event struct {
	Type   EventType
	Record *ErrorRecord
	Item   *QueuedItem
	Err    *UserError
}

// Listener is called synchronously; a panicking listener is logged and
// skipped.
type Listener func(Event)

// Subscribe registers l and returns a function that removes it.
func (q *Queue) Subscribe(l Listener) func() {
	q.mu.Lock()
	id := q.nextListenerID
	q.nextListenerID++
	q.listeners[id] = l
	q.listenerOrder = append(q.listenerOrder, id)
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.listeners, id)
		for i, v := range q.listenerOrder {
			if v == id {
				q.listenerOrder = append(q.listenerOrder[:i], q.listenerOrder[i+1:]...)
				break
			}
		}
	}
}

func (q *Queue) emit(ev Event) {
	q.mu.Lock()
	listeners := make([]Listener, 0, len(q.listenerOrder))
	for _, id := range q.listenerOrder {
		listeners = append(listeners, q.listeners[id])
	}
	q.mu.Unlock()

	for _, l := range listeners {
		q.callListener(l, ev)
	}
}

func (q *Queue) callListener(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("error listener panicked", zap.String("event", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	l(ev)
}

// recordError appends to the error log, notifies listeners and returns the
// class of err.
func (q *Queue) recordError(op Operation, err error, retryCount int) ErrorClass {
	class := Classify(err)
	record := ErrorRecord{
		OperationID:   op.ID,
		OperationKind: op.Kind,
		Class:         class,
		Message:       err.Error(),
		StatusOrCode:  ErrorCode(err),
		Timestamp:     q.now().UTC(),
		RetryCount:    retryCount,
	}

	q.mu.Lock()
	q.errors = append(q.errors, record)
	q.mu.Unlock()

	metrics.ErrorsRecordedTotal.WithLabelValues(string(class)).Inc()
	q.logger.Warn("operation failed",
		zap.String("operationId", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.String("class", string(class)),
		zap.String("code", record.StatusOrCode),
		zap.Int("retryCount", retryCount),
		zap.Error(err),
	)

	q.emit(Event{Type: EventErrorRecorded, Record: &record, Err: Translate(err)})
	return class
}

// ErrorFrequency is one row of the top-errors table.
type ErrorFrequency struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type ErrorStatistics struct {
	TotalErrors  int              `json:"totalErrors"`
	RecentErrors int              `json:"recentErrors"`
	QueueDepth   int              `json:"queueDepth"`
	Online       bool             `json:"isOnline"`
	TopErrors    []ErrorFrequency `json:"topErrors"`
}

const (
	recentErrorWindow = 24 * time.Hour
	topErrorsLimit    = 5
)

// GetErrorStatistics summarises the error log. Top errors are ordered by
// frequency, ties keeping first-seen order.
func (q *Queue) GetErrorStatistics() ErrorStatistics {
	q.mu.Lock()
	records := make([]ErrorRecord, len(q.errors))
	copy(records, q.errors)
	depth := len(q.items)
	q.mu.Unlock()

	cutoff := q.now().Add(-recentErrorWindow)
	stats := ErrorStatistics{
		TotalErrors: len(records),
		QueueDepth:  depth,
		Online:      q.network.Online(),
		TopErrors:   []ErrorFrequency{},
	}

	counts := make(map[string]int)
	var firstSeen []string
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			stats.RecentErrors++
		}
		key := r.groupKey()
		if _, seen := counts[key]; !seen {
			firstSeen = append(firstSeen, key)
		}
		counts[key]++
	}

	for _, key := range firstSeen {
		stats.TopErrors = append(stats.TopErrors, ErrorFrequency{Key: key, Count: counts[key]})
	}
	sort.SliceStable(stats.TopErrors, func(i, j int) bool {
		return stats.TopErrors[i].Count > stats.TopErrors[j].Count
	})
	if len(stats.TopErrors) > topErrorsLimit {
		stats.TopErrors = stats.TopErrors[:topErrorsLimit]
	}

	return stats
}

// ErrorLog returns a copy of every recorded failure in call order.
func (q *Queue) ErrorLog() []ErrorRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ErrorRecord, len(q.errors))
	copy(out, q.errors)
	return out
}
