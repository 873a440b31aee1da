// Package connectivity tracks whether the device can reach the network and
// notifies subscribers when that changes.
package connectivity

import (
	"sync"

	"go.uber.org/zap"
)

// State mirrors the platform network signal.
type State struct {
	IsConnected         bool `json:"isConnected"`
	IsInternetReachable bool `json:"isInternetReachable"`
}

// Online reports whether both flags are set.
func (s State) Online() bool {
	return s.IsConnected && s.IsInternetReachable
}

// Listener receives the previous and current state on every change.
type Listener func(prev, cur State)

type Monitor struct {
	mu        sync.Mutex
	state     State
	nextID    int
	listeners map[int]Listener
	order     []int
	logger    *zap.Logger
}

func NewMonitor(initial State, logger *zap.Logger) *Monitor {
	return &Monitor{
		state:     initial,
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Online() bool {
	return m.Current().Online()
}

// Subscribe registers fn and returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.order = append(m.order, id)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// Update records a new state. Listeners run synchronously, in subscription
// order, only when the state actually changed.
func (m *Monitor) Update(next State) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	listeners := make([]Listener, 0, len(m.order))
	for _, id := range m.order {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		zap.Bool("online", next.Online()),
		zap.Bool("isConnected", next.IsConnected),
		zap.Bool("isInternetReachable", next.IsInternetReachable),
	)

	for _, l := range listeners {
		m.notify(l, prev, next)
	}
}

func (m *Monitor) notify(l Listener, prev, cur State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("connectivity listener panicked", zap.Any("panic", r))
		}
	}()
	l(prev, cur)
}
