package netstatus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInterval = 15 * time.Second
	defaultTimeout  = 3 * time.Second
)

// Pinger probes the remote API.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithInterval sets how often the monitor pings.
func WithInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithTimeout bounds each ping.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Monitor) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithInitialState sets the state reported before the first probe completes.
func WithInitialState(online bool) Option {
	return func(m *Monitor) {
		m.online = online
	}
}

// Monitor tracks whether the terminal can reach the order API. It combines periodic pings
// with explicit reports from API calls and fans transitions out to subscribers.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	online      bool
	changedAt   time.Time
	subscribers map[chan bool]struct{}
}

// NewMonitor builds a monitor. A nil pinger disables active probing.
func NewMonitor(pinger Pinger, opts ...Option) *Monitor {
	m := &Monitor{
		pinger:      pinger,
		interval:    defaultInterval,
		timeout:     defaultTimeout,
		logger:      zap.NewNop(),
		subscribers: make(map[chan bool]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = m.logger.Named("netstatus")
	return m
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ChangedAt returns when the state last flipped.
func (m *Monitor) ChangedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// SetOnline records an observation. Subscribers are notified only on transitions.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	m.changedAt = time.Now()
	m.logger.Info("connectivity changed", zap.Bool("online", online))

	for ch := range m.subscribers {
		// Slow subscribers only see the newest state.
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe returns a channel of transitions that closes when ctx ends.
func (m *Monitor) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch
}

// Probe pings once and records the outcome.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.pinger == nil {
		return m.IsOnline()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.pinger.Ping(probeCtx)
	if err != nil && ctx.Err() != nil {
		return m.IsOnline()
	}
	if err != nil {
		m.logger.Debug("ping failed", zap.Error(err))
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.pinger == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	m.Probe(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
