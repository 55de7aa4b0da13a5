package localqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

var (
	// ErrDuplicateKey is returned when an order with the same idempotency key is already queued.
	ErrDuplicateKey = errors.New("localqueue: idempotency key already queued")
	// ErrAlreadyProcessed is returned when the key belongs to an order the server already
	// confirmed. It matches ErrDuplicateKey.
	ErrAlreadyProcessed = fmt.Errorf("%w: order already confirmed", ErrDuplicateKey)
	// ErrNotFound is returned when no order matches the key.
	ErrNotFound = errors.New("localqueue: order not found")
	// ErrPersistence wraps failures of the durable backing. The in-memory state stays authoritative.
	ErrPersistence = errors.New("localqueue: persistence failed")
)

const (
	defaultProcessedRetention = 24 * time.Hour
	defaultProcessedLimit     = 1000
)

// Store is the terminal's durable list of orders awaiting server confirmation,
// together with the set of keys the server has already confirmed.
type Store struct {
	mu          sync.RWMutex
	orders      []domain.QueuedOrder
	processed   map[string]time.Time
	persistence Persistence
	retention   time.Duration
	limit       int
	clock       func() time.Time
	logger      *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProcessedRetention controls how long confirmed keys are remembered.
func WithProcessedRetention(retention time.Duration) Option {
	return func(s *Store) {
		if retention > 0 {
			s.retention = retention
		}
	}
}

// WithProcessedLimit caps the number of confirmed keys kept.
func WithProcessedLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// Open loads the persisted snapshot and returns a ready store.
func Open(ctx context.Context, persistence Persistence, opts ...Option) (*Store, error) {
	if persistence == nil {
		persistence = NewMemoryPersistence()
	}
	store := &Store{
		processed:   make(map[string]time.Time),
		persistence: persistence,
		retention:   defaultProcessedRetention,
		limit:       defaultProcessedLimit,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}

	snapshot, err := persistence.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", ErrPersistence, err)
	}
	for _, record := range snapshot.Orders {
		store.orders = append(store.orders, record.toOrder())
	}
	sortOrders(store.orders)
	for _, entry := range snapshot.Processed {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		store.processed[key] = entry.ProcessedAt
	}
	store.pruneProcessedLocked()
	return store, nil
}

// Enqueue appends a new queued order. A key that is still queued, or that the server
// confirmed within the retention window, is refused.
func (s *Store) Enqueue(ctx context.Context, order domain.QueuedOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(order.IdempotencyKey)
	if key != "" && s.indexLocked(key) >= 0 {
		return ErrDuplicateKey
	}
	if key != "" && s.processedLocked(key) {
		return ErrAlreadyProcessed
	}
	now := s.clock().UTC()
	order.IdempotencyKey = key
	order.Items = domain.ClampLineItems(order.Items)
	order.Status = domain.QueueStatusQueued
	order.FailureReason = ""
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	s.orders = append(s.orders, order)
	sortOrders(s.orders)
	return s.persistLocked(ctx)
}

// AddFailedOrder records order as failed with reason, creating the entry if needed.
func (s *Store) AddFailedOrder(ctx context.Context, order domain.QueuedOrder, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	order.Status = domain.QueueStatusFailed
	order.FailureReason = reason
	order.UpdatedAt = now
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}

	if idx := s.indexLocked(order.IdempotencyKey); idx >= 0 && order.IdempotencyKey != "" {
		s.orders[idx] = order
	} else {
		s.orders = append(s.orders, order)
		sortOrders(s.orders)
	}
	return s.persistLocked(ctx)
}

// RemoveOrder drops a queued order after the server confirmed it and remembers the key.
func (s *Store) RemoveOrder(ctx context.Context, key string) error {
	return s.removeWithStatus(ctx, key, domain.QueueStatusQueued)
}

// RemoveFailedOrder drops a failed order after the server confirmed it and remembers the key.
func (s *Store) RemoveFailedOrder(ctx context.Context, key string) error {
	return s.removeWithStatus(ctx, key, domain.QueueStatusFailed)
}

func (s *Store) removeWithStatus(ctx context.Context, key string, status domain.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	kept := s.orders[:0]
	removed := false
	for _, order := range s.orders {
		if order.IdempotencyKey == key && order.Status == status {
			removed = true
			continue
		}
		kept = append(kept, order)
	}
	s.orders = kept
	if key != "" {
		s.processed[key] = s.clock().UTC()
		s.pruneProcessedLocked()
	}
	if !removed && key == "" {
		return nil
	}
	return s.persistLocked(ctx)
}

// Discard drops every entry with key without recording it as processed. It is how
// malformed orders leave the queue.
func (s *Store) Discard(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	kept := s.orders[:0]
	removed := false
	for _, order := range s.orders {
		if strings.TrimSpace(order.IdempotencyKey) == key {
			removed = true
			continue
		}
		kept = append(kept, order)
	}
	s.orders = kept
	if !removed {
		return ErrNotFound
	}
	return s.persistLocked(ctx)
}

// Requeue moves a failed order back to queued so the next pass retries it.
func (s *Store) Requeue(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(strings.TrimSpace(key))
	if idx < 0 {
		return ErrNotFound
	}
	s.orders[idx].Status = domain.QueueStatusQueued
	s.orders[idx].FailureReason = ""
	s.orders[idx].UpdatedAt = s.clock().UTC()
	return s.persistLocked(ctx)
}

// QueuedOrders returns orders awaiting a sync attempt, oldest first.
func (s *Store) QueuedOrders() []domain.QueuedOrder {
	return s.filter(domain.QueueStatusQueued)
}

// FailedOrders returns orders whose last attempt failed, oldest first.
func (s *Store) FailedOrders() []domain.QueuedOrder {
	return s.filter(domain.QueueStatusFailed)
}

// Get returns the entry for key.
func (s *Store) Get(key string) (domain.QueuedOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(strings.TrimSpace(key))
	if idx < 0 {
		return domain.QueuedOrder{}, false
	}
	return copyOrder(s.orders[idx]), true
}

// IsOrderProcessed reports whether the server confirmed key within the retention window.
func (s *Store) IsOrderProcessed(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedLocked(key)
}

func (s *Store) processedLocked(key string) bool {
	at, ok := s.processed[key]
	if !ok {
		return false
	}
	return s.clock().Sub(at) < s.retention
}

// Len reports the number of entries in any state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Clear forgets every order and processed key.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = nil
	s.processed = make(map[string]time.Time)
	if err := s.persistence.Clear(ctx); err != nil {
		s.logger.Error("localqueue: clear failed", zap.Error(err))
		return fmt.Errorf("%w: clear: %v", ErrPersistence, err)
	}
	return nil
}

func (s *Store) filter(status domain.QueueStatus) []domain.QueuedOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.QueuedOrder, 0, len(s.orders))
	for _, order := range s.orders {
		if order.Status == status {
			out = append(out, copyOrder(order))
		}
	}
	return out
}

func (s *Store) indexLocked(key string) int {
	if key == "" {
		return -1
	}
	for i, order := range s.orders {
		if order.IdempotencyKey == key {
			return i
		}
	}
	return -1
}

func (s *Store) pruneProcessedLocked() {
	now := s.clock()
	for key, at := range s.processed {
		if now.Sub(at) >= s.retention {
			delete(s.processed, key)
		}
	}
	if len(s.processed) <= s.limit {
		return
	}
	entries := s.processedEntriesLocked()
	for _, entry := range entries[:len(entries)-s.limit] {
		delete(s.processed, entry.Key)
	}
}

// processedEntriesLocked returns confirmed keys oldest first.
func (s *Store) processedEntriesLocked() []ProcessedKey {
	entries := make([]ProcessedKey, 0, len(s.processed))
	for key, at := range s.processed {
		entries = append(entries, ProcessedKey{Key: key, ProcessedAt: at})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProcessedAt.Equal(entries[j].ProcessedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].ProcessedAt.Before(entries[j].ProcessedAt)
	})
	return entries
}

func (s *Store) persistLocked(ctx context.Context) error {
	snapshot := Snapshot{
		Version:   snapshotVersion,
		Orders:    make([]Record, 0, len(s.orders)),
		Processed: s.processedEntriesLocked(),
	}
	for _, order := range s.orders {
		snapshot.Orders = append(snapshot.Orders, recordFromOrder(order))
	}
	if err := s.persistence.Save(ctx, snapshot); err != nil {
		s.logger.Error("localqueue: persist failed", zap.Error(err), zap.Int("orders", len(snapshot.Orders)))
		return fmt.Errorf("%w: save: %v", ErrPersistence, err)
	}
	return nil
}

func sortOrders(orders []domain.QueuedOrder) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

func copyOrder(order domain.QueuedOrder) domain.QueuedOrder {
	if order.Items != nil {
		order.Items = append([]domain.LineItem(nil), order.Items...)
	}
	if order.ComputedTotals.TaxBreakdown != nil {
		order.ComputedTotals.TaxBreakdown = append([]domain.TaxLine(nil), order.ComputedTotals.TaxBreakdown...)
	}
	return order
}
