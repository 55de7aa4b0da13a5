package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

const defaultBoardCapacity = 100

// Notifier delivers operator facing notifications.
type Notifier interface {
	Notify(ctx context.Context, notification domain.Notification)
}

// Board keeps the latest notification per ID so repeated updates replace each other.
// When full, the oldest entry is evicted.
type Board struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	entries  map[string]domain.Notification
}

// BoardOption customises a Board.
type BoardOption func(*Board)

// WithCapacity bounds how many notifications the board keeps.
func WithCapacity(capacity int) BoardOption {
	return func(b *Board) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// WithClock injects the clock used to stamp notifications without a time.
func WithClock(now func() time.Time) BoardOption {
	return func(b *Board) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBoard constructs an empty board.
func NewBoard(opts ...BoardOption) *Board {
	b := &Board{
		capacity: defaultBoardCapacity,
		now:      time.Now,
		entries:  make(map[string]domain.Notification),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Notify stores notification, replacing any previous one with the same ID.
func (b *Board) Notify(_ context.Context, notification domain.Notification) {
	id := strings.TrimSpace(notification.ID)
	if id == "" {
		return
	}
	notification.ID = id
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[id] = notification
	for len(b.entries) > b.capacity {
		b.evictOldestLocked()
	}
}

// List returns notifications newest first.
func (b *Board) List() []domain.Notification {
	b.mu.Lock()
	out := make([]domain.Notification, 0, len(b.entries))
	for _, n := range b.entries {
		out = append(out, n)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Dismiss removes the notification with id.
func (b *Board) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := b.entries[id]; !ok {
		return false
	}
	delete(b.entries, id)
	return true
}

func (b *Board) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, n := range b.entries {
		if oldestID == "" || n.CreatedAt.Before(oldestAt) {
			oldestID, oldestAt = id, n.CreatedAt
		}
	}
	delete(b.entries, oldestID)
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wraps logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs errors at warn level and everything else at info.
func (l *LogNotifier) Notify(_ context.Context, notification domain.Notification) {
	fields := []zap.Field{
		zap.String("notificationId", notification.ID),
		zap.String("severity", string(notification.Severity)),
		zap.String("title", notification.Title),
		zap.String("message", notification.Message),
	}
	if notification.Severity == domain.NotificationError {
		l.logger.Warn("operator notification", fields...)
		return
	}
	l.logger.Info("operator notification", fields...)
}

// Fanout delivers every notification to each sink in order.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(ctx context.Context, notification domain.Notification) {
	for _, sink := range f {
		if sink != nil {
			sink.Notify(ctx, notification)
		}
	}
}
