package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/observability"
)

const (
	// MaxRetries is the number of additional attempts after the first for network failures.
	MaxRetries = 2
	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay = time.Second
	// SyncDebounce is the minimum gap between the starts of two full passes.
	SyncDebounce = 2 * time.Second
	// TriggerCooldown is the minimum gap between two automatic triggers.
	TriggerCooldown = 3 * time.Second
	// NetworkStabilityDelay postpones a triggered pass so a flapping link settles first.
	NetworkStabilityDelay = time.Second

	// SyncSummaryNotificationID keys the aggregated toast shown for multi-order passes.
	SyncSummaryNotificationID = "sync-summary"
)

var (
	// ErrQueuedOrderNotFound is returned when no queued or failed order has the key.
	ErrQueuedOrderNotFound = errors.New("order sync: queued order not found")
	// ErrSyncOrderInFlight is returned when the order is already being submitted.
	ErrSyncOrderInFlight = errors.New("order sync: order is already being synced")
)

// RemoteErrorKind classifies a failed remote order submission.
type RemoteErrorKind string

const (
	RemoteErrorDuplicate  RemoteErrorKind = "duplicate"
	RemoteErrorNetwork    RemoteErrorKind = "network"
	RemoteErrorValidation RemoteErrorKind = "validation"
	RemoteErrorServer     RemoteErrorKind = "server"
)

// kindedError is implemented by transport errors that already know their kind.
type kindedError interface {
	error
	ErrorKind() string
}

var (
	duplicateMarkers = []string{"e11000 duplicate key error", "idempotencykey", "ordernumber", "already exists"}
	networkMarkers   = []string{"network", "fetch", "timeout"}
)

// ClassifyRemoteError returns the kind of a remote failure. Typed transport errors are
// matched by type; anything else falls back to ClassifyErrorMessage.
func ClassifyRemoteError(err error) RemoteErrorKind {
	if err == nil {
		return ""
	}
	var kinded kindedError
	if errors.As(err, &kinded) {
		switch kind := RemoteErrorKind(kinded.ErrorKind()); kind {
		case RemoteErrorDuplicate, RemoteErrorNetwork, RemoteErrorValidation, RemoteErrorServer:
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RemoteErrorNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return RemoteErrorNetwork
	}
	return ClassifyErrorMessage(err.Error())
}

// ClassifyErrorMessage applies the substring contract used by older order endpoints.
// Duplicate markers win over network markers; unmatched messages are server errors.
func ClassifyErrorMessage(message string) RemoteErrorKind {
	lower := strings.ToLower(message)
	for _, marker := range duplicateMarkers {
		if strings.Contains(lower, marker) {
			return RemoteErrorDuplicate
		}
	}
	for _, marker := range networkMarkers {
		if strings.Contains(lower, marker) {
			return RemoteErrorNetwork
		}
	}
	return RemoteErrorServer
}

// SyncOutcome is the result of processing one queued order.
type SyncOutcome string

const (
	SyncOutcomeSynced    SyncOutcome = "synced"
	SyncOutcomeDuplicate SyncOutcome = "duplicate"
	SyncOutcomeFailed    SyncOutcome = "failed"
	SyncOutcomeDiscarded SyncOutcome = "discarded"
	SyncOutcomeSkipped   SyncOutcome = "skipped"
	SyncOutcomeAborted   SyncOutcome = "aborted"
)

// OrderSyncResult reports what happened to one order.
type OrderSyncResult struct {
	IdempotencyKey string
	Outcome        SyncOutcome
	Attempts       int
	OrderNumber    string
	ErrorKind      RemoteErrorKind
	Error          string
}

// SyncSkipReason explains why a pass did not run.
type SyncSkipReason string

const (
	SyncSkipInProgress SyncSkipReason = "in_progress"
	SyncSkipDebounced  SyncSkipReason = "debounced"
)

// SyncSummary aggregates a full pass.
type SyncSummary struct {
	Skipped    bool
	SkipReason SyncSkipReason
	Synced     int
	Duplicates int
	Failed     int
	Discarded  int
	Results    []OrderSyncResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Confirmed counts orders the server now holds.
func (s SyncSummary) Confirmed() int {
	return s.Synced + s.Duplicates
}

// SyncStatus is a point in time view of the synchronizer for operator screens.
type SyncStatus struct {
	Syncing       bool
	Online        bool
	Mode          SyncMode
	Queued        int
	Failed        int
	LastPassStart time.Time
	LastTrigger   time.Time
	LastSummary   *SyncSummary
}

// OrderSynchronizerDeps wires the synchronizer's collaborators. Zero durations take the
// package defaults.
type OrderSynchronizerDeps struct {
	Queue    OrderQueue
	Client   RemoteOrderClient
	Network  NetworkStatus
	Settings SyncModeProvider
	Notifier Notifier
	Logger   *zap.Logger
	Clock    func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error

	MaxRetries     *int
	RetryDelay     time.Duration
	Debounce       time.Duration
	Cooldown       time.Duration
	StabilityDelay time.Duration
}

// OrderSynchronizer drains the terminal's offline queue into the order API. Orders
// within a pass are submitted one at a time.
type OrderSynchronizer struct {
	queue    OrderQueue
	client   RemoteOrderClient
	network  NetworkStatus
	settings SyncModeProvider
	notifier Notifier
	logger   *zap.Logger
	clock    func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	maxRetries     int
	retryDelay     time.Duration
	debounce       time.Duration
	cooldown       time.Duration
	stabilityDelay time.Duration

	syncing atomic.Bool

	mu            sync.Mutex
	inFlight      map[string]struct{}
	lastPassStart time.Time
	lastTrigger   time.Time
	lastSummary   *SyncSummary
}

// NewOrderSynchronizer validates deps and returns a synchronizer.
func NewOrderSynchronizer(deps OrderSynchronizerDeps) (*OrderSynchronizer, error) {
	if deps.Queue == nil {
		return nil, errors.New("order sync: queue is required")
	}
	if deps.Client == nil {
		return nil, errors.New("order sync: remote client is required")
	}

	s := &OrderSynchronizer{
		queue:          deps.Queue,
		client:         deps.Client,
		network:        deps.Network,
		settings:       deps.Settings,
		notifier:       deps.Notifier,
		logger:         deps.Logger,
		clock:          deps.Clock,
		sleep:          deps.Sleep,
		maxRetries:     MaxRetries,
		retryDelay:     durationOr(deps.RetryDelay, RetryDelay),
		debounce:       durationOr(deps.Debounce, SyncDebounce),
		cooldown:       durationOr(deps.Cooldown, TriggerCooldown),
		stabilityDelay: durationOr(deps.StabilityDelay, NetworkStabilityDelay),
		inFlight:       make(map[string]struct{}),
	}
	if deps.MaxRetries != nil && *deps.MaxRetries >= 0 {
		s.maxRetries = *deps.MaxRetries
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("order_sync")
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	return s, nil
}

// SyncQueuedOrders drains queued and failed orders once. Overlapping calls and calls
// inside the debounce window return a skipped summary.
func (s *OrderSynchronizer) SyncQueuedOrders(ctx context.Context) (SyncSummary, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return SyncSummary{Skipped: true, SkipReason: SyncSkipInProgress}, nil
	}
	defer s.syncing.Store(false)

	start := s.clock()
	s.mu.Lock()
	if !s.lastPassStart.IsZero() && start.Sub(s.lastPassStart) < s.debounce {
		s.mu.Unlock()
		return SyncSummary{Skipped: true, SkipReason: SyncSkipDebounced}, nil
	}
	s.lastPassStart = start
	s.mu.Unlock()

	ctx, span := observability.Tracer().Start(ctx, "orderSync.SyncQueuedOrders")
	defer span.End()

	candidates := append(s.queue.QueuedOrders(), s.queue.FailedOrders()...)
	seen := make(map[string]struct{}, len(candidates))
	batch := make([]QueuedOrder, 0, len(candidates))
	for _, order := range candidates {
		key := strings.TrimSpace(order.IdempotencyKey)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		batch = append(batch, order)
	}

	// Only orders that can reach the server count towards the toast policy.
	notifiable := 0
	for _, order := range batch {
		if !order.Malformed() {
			notifiable++
		}
	}
	individual := notifiable == 1

	summary := SyncSummary{StartedAt: start, Results: make([]OrderSyncResult, 0, len(batch))}
	for _, order := range batch {
		if ctx.Err() != nil {
			break
		}
		key := strings.TrimSpace(order.IdempotencyKey)
		if key != "" && s.queue.IsOrderProcessed(key) {
			// The server already has it; drop the local copy instead of skipping it forever.
			s.confirm(ctx, order)
			summary.Results = append(summary.Results, OrderSyncResult{IdempotencyKey: key, Outcome: SyncOutcomeSkipped})
			continue
		}
		if key != "" && !s.acquire(key) {
			summary.Results = append(summary.Results, OrderSyncResult{IdempotencyKey: key, Outcome: SyncOutcomeSkipped})
			continue
		}
		result := s.processOrderWithRetry(ctx, order, individual)
		if key != "" {
			s.release(key)
		}
		summary.add(result)
	}
	summary.FinishedAt = s.clock()

	if notifiable > 1 && summary.Confirmed()+summary.Failed > 0 {
		s.notifySummary(ctx, summary)
	}

	span.SetAttributes(
		attribute.Int("sync.orders", len(batch)),
		attribute.Int("sync.synced", summary.Confirmed()),
		attribute.Int("sync.failed", summary.Failed),
	)
	s.logger.Info("sync pass completed",
		zap.Int("orders", len(batch)),
		zap.Int("synced", summary.Synced),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("failed", summary.Failed),
		zap.Int("discarded", summary.Discarded),
		zap.Duration("duration", summary.FinishedAt.Sub(start)),
	)

	s.mu.Lock()
	snapshot := summary
	s.lastSummary = &snapshot
	s.mu.Unlock()
	return summary, nil
}

// SyncSingleOrder submits one queued or failed order, for example after an operator
// taps retry.
func (s *OrderSynchronizer) SyncSingleOrder(ctx context.Context, key string) (OrderSyncResult, error) {
	key = strings.TrimSpace(key)
	order, ok := s.lookup(key)
	if !ok {
		return OrderSyncResult{}, fmt.Errorf("%w: %s", ErrQueuedOrderNotFound, key)
	}
	if !s.acquire(key) {
		return OrderSyncResult{}, fmt.Errorf("%w: %s", ErrSyncOrderInFlight, key)
	}
	defer s.release(key)

	ctx, span := observability.Tracer().Start(ctx, "orderSync.SyncSingleOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.idempotency_key", key))

	return s.processOrderWithRetry(ctx, order, true), nil
}

// TriggerSync is the automatic entry point used on connectivity changes. It runs a pass
// after NetworkStabilityDelay when sync mode is auto, the cooldown has elapsed, no pass
// is running, and the queue holds work. It reports whether a pass was started.
func (s *OrderSynchronizer) TriggerSync(ctx context.Context) (SyncSummary, bool) {
	if s.Mode(ctx) != domain.SyncModeAuto {
		return SyncSummary{}, false
	}
	if s.syncing.Load() {
		return SyncSummary{}, false
	}
	if len(s.queue.QueuedOrders())+len(s.queue.FailedOrders()) == 0 {
		return SyncSummary{}, false
	}

	now := s.clock()
	s.mu.Lock()
	if !s.lastTrigger.IsZero() && now.Sub(s.lastTrigger) < s.cooldown {
		s.mu.Unlock()
		return SyncSummary{}, false
	}
	s.lastTrigger = now
	s.mu.Unlock()

	if err := s.sleep(ctx, s.stabilityDelay); err != nil {
		return SyncSummary{}, false
	}
	if s.network != nil && !s.network.IsOnline() {
		s.logger.Debug("connection dropped during stability delay")
		return SyncSummary{}, false
	}

	summary, err := s.SyncQueuedOrders(ctx)
	if err != nil {
		s.logger.Warn("triggered sync failed", zap.Error(err))
		return summary, false
	}
	return summary, !summary.Skipped
}

// Run triggers passes when the terminal comes online, and once at start when already
// online. It returns when ctx is cancelled.
func (s *OrderSynchronizer) Run(ctx context.Context) error {
	if s.network == nil {
		return errors.New("order sync: network status is required to run")
	}
	transitions := s.network.Subscribe(ctx)

	if s.network.IsOnline() {
		s.TriggerSync(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-transitions:
			if !ok {
				return ctx.Err()
			}
			if !online {
				s.logger.Info("terminal offline, orders will be queued")
				continue
			}
			s.logger.Info("terminal online")
			s.TriggerSync(ctx)
		}
	}
}

// Mode returns the organization's current sync mode, defaulting to auto.
func (s *OrderSynchronizer) Mode(ctx context.Context) SyncMode {
	if s.settings == nil {
		return domain.SyncModeAuto
	}
	if mode, ok := domain.ParseSyncMode(string(s.settings.SyncMode(ctx))); ok {
		return mode
	}
	return domain.SyncModeAuto
}

// Status returns the synchronizer's current state.
func (s *OrderSynchronizer) Status(ctx context.Context) SyncStatus {
	status := SyncStatus{
		Syncing: s.syncing.Load(),
		Online:  s.network == nil || s.network.IsOnline(),
		Mode:    s.Mode(ctx),
		Queued:  len(s.queue.QueuedOrders()),
		Failed:  len(s.queue.FailedOrders()),
	}
	s.mu.Lock()
	status.LastPassStart = s.lastPassStart
	status.LastTrigger = s.lastTrigger
	if s.lastSummary != nil {
		summary := *s.lastSummary
		status.LastSummary = &summary
	}
	s.mu.Unlock()
	return status
}

// Syncing reports whether a full pass is running.
func (s *OrderSynchronizer) Syncing() bool {
	return s.syncing.Load()
}

func (s *OrderSynchronizer) processOrderWithRetry(ctx context.Context, order QueuedOrder, notify bool) OrderSyncResult {
	key := strings.TrimSpace(order.IdempotencyKey)
	logger := s.logger.With(zap.String("idempotencyKey", key))

	if order.Malformed() {
		if err := s.queue.Discard(ctx, key); err != nil {
			logger.Warn("discard malformed order", zap.Error(err))
		}
		logger.Warn("discarded malformed queued order", zap.Int("items", len(order.Items)))
		return OrderSyncResult{IdempotencyKey: key, Outcome: SyncOutcomeDiscarded}
	}

	result := OrderSyncResult{IdempotencyKey: key}
	req := RemoteOrderRequestFromQueued(order)
	var lastErr error
	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		if attempt > 1 {
			delay := s.retryDelay * time.Duration(attempt-1)
			logger.Info("retrying order submission", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			if err := s.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		result.Attempts = attempt
		res, err := s.client.CreateOrder(ctx, req)
		if err == nil {
			s.confirm(ctx, order)
			result.Outcome = SyncOutcomeSynced
			result.OrderNumber = res.OrderNumber
			logger.Info("order synced", zap.String("orderNumber", res.OrderNumber), zap.Int("attempts", attempt))
			if notify {
				s.notifyOrder(ctx, key, domain.NotificationSuccess, "Order synced", orderSyncedMessage(res.OrderNumber))
			}
			return result
		}

		lastErr = err
		kind := ClassifyRemoteError(err)
		result.ErrorKind = kind
		if kind == RemoteErrorDuplicate {
			s.confirm(ctx, order)
			result.Outcome = SyncOutcomeDuplicate
			logger.Info("order already synced", zap.Error(err))
			if notify {
				s.notifyOrder(ctx, key, domain.NotificationSuccess, "Order already synced", "This order was already recorded on the server.")
			}
			return result
		}
		if kind != RemoteErrorNetwork || ctx.Err() != nil {
			break
		}
		logger.Warn("network error submitting order", zap.Int("attempt", attempt), zap.Error(err))
	}

	if ctx.Err() != nil {
		result.Outcome = SyncOutcomeAborted
		result.Error = ctx.Err().Error()
		logger.Info("order sync aborted", zap.Error(ctx.Err()))
		return result
	}

	reason := "unknown error"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	order.Attempts += result.Attempts
	if err := s.queue.AddFailedOrder(ctx, order, reason); err != nil {
		logger.Error("record failed order", zap.Error(err))
	}
	result.Outcome = SyncOutcomeFailed
	result.Error = reason
	logger.Warn("order sync failed", zap.String("kind", string(result.ErrorKind)), zap.Int("attempts", result.Attempts), zap.String("reason", reason))
	if notify {
		s.notifyOrder(ctx, key, domain.NotificationError, "Order sync failed", reason)
	}
	return result
}

func (s *OrderSynchronizer) confirm(ctx context.Context, order QueuedOrder) {
	key := strings.TrimSpace(order.IdempotencyKey)
	var err error
	if order.Status == domain.QueueStatusFailed {
		err = s.queue.RemoveFailedOrder(ctx, key)
	} else {
		err = s.queue.RemoveOrder(ctx, key)
	}
	if err != nil {
		s.logger.Error("remove confirmed order", zap.String("idempotencyKey", key), zap.Error(err))
	}
}

func (s *OrderSynchronizer) lookup(key string) (QueuedOrder, bool) {
	if key == "" {
		return QueuedOrder{}, false
	}
	for _, order := range s.queue.QueuedOrders() {
		if order.IdempotencyKey == key {
			return order, true
		}
	}
	for _, order := range s.queue.FailedOrders() {
		if order.IdempotencyKey == key {
			return order, true
		}
	}
	return QueuedOrder{}, false
}

func (s *OrderSynchronizer) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *OrderSynchronizer) release(key string) {
	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()
}

func (s *OrderSynchronizer) notifyOrder(ctx context.Context, key string, severity domain.NotificationSeverity, title, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, Notification{
		ID:        key,
		Severity:  severity,
		Title:     title,
		Message:   message,
		CreatedAt: s.clock(),
	})
}

func (s *OrderSynchronizer) notifySummary(ctx context.Context, summary SyncSummary) {
	if s.notifier == nil {
		return
	}
	notification := Notification{ID: SyncSummaryNotificationID, CreatedAt: s.clock()}
	if summary.Failed == 0 {
		notification.Severity = domain.NotificationSuccess
		notification.Title = "Offline orders synced"
		notification.Message = fmt.Sprintf("Successfully synced %d orders!", summary.Confirmed())
	} else {
		notification.Severity = domain.NotificationError
		notification.Title = "Offline sync incomplete"
		notification.Message = fmt.Sprintf("Synced %d orders, %d failed", summary.Confirmed(), summary.Failed)
	}
	s.notifier.Notify(ctx, notification)
}

func (s *SyncSummary) add(result OrderSyncResult) {
	s.Results = append(s.Results, result)
	switch result.Outcome {
	case SyncOutcomeSynced:
		s.Synced++
	case SyncOutcomeDuplicate:
		s.Duplicates++
	case SyncOutcomeFailed:
		s.Failed++
	case SyncOutcomeDiscarded:
		s.Discarded++
	}
}

func orderSyncedMessage(orderNumber string) string {
	if orderNumber == "" {
		return "Order synced successfully."
	}
	return fmt.Sprintf("Order %s synced successfully.", orderNumber)
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
