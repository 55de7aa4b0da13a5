package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

type memoryOrderQueue struct {
	mu        sync.Mutex
	orders    []QueuedOrder
	processed map[string]bool
	discarded []string
}

func newMemoryOrderQueue(orders ...QueuedOrder) *memoryOrderQueue {
	q := &memoryOrderQueue{processed: make(map[string]bool)}
	for _, order := range orders {
		if order.Status == "" {
			order.Status = domain.QueueStatusQueued
		}
		q.orders = append(q.orders, order)
	}
	return q
}

func (q *memoryOrderQueue) Enqueue(_ context.Context, order QueuedOrder) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	order.Status = domain.QueueStatusQueued
	q.orders = append(q.orders, order)
	return nil
}

func (q *memoryOrderQueue) AddFailedOrder(_ context.Context, order QueuedOrder, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	order.Status = domain.QueueStatusFailed
	order.FailureReason = reason
	for i := range q.orders {
		if q.orders[i].IdempotencyKey == order.IdempotencyKey {
			q.orders[i] = order
			return nil
		}
	}
	q.orders = append(q.orders, order)
	return nil
}

func (q *memoryOrderQueue) RemoveOrder(_ context.Context, key string) error {
	return q.remove(key, domain.QueueStatusQueued)
}

func (q *memoryOrderQueue) RemoveFailedOrder(_ context.Context, key string) error {
	return q.remove(key, domain.QueueStatusFailed)
}

func (q *memoryOrderQueue) remove(key string, status domain.QueueStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.orders[:0]
	for _, order := range q.orders {
		if order.IdempotencyKey == key && order.Status == status {
			continue
		}
		kept = append(kept, order)
	}
	q.orders = kept
	q.processed[key] = true
	return nil
}

func (q *memoryOrderQueue) Discard(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.orders[:0]
	for _, order := range q.orders {
		if order.IdempotencyKey == key {
			continue
		}
		kept = append(kept, order)
	}
	q.orders = kept
	q.discarded = append(q.discarded, key)
	return nil
}

func (q *memoryOrderQueue) QueuedOrders() []QueuedOrder {
	return q.byStatus(domain.QueueStatusQueued)
}

func (q *memoryOrderQueue) FailedOrders() []QueuedOrder {
	return q.byStatus(domain.QueueStatusFailed)
}

func (q *memoryOrderQueue) byStatus(status domain.QueueStatus) []QueuedOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueuedOrder
	for _, order := range q.orders {
		if order.Status == status {
			out = append(out, order)
		}
	}
	return out
}

func (q *memoryOrderQueue) IsOrderProcessed(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processed[key]
}

func (q *memoryOrderQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.orders)
}

type scriptedOrderClient struct {
	mu      sync.Mutex
	results map[string][]error
	calls   map[string]int
	block   chan struct{}
	entered chan struct{}
}

func newScriptedOrderClient() *scriptedOrderClient {
	return &scriptedOrderClient{results: make(map[string][]error), calls: make(map[string]int)}
}

func (c *scriptedOrderClient) script(key string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = errs
}

func (c *scriptedOrderClient) CreateOrder(ctx context.Context, req RemoteOrderRequest) (RemoteOrderResult, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.calls[req.IdempotencyKey]
	c.calls[req.IdempotencyKey] = n + 1
	script := c.results[req.IdempotencyKey]
	if n < len(script) && script[n] != nil {
		return RemoteOrderResult{}, script[n]
	}
	return RemoteOrderResult{OrderID: "id-" + req.IdempotencyKey, OrderNumber: fmt.Sprintf("ORD-20250101-%06d", n+1)}, nil
}

func (c *scriptedOrderClient) callCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notifications...)
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type staticNetwork struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

func (n *staticNetwork) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *staticNetwork) set(online bool) {
	n.mu.Lock()
	n.online = online
	n.mu.Unlock()
}

func (n *staticNetwork) Subscribe(context.Context) <-chan bool {
	return n.ch
}

type staticSyncMode SyncMode

func (m staticSyncMode) SyncMode(context.Context) SyncMode {
	return SyncMode(m)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type typedRemoteError struct {
	kind string
	msg  string
}

func (e typedRemoteError) Error() string     { return e.msg }
func (e typedRemoteError) ErrorKind() string { return e.kind }

func queuedOrder(key string) QueuedOrder {
	return QueuedOrder{
		IdempotencyKey: key,
		OrganizationID: "org-1",
		TerminalID:     "till-1",
		Items:          []LineItem{{ID: "burger", Name: "Burger", UnitPrice: 10, Quantity: 2}},
		ComputedTotals: PriceBreakdown{Currency: "USD", Subtotal: 20, DiscountedSubtotal: 20, TaxAmount: 2, Total: 22},
		Status:         domain.QueueStatusQueued,
	}
}

type syncFixture struct {
	queue    *memoryOrderQueue
	client   *scriptedOrderClient
	notifier *recordingNotifier
	sleeps   *recordedSleeps
	clock    *manualClock
	network  *staticNetwork
	sync     *OrderSynchronizer
}

func newSyncFixture(t *testing.T, mode SyncMode, orders ...QueuedOrder) *syncFixture {
	t.Helper()
	f := &syncFixture{
		queue:    newMemoryOrderQueue(orders...),
		client:   newScriptedOrderClient(),
		notifier: &recordingNotifier{},
		sleeps:   &recordedSleeps{},
		clock:    &manualClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		network:  &staticNetwork{online: true, ch: make(chan bool, 4)},
	}
	synchronizer, err := NewOrderSynchronizer(OrderSynchronizerDeps{
		Queue:    f.queue,
		Client:   f.client,
		Network:  f.network,
		Settings: staticSyncMode(mode),
		Notifier: f.notifier,
		Clock:    f.clock.Now,
		Sleep:    f.sleeps.sleep,
	})
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	f.sync = synchronizer
	return f
}

func TestOrderSync_MalformedOrdersDiscardedWithoutToast(t *testing.T) {
	noItems := queuedOrder("k-empty")
	noItems.Items = nil
	noKey := queuedOrder("")
	f := newSyncFixture(t, domain.SyncModeAuto, noItems, noKey)

	summary, err := f.sync.SyncQueuedOrders(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Discarded != 2 {
		t.Fatalf("expected two discarded orders, got %+v", summary)
	}
	if f.queue.len() != 0 {
		t.Fatalf("expected queue to be empty, got %d entries", f.queue.len())
	}
	if got := f.notifier.all(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %+v", got)
	}
	if f.client.callCount("k-empty") != 0 {
		t.Fatalf("malformed order must not reach the server")
	}
	if f.queue.IsOrderProcessed("k-empty") {
		t.Fatalf("discarded orders must not be recorded as processed")
	}
}

func TestOrderSync_DuplicateTreatedAsSuccess(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
	f.client.script("k1", errors.New(`order with this idempotencyKey already recorded`))

	summary, err := f.sync.SyncQueuedOrders(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Duplicates != 1 || summary.Failed != 0 {
		t.Fatalf("expected duplicate outcome, got %+v", summary)
	}
	if f.queue.len() != 0 || !f.queue.IsOrderProcessed("k1") {
		t.Fatalf("expected order removed and marked processed")
	}
	if f.client.callCount("k1") != 1 {
		t.Fatalf("duplicates must not be retried, got %d calls", f.client.callCount("k1"))
	}

	toasts := f.notifier.all()
	if len(toasts) != 1 {
		t.Fatalf("expected one toast, got %d", len(toasts))
	}
	if toasts[0].ID != "k1" || toasts[0].Severity != domain.NotificationSuccess || !strings.Contains(strings.ToLower(toasts[0].Title), "already synced") {
		t.Fatalf("unexpected toast %+v", toasts[0])
	}
}

func TestOrderSync_PurgesEntriesAlreadyConfirmed(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
	if _, err := f.sync.SyncQueuedOrders(context.Background()); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if !f.queue.IsOrderProcessed("k1") {
		t.Fatalf("expected k1 processed")
	}

	// A re-submit of the same cart lands in the queue after it was confirmed.
	if err := f.queue.Enqueue(context.Background(), queuedOrder("k1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	summary, err := f.sync.SyncQueuedOrders(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].Outcome != SyncOutcomeSkipped {
		t.Fatalf("expected one skipped result, got %+v", summary.Results)
	}
	if f.queue.len() != 0 {
		t.Fatalf("confirmed entry must leave the queue, %d left", f.queue.len())
	}
	if f.client.callCount("k1") != 1 {
		t.Fatalf("confirmed entry must not be resubmitted, got %d calls", f.client.callCount("k1"))
	}
	if _, started := f.sync.TriggerSync(context.Background()); started {
		t.Fatalf("empty queue must not start a pass")
	}
}

func TestOrderSync_RetryCapForNetworkErrors(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
	netErr := errors.New("network request failed")
	f.client.script("k1", netErr, netErr, netErr, netErr)

	summary, err := f.sync.SyncQueuedOrders(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := f.client.callCount("k1"); got != MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", MaxRetries+1, got)
	}
	if summary.Failed != 1 || summary.Results[0].Attempts != MaxRetries+1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	failed := f.queue.FailedOrders()
	if len(failed) != 1 || failed[0].FailureReason != netErr.Error() {
		t.Fatalf("expected order marked failed with latest error, got %+v", failed)
	}
	if failed[0].Attempts != MaxRetries+1 {
		t.Fatalf("expected attempts recorded, got %d", failed[0].Attempts)
	}

	want := []time.Duration{RetryDelay, 2 * RetryDelay}
	if len(f.sleeps.delays) != len(want) || f.sleeps.delays[0] != want[0] || f.sleeps.delays[1] != want[1] {
		t.Fatalf("expected linear backoff %v, got %v", want, f.sleeps.delays)
	}

	toasts := f.notifier.all()
	if len(toasts) != 1 || toasts[0].Severity != domain.NotificationError || toasts[0].ID != "k1" {
		t.Fatalf("expected single error toast, got %+v", toasts)
	}
}

func TestOrderSync_NonNetworkErrorsFailImmediately(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
	f.client.script("k1", typedRemoteError{kind: "validation", msg: "items[0].quantity must be positive"})

	if _, err := f.sync.SyncQueuedOrders(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := f.client.callCount("k1"); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
	if len(f.queue.FailedOrders()) != 1 {
		t.Fatalf("expected order to be failed")
	}
	if len(f.sleeps.delays) != 0 {
		t.Fatalf("expected no retry delay, got %v", f.sleeps.delays)
	}
}

func TestOrderSync_BatchProducesSingleSummaryToast(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"), queuedOrder("k2"))
	f.client.script("k2", errors.New("request timeout"))

	summary, err := f.sync.SyncQueuedOrders(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Synced != 2 || summary.Failed != 0 {
		t.Fatalf("expected both orders synced, got %+v", summary)
	}
	if f.queue.len() != 0 {
		t.Fatalf("expected queue drained, got %d", f.queue.len())
	}
	if f.client.callCount("k2") != 2 {
		t.Fatalf("expected k2 retried once, got %d calls", f.client.callCount("k2"))
	}

	toasts := f.notifier.all()
	if len(toasts) != 1 {
		t.Fatalf("expected one combined toast, got %+v", toasts)
	}
	if toasts[0].ID != SyncSummaryNotificationID || toasts[0].Message != "Successfully synced 2 orders!" {
		t.Fatalf("unexpected summary toast %+v", toasts[0])
	}
}

func TestOrderSync_SummaryReportsFailures(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"), queuedOrder("k2"), queuedOrder("k3"))
	f.client.script("k3", errors.New("internal server error"))

	if _, err := f.sync.SyncQueuedOrders(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	toasts := f.notifier.all()
	if len(toasts) != 1 || toasts[0].Message != "Synced 2 orders, 1 failed" || toasts[0].Severity != domain.NotificationError {
		t.Fatalf("unexpected toasts %+v", toasts)
	}
}

func TestOrderSync_FailedOrdersJoinNextPass(t *testing.T) {
	failed := queuedOrder("k1")
	failed.Status = domain.QueueStatusFailed
	failed.FailureReason = "server error"
	f := newSyncFixture(t, domain.SyncModeAuto, failed)

	summary, err := f.sync.SyncQueuedOrders(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Synced != 1 || f.queue.len() != 0 {
		t.Fatalf("expected failed order to be synced and removed, got %+v", summary)
	}
}

func TestOrderSync_DeduplicatesWithinPass(t *testing.T) {
	failedCopy := queuedOrder("k1")
	failedCopy.Status = domain.QueueStatusFailed
	processed := queuedOrder("k2")
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"), failedCopy, processed)
	f.queue.processed["k2"] = true

	if _, err := f.sync.SyncQueuedOrders(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if f.client.callCount("k1") != 1 {
		t.Fatalf("expected k1 submitted once, got %d", f.client.callCount("k1"))
	}
	if f.client.callCount("k2") != 0 {
		t.Fatalf("expected processed key to be skipped")
	}
}

func TestOrderSync_OverlappingPassIsNoop(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
	f.client.block = make(chan struct{})
	f.client.entered = make(chan struct{}, 1)

	done := make(chan SyncSummary)
	go func() {
		summary, _ := f.sync.SyncQueuedOrders(context.Background())
		done <- summary
	}()
	<-f.client.entered

	second, err := f.sync.SyncQueuedOrders(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !second.Skipped || second.SkipReason != SyncSkipInProgress {
		t.Fatalf("expected overlapping pass to be skipped, got %+v", second)
	}
	if _, err := f.sync.SyncSingleOrder(context.Background(), "k1"); !errors.Is(err, ErrSyncOrderInFlight) {
		t.Fatalf("expected in-flight error for single sync, got %v", err)
	}

	close(f.client.block)
	first := <-done
	if first.Synced != 1 {
		t.Fatalf("expected first pass to sync the order, got %+v", first)
	}
	if f.client.callCount("k1") != 1 {
		t.Fatalf("expected exactly one submission, got %d", f.client.callCount("k1"))
	}
}

func TestOrderSync_DebounceWindow(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))

	if summary, _ := f.sync.SyncQueuedOrders(context.Background()); summary.Skipped {
		t.Fatalf("expected first pass to run")
	}
	if err := f.queue.Enqueue(context.Background(), queuedOrder("k2")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	f.clock.Advance(SyncDebounce - time.Millisecond)
	if summary, _ := f.sync.SyncQueuedOrders(context.Background()); !summary.Skipped || summary.SkipReason != SyncSkipDebounced {
		t.Fatalf("expected debounced pass, got %+v", summary)
	}

	f.clock.Advance(time.Millisecond)
	if summary, _ := f.sync.SyncQueuedOrders(context.Background()); summary.Skipped || summary.Synced != 1 {
		t.Fatalf("expected pass after debounce window, got %+v", summary)
	}
}

func TestOrderSync_SyncSingleOrder(t *testing.T) {
	failed := queuedOrder("k1")
	failed.Status = domain.QueueStatusFailed
	f := newSyncFixture(t, domain.SyncModeManual, failed, queuedOrder("k2"))

	if _, err := f.sync.SyncSingleOrder(context.Background(), "missing"); !errors.Is(err, ErrQueuedOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	result, err := f.sync.SyncSingleOrder(context.Background(), "k1")
	if err != nil {
		t.Fatalf("sync single: %v", err)
	}
	if result.Outcome != SyncOutcomeSynced || result.OrderNumber == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(f.queue.FailedOrders()) != 0 || len(f.queue.QueuedOrders()) != 1 {
		t.Fatalf("expected only k1 removed")
	}
	toasts := f.notifier.all()
	if len(toasts) != 1 || toasts[0].ID != "k1" {
		t.Fatalf("expected toast keyed by idempotency key, got %+v", toasts)
	}
}

func TestOrderSync_CancelledDuringBackoffLeavesOrderQueued(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
	f.client.script("k1", errors.New("failed to fetch"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := f.sync.processOrderWithRetry(ctx, queuedOrder("k1"), true)
	if result.Outcome != SyncOutcomeAborted {
		t.Fatalf("expected aborted outcome, got %+v", result)
	}
	if len(f.queue.QueuedOrders()) != 1 || len(f.queue.FailedOrders()) != 0 {
		t.Fatalf("expected order left queued")
	}
}

func TestOrderSync_TriggerSyncRules(t *testing.T) {
	t.Run("manual mode disables automatic triggers", func(t *testing.T) {
		f := newSyncFixture(t, domain.SyncModeManual, queuedOrder("k1"))
		if _, started := f.sync.TriggerSync(context.Background()); started {
			t.Fatalf("expected manual mode to block trigger")
		}
		if f.client.callCount("k1") != 0 {
			t.Fatalf("expected no submissions")
		}
	})

	t.Run("empty queue", func(t *testing.T) {
		f := newSyncFixture(t, domain.SyncModeAuto)
		if _, started := f.sync.TriggerSync(context.Background()); started {
			t.Fatalf("expected empty queue to block trigger")
		}
	})

	t.Run("stability delay and cooldown", func(t *testing.T) {
		f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
		summary, started := f.sync.TriggerSync(context.Background())
		if !started || summary.Synced != 1 {
			t.Fatalf("expected triggered pass, got %+v", summary)
		}
		if len(f.sleeps.delays) == 0 || f.sleeps.delays[0] != NetworkStabilityDelay {
			t.Fatalf("expected stability delay first, got %v", f.sleeps.delays)
		}

		if err := f.queue.Enqueue(context.Background(), queuedOrder("k2")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		f.clock.Advance(TriggerCooldown - time.Millisecond)
		if _, started := f.sync.TriggerSync(context.Background()); started {
			t.Fatalf("expected cooldown to block trigger")
		}
		f.clock.Advance(time.Millisecond)
		if _, started := f.sync.TriggerSync(context.Background()); !started {
			t.Fatalf("expected trigger after cooldown")
		}
	})

	t.Run("offline after stability delay", func(t *testing.T) {
		f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
		f.sync.sleep = func(ctx context.Context, d time.Duration) error {
			f.network.set(false)
			return nil
		}
		if _, started := f.sync.TriggerSync(context.Background()); started {
			t.Fatalf("expected pass to be abandoned when offline")
		}
		if f.client.callCount("k1") != 0 {
			t.Fatalf("expected no submissions")
		}
	})
}

func TestOrderSync_RunSyncsOnOnlineTransition(t *testing.T) {
	f := newSyncFixture(t, domain.SyncModeAuto, queuedOrder("k1"))
	f.network.set(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sync.Run(ctx) }()

	f.network.set(true)
	f.network.ch <- true

	deadline := time.After(2 * time.Second)
	for f.queue.len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected queue to drain after going online")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestClassifyRemoteError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want RemoteErrorKind
	}{
		{"typed duplicate", typedRemoteError{kind: "duplicate", msg: "conflict"}, RemoteErrorDuplicate},
		{"typed validation wins over text", typedRemoteError{kind: "validation", msg: "network"}, RemoteErrorValidation},
		{"wrapped typed", fmt.Errorf("submit: %w", typedRemoteError{kind: "network", msg: "breaker open"}), RemoteErrorNetwork},
		{"mongo duplicate", errors.New("E11000 duplicate key error collection: orders"), RemoteErrorDuplicate},
		{"order number", errors.New("orderNumber must be unique"), RemoteErrorDuplicate},
		{"already exists", errors.New("order already exists"), RemoteErrorDuplicate},
		{"fetch", errors.New("Failed to fetch"), RemoteErrorNetwork},
		{"deadline", context.DeadlineExceeded, RemoteErrorNetwork},
		{"other", errors.New("boom"), RemoteErrorServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRemoteError(tc.err); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
	if ClassifyRemoteError(nil) != "" {
		t.Fatalf("expected nil error to have no kind")
	}
}
