package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/pagination"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

type repoFailure struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoFailure) Error() string       { return e.msg }
func (e repoFailure) IsNotFound() bool    { return e.notFound }
func (e repoFailure) IsConflict() bool    { return e.conflict }
func (e repoFailure) IsUnavailable() bool { return e.unavailable }

type memoryOrderRepo struct {
	mu       sync.Mutex
	byKey    map[string]domain.Order
	insertFn func(context.Context, domain.Order) error
	updates  []domain.Order
	lastList repositories.OrderListFilter
	listErr  error
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{byKey: make(map[string]domain.Order)}
}

func (r *memoryOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if r.insertFn != nil {
		if err := r.insertFn(ctx, order); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := order.OrganizationID + "/" + order.IdempotencyKey
	if _, ok := r.byKey[k]; ok {
		return repoFailure{msg: "exists", conflict: true}
	}
	r.byKey[k] = order
	return nil
}

func (r *memoryOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[order.OrganizationID+"/"+order.IdempotencyKey] = order
	r.updates = append(r.updates, order)
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orgID, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.byKey {
		if order.OrganizationID == orgID && order.ID == orderID {
			return order, nil
		}
	}
	return domain.Order{}, repoFailure{msg: "missing", notFound: true}
}

func (r *memoryOrderRepo) FindByIdempotencyKey(_ context.Context, orgID, key string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.byKey[orgID+"/"+key]
	if !ok {
		return domain.Order{}, repoFailure{msg: "missing", notFound: true}
	}
	return order, nil
}

func (r *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.lastList = filter
	return domain.CursorPage[domain.Order]{}, r.listErr
}

type stubSettingsService struct {
	settings OrganizationSettings
	err      error
}

func (s stubSettingsService) GetSettings(_ context.Context, orgID string) (OrganizationSettings, error) {
	if s.err != nil {
		return OrganizationSettings{}, s.err
	}
	out := s.settings
	out.OrganizationID = orgID
	return out, nil
}

func (s stubSettingsService) UpdateSettings(context.Context, UpdateSettingsCommand) (OrganizationSettings, error) {
	return OrganizationSettings{}, errors.New("not implemented")
}

type stubOrderNumbers struct {
	next int
}

func (s *stubOrderNumbers) Next(context.Context, string, string, CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not implemented")
}

func (s *stubOrderNumbers) NextOrderNumber(context.Context, string) (string, error) {
	s.next++
	return "ORD-20250102-00000" + string(rune('0'+s.next)), nil
}

type captureEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return c.err
}

type orderFixture struct {
	svc     OrderService
	repo    *memoryOrderRepo
	numbers *stubOrderNumbers
	events  *captureEvents
	logs    *observer.ObservedLogs
}

func newOrderFixture(t *testing.T) orderFixture {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	engine, err := NewOrderPricingEngine(OrderPricingEngineDeps{Currency: "USD"})
	if err != nil {
		t.Fatalf("pricing engine: %v", err)
	}
	fx := orderFixture{
		repo:    newMemoryOrderRepo(),
		numbers: &stubOrderNumbers{},
		events:  &captureEvents{},
		logs:    logs,
	}
	ids := 0
	fx.svc, err = NewOrderService(OrderServiceDeps{
		Orders: fx.repo,
		Settings: stubSettingsService{settings: OrganizationSettings{
			SyncMode: domain.SyncModeAuto,
			Currency: "USD",
			TaxRules: []TaxRule{vatRule(10), {ID: "off", Rate: 50, Type: domain.TaxTypePercentage}},
		}},
		Counters: fx.numbers,
		Pricing:  engine,
		Events:   fx.events,
		Clock: func() time.Time {
			return time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
		},
		IDGenerator: func() string {
			ids++
			return "order-" + string(rune('0'+ids))
		},
		Logger: zap.New(core),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return fx
}

func burgerCommand(key string) CreateOrderCommand {
	return CreateOrderCommand{
		OrganizationID: "org-1",
		IdempotencyKey: key,
		TerminalID:     "till-1",
		Items:          []LineItem{{ID: "burger", Name: "Burger", UnitPrice: 1000, Quantity: 2}},
	}
}

func TestOrderServiceCreateOrderPricesWithEnabledRules(t *testing.T) {
	fx := newOrderFixture(t)

	order, err := fx.svc.CreateOrder(context.Background(), burgerCommand("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.ID != "order-1" || order.OrderNumber != "ORD-20250102-000001" {
		t.Fatalf("unexpected identifiers %q %q", order.ID, order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if order.Totals.Subtotal != 2000 || order.Totals.TaxAmount != 200 || order.Totals.Total != 2200 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if len(fx.events.events) != 1 || fx.events.events[0].Type != orderEventCreated {
		t.Fatalf("expected created event, got %+v", fx.events.events)
	}
	if fx.events.events[0].Total != 2200 {
		t.Fatalf("expected event total 2200, got %d", fx.events.events[0].Total)
	}
}

func TestOrderServiceCreateOrderReturnsExistingForReplayedKey(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()

	first, err := fx.svc.CreateOrder(ctx, burgerCommand("k1"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err = fx.svc.CreateOrder(ctx, burgerCommand("k1"))
	if !errors.Is(err, ErrOrderDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	var dup *DuplicateOrderError
	if !errors.As(err, &dup) || dup.Existing.ID != first.ID {
		t.Fatalf("expected existing order %s, got %+v", first.ID, dup)
	}
	if fx.numbers.next != 1 {
		t.Fatalf("replay must not allocate a number, allocated %d", fx.numbers.next)
	}
	if len(fx.events.events) != 1 {
		t.Fatalf("replay must not publish, got %d events", len(fx.events.events))
	}
}

func TestOrderServiceCreateOrderLosingInsertRaceReturnsWinner(t *testing.T) {
	fx := newOrderFixture(t)
	winner := domain.Order{ID: "winner", OrganizationID: "org-1", IdempotencyKey: "k1", OrderNumber: "ORD-20250102-000009"}
	fx.repo.insertFn = func(context.Context, domain.Order) error {
		fx.repo.mu.Lock()
		fx.repo.byKey["org-1/k1"] = winner
		fx.repo.mu.Unlock()
		return repoFailure{msg: "already exists", conflict: true}
	}

	_, err := fx.svc.CreateOrder(context.Background(), burgerCommand("k1"))
	var dup *DuplicateOrderError
	if !errors.As(err, &dup) || dup.Existing.ID != "winner" {
		t.Fatalf("expected winner duplicate, got %v", err)
	}
}

func TestOrderServiceCreateOrderLogsDivergentClientTotals(t *testing.T) {
	fx := newOrderFixture(t)
	cmd := burgerCommand("k1")
	cmd.ClientTotals = &PriceBreakdown{Subtotal: 2000, DiscountedSubtotal: 2000, TaxAmount: 1200, Total: 3200}

	order, err := fx.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.Totals.Total != 2200 {
		t.Fatalf("server totals must win, got %d", order.Totals.Total)
	}
	if fx.logs.FilterMessage("client totals diverge from server pricing").Len() != 1 {
		t.Fatalf("expected divergence warning")
	}
}

func TestOrderServiceCreateOrderValidates(t *testing.T) {
	fx := newOrderFixture(t)
	cases := map[string]CreateOrderCommand{
		"missing key":   {OrganizationID: "org-1", Items: []LineItem{{ID: "a", Quantity: 1}}},
		"missing org":   {IdempotencyKey: "k", Items: []LineItem{{ID: "a", Quantity: 1}}},
		"no items":      {OrganizationID: "org-1", IdempotencyKey: "k"},
		"zero quantity": {OrganizationID: "org-1", IdempotencyKey: "k", Items: []LineItem{{ID: "a"}}},
		"negative":      {OrganizationID: "org-1", IdempotencyKey: "k", Items: []LineItem{{ID: "a", Quantity: 1, UnitPrice: -1}}},
		"path key":      {OrganizationID: "org-1", IdempotencyKey: "a/b", Items: []LineItem{{ID: "a", Quantity: 1}}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := fx.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestOrderServiceUpdateOrderStatusFollowsTransitions(t *testing.T) {
	fx := newOrderFixture(t)
	ctx := context.Background()
	order, err := fx.svc.CreateOrder(ctx, burgerCommand("k1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = fx.svc.UpdateOrderStatus(ctx, OrderStatusCommand{OrganizationID: "org-1", OrderID: order.ID, Status: domain.OrderStatusCompleted})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("pending -> completed must be rejected, got %v", err)
	}

	for _, next := range []OrderStatus{domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusCompleted} {
		order, err = fx.svc.UpdateOrderStatus(ctx, OrderStatusCommand{OrganizationID: "org-1", OrderID: order.ID, Status: next})
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if order.CompletedAt == nil {
		t.Fatalf("expected completedAt to be stamped")
	}
	if got := fx.events.events[len(fx.events.events)-1]; got.Type != orderEventStatusChanged || got.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected last event %+v", got)
	}

	_, err = fx.svc.UpdateOrderStatus(ctx, OrderStatusCommand{OrganizationID: "org-1", OrderID: order.ID, Status: domain.OrderStatusCancelled})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("completed orders cannot be cancelled, got %v", err)
	}
}

func TestOrderServiceGetOrderMapsNotFound(t *testing.T) {
	fx := newOrderFixture(t)
	if _, err := fx.svc.GetOrder(context.Background(), "org-1", "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceListOrdersNormalisesFilter(t *testing.T) {
	fx := newOrderFixture(t)
	_, err := fx.svc.ListOrders(context.Background(), OrderListFilter{
		OrganizationID: " org-1 ",
		Status:         []string{"PENDING", ""},
		Pagination:     Pagination{PageSize: 5000},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := fx.repo.lastList
	if got.OrganizationID != "org-1" || len(got.Status) != 1 || got.Status[0] != "pending" {
		t.Fatalf("unexpected filter %+v", got)
	}
	if got.Pagination.PageSize != maxOrderPage {
		t.Fatalf("expected page size clamp to %d, got %d", maxOrderPage, got.Pagination.PageSize)
	}

	if _, err := fx.svc.ListOrders(context.Background(), OrderListFilter{OrganizationID: "org-1", Status: []string{"shipped"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid status error, got %v", err)
	}

	fx.repo.listErr = fmt.Errorf("%w: issued for a different filter", pagination.ErrInvalidPageToken)
	if _, err := fx.svc.ListOrders(context.Background(), OrderListFilter{OrganizationID: "org-1"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected stale page token to be invalid input, got %v", err)
	}
}
