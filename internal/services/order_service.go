package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/pagination"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	maxOrderItems    = 200
	maxOrderQuantity = 10000

	maxIdempotencyKeyLength = 128

	defaultOrderPage = 50
	maxOrderPage     = 200
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates an invalid status transition was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent write won the race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderDuplicate indicates the organization already has an order for the idempotency key.
	ErrOrderDuplicate = errors.New("order: already exists")
)

// DuplicateOrderError carries the order that already owns an idempotency key.
type DuplicateOrderError struct {
	Existing Order
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("%s: %s", ErrOrderDuplicate.Error(), e.Existing.IdempotencyKey)
}

// Is lets errors.Is match ErrOrderDuplicate.
func (e *DuplicateOrderError) Is(target error) bool {
	return target == ErrOrderDuplicate
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Settings    SettingsService
	Counters    CounterService
	Pricing     *OrderPricingEngine
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      *zap.Logger
}

type orderService struct {
	orders   repositories.OrderRepository
	settings SettingsService
	counters CounterService
	pricing  *OrderPricingEngine
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   *zap.Logger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("order service: settings service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &orderService{
		orders:   deps.Orders,
		settings: deps.Settings,
		counters: deps.Counters,
		pricing:  deps.Pricing,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger.Named("orders"),
	}, nil
}

// CreateOrder prices the submission with the organization's tax rules and persists it under
// its idempotency key. A replayed key returns a *DuplicateOrderError holding the stored order.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	orgID := strings.TrimSpace(cmd.OrganizationID)
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if err := validateCreateOrder(orgID, key, cmd.Items); err != nil {
		return Order{}, err
	}

	existing, err := s.orders.FindByIdempotencyKey(ctx, orgID, key)
	switch {
	case err == nil:
		return Order{}, &DuplicateOrderError{Existing: existing}
	case !isRepoNotFound(err):
		return Order{}, s.mapRepositoryError(err)
	}

	settings, err := s.settings.GetSettings(ctx, orgID)
	if err != nil {
		return Order{}, fmt.Errorf("order: load settings: %w", err)
	}
	engine, err := s.pricing.ForCurrency(settings.Currency)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	items := domain.ClampLineItems(cmd.Items)
	cartPercent := domain.ClampPercent(cmd.CartDiscountPercent)
	totals := engine.CartTotals(items, settings.EnabledTaxRules(), cartPercent)
	if cmd.ClientTotals != nil && !sameTotals(*cmd.ClientTotals, totals) {
		s.logger.Warn("client totals diverge from server pricing",
			zap.String("organizationId", orgID),
			zap.String("idempotencyKey", key),
			zap.Int64("clientTotal", cmd.ClientTotals.Total),
			zap.Int64("serverTotal", totals.Total),
			zap.Int64("clientTax", cmd.ClientTotals.TaxAmount),
			zap.Int64("serverTax", totals.TaxAmount),
		)
	}

	orderNumber, err := s.counters.NextOrderNumber(ctx, orgID)
	if err != nil {
		return Order{}, fmt.Errorf("order: allocate number: %w", err)
	}

	now := s.clock()
	order := Order{
		ID:                  s.newID(),
		OrganizationID:      orgID,
		OrderNumber:         orderNumber,
		IdempotencyKey:      key,
		TerminalID:          strings.TrimSpace(cmd.TerminalID),
		Items:               items,
		CartDiscountPercent: cartPercent,
		Totals:              totals,
		Status:              domain.OrderStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
		PlacedAt:            now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if !isRepoConflict(err) {
			return Order{}, s.mapRepositoryError(err)
		}
		// A concurrent replay inserted first; the allocated number is skipped.
		winner, findErr := s.orders.FindByIdempotencyKey(ctx, orgID, key)
		if findErr != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		s.logger.Info("idempotency race lost", zap.String("idempotencyKey", key), zap.String("skippedNumber", orderNumber))
		return Order{}, &DuplicateOrderError{Existing: winner}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCreated,
		OrganizationID: orgID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		IdempotencyKey: key,
		Status:         order.Status,
		Total:          totals.Total,
		Currency:       totals.Currency,
		OccurredAt:     now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orgID, orderID string) (Order, error) {
	orgID = strings.TrimSpace(orgID)
	orderID = strings.TrimSpace(orderID)
	if orgID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: organization and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orgID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.OrganizationID = strings.TrimSpace(filter.OrganizationID)
	if filter.OrganizationID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: organization id is required", ErrOrderInvalidInput)
	}
	statuses := make([]string, 0, len(filter.Status))
	for _, raw := range filter.Status {
		status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
		if status == "" {
			continue
		}
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, raw)
		}
		statuses = append(statuses, string(status))
	}
	filter.Status = statuses
	filter.TerminalID = strings.TrimSpace(filter.TerminalID)

	switch size := filter.Pagination.PageSize; {
	case size <= 0:
		filter.Pagination.PageSize = defaultOrderPage
	case size > maxOrderPage:
		filter.Pagination.PageSize = maxOrderPage
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	next := OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if !next.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.GetOrder(ctx, cmd.OrganizationID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == next {
		return order, nil
	}
	if !order.Status.CanTransitionTo(next) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, next)
	}

	previous := order.Status
	now := s.clock()
	order.Status = next
	order.UpdatedAt = now
	switch next {
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger.Info("order status changed",
		zap.String("orderId", order.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrganizationID: order.OrganizationID,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		IdempotencyKey: order.IdempotencyKey,
		Status:         next,
		Total:          order.Totals.Total,
		Currency:       order.Totals.Currency,
		OccurredAt:     now,
	})
	return order, nil
}

func validateCreateOrder(orgID, key string, items []LineItem) error {
	switch {
	case orgID == "":
		return fmt.Errorf("%w: organization id is required", ErrOrderInvalidInput)
	case key == "":
		return fmt.Errorf("%w: idempotency key is required", ErrOrderInvalidInput)
	case len(key) > maxIdempotencyKeyLength || strings.ContainsAny(key, "/") || strings.HasPrefix(key, "__") || key == "." || key == "..":
		return fmt.Errorf("%w: idempotency key %q is not usable", ErrOrderInvalidInput, key)
	case len(items) == 0:
		return fmt.Errorf("%w: items are required", ErrOrderInvalidInput)
	case len(items) > maxOrderItems:
		return fmt.Errorf("%w: at most %d items are allowed", ErrOrderInvalidInput, maxOrderItems)
	}
	for i, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("%w: items[%d].id is required", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: items[%d].unitPrice must not be negative", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 || item.Quantity > maxOrderQuantity {
			return fmt.Errorf("%w: items[%d].quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxOrderQuantity)
		}
	}
	return nil
}

func sameTotals(a, b PriceBreakdown) bool {
	return a.Subtotal == b.Subtotal &&
		a.DiscountedSubtotal == b.DiscountedSubtotal &&
		a.TaxAmount == b.TaxAmount &&
		a.Total == b.Total
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func (s *orderService) mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Warn("order event publish failed",
			zap.String("type", event.Type),
			zap.String("orderId", event.OrderID),
			zap.Error(err),
		)
	}
}
