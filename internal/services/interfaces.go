package services

import (
	"context"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	LineItem             = domain.LineItem
	TaxRule              = domain.TaxRule
	TaxLine              = domain.TaxLine
	PriceBreakdown       = domain.PriceBreakdown
	QueuedOrder          = domain.QueuedOrder
	Order                = domain.Order
	OrderStatus          = domain.OrderStatus
	OrderEvent           = domain.OrderEvent
	OrganizationSettings = domain.OrganizationSettings
	SyncMode             = domain.SyncMode
	Notification         = domain.Notification
)

// OrderService is the server side owner of order creation and lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orgID, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrderStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
}

// SettingsService manages organization settings.
type SettingsService interface {
	GetSettings(ctx context.Context, orgID string) (OrganizationSettings, error)
	UpdateSettings(ctx context.Context, cmd UpdateSettingsCommand) (OrganizationSettings, error)
}

// CounterService allocates sequential numbers scoped per counter.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context, orgID string) (string, error)
}

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderQueue is the terminal side durable queue the synchronizer drains.
type OrderQueue interface {
	Enqueue(ctx context.Context, order QueuedOrder) error
	AddFailedOrder(ctx context.Context, order QueuedOrder, reason string) error
	RemoveOrder(ctx context.Context, key string) error
	RemoveFailedOrder(ctx context.Context, key string) error
	Discard(ctx context.Context, key string) error
	QueuedOrders() []QueuedOrder
	FailedOrders() []QueuedOrder
	IsOrderProcessed(key string) bool
}

// RemoteOrderClient submits orders to the order API.
type RemoteOrderClient interface {
	CreateOrder(ctx context.Context, req RemoteOrderRequest) (RemoteOrderResult, error)
}

// NetworkStatus reports connectivity and its transitions.
type NetworkStatus interface {
	IsOnline() bool
	// Subscribe returns a channel receiving the new state on every transition. The
	// channel closes when ctx ends.
	Subscribe(ctx context.Context) <-chan bool
}

// SyncModeProvider supplies the organization's current sync mode.
type SyncModeProvider interface {
	SyncMode(ctx context.Context) SyncMode
}

// Notifier delivers operator facing notifications keyed by ID.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// CreateOrderCommand is the payload accepted by the order API.
type CreateOrderCommand struct {
	OrganizationID      string
	IdempotencyKey      string
	TerminalID          string
	Items               []LineItem
	CartDiscountPercent float64
	ClientTotals        *PriceBreakdown
}

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderStatusCommand moves an order through its lifecycle.
type OrderStatusCommand struct {
	OrganizationID string
	OrderID        string
	Status         OrderStatus
}

// UpdateSettingsCommand replaces an organization's settings.
type UpdateSettingsCommand struct {
	OrganizationID string
	SyncMode       string
	Currency       string
	TaxRules       []TaxRule
}

// RemoteOrderRequest is what the terminal sends to the order API.
type RemoteOrderRequest struct {
	OrganizationID      string
	IdempotencyKey      string
	TerminalID          string
	Items               []LineItem
	CartDiscountPercent float64
	Totals              PriceBreakdown
}

// RemoteOrderResult summarises the server's acknowledgement.
type RemoteOrderResult struct {
	OrderID     string
	OrderNumber string
	Total       int64
}

// RemoteOrderRequestFromQueued builds the API payload from a queue entry.
func RemoteOrderRequestFromQueued(order QueuedOrder) RemoteOrderRequest {
	return RemoteOrderRequest{
		OrganizationID:      order.OrganizationID,
		IdempotencyKey:      order.IdempotencyKey,
		TerminalID:          order.TerminalID,
		Items:               append([]LineItem(nil), order.Items...),
		CartDiscountPercent: order.CartDiscountPercent,
		Totals:              order.ComputedTotals,
	}
}
