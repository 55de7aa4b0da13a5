package domain

import (
	"strings"
	"time"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// LineItem is a cart or order entry. Amounts are in the smallest currency unit.
type LineItem struct {
	ID              string
	Name            string
	UnitPrice       int64
	Quantity        int
	DiscountPercent float64
}

// SetDiscountPercent stores the discount clamped to [0,100].
func (i *LineItem) SetDiscountPercent(percent float64) {
	i.DiscountPercent = ClampPercent(percent)
}

// ClampPercent bounds a percentage to [0,100]. NaN collapses to zero.
func ClampPercent(percent float64) float64 {
	if percent != percent || percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 100
	}
	return percent
}

// ClampLineItems returns a copy of items with every discount clamped.
func ClampLineItems(items []LineItem) []LineItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]LineItem, len(items))
	for i, item := range items {
		item.DiscountPercent = ClampPercent(item.DiscountPercent)
		out[i] = item
	}
	return out
}

// TaxType distinguishes rate based and flat taxes.
type TaxType string

const (
	// TaxTypePercentage applies Rate as a percentage of the taxable base.
	TaxTypePercentage TaxType = "percentage"
	// TaxTypeFixed declares Rate as a flat amount in major currency units.
	TaxTypeFixed TaxType = "fixed"
)

// Valid reports whether the tax type is recognised.
func (t TaxType) Valid() bool {
	switch t {
	case TaxTypePercentage, TaxTypeFixed:
		return true
	default:
		return false
	}
}

// TaxRule is an organization level tax definition.
type TaxRule struct {
	ID      string
	Name    string
	Rate    float64
	Type    TaxType
	Enabled bool
}

// SyncMode controls whether terminals drain their offline queue automatically.
type SyncMode string

const (
	// SyncModeAuto drains the queue whenever connectivity returns.
	SyncModeAuto SyncMode = "auto"
	// SyncModeManual only drains the queue on explicit operator action.
	SyncModeManual SyncMode = "manual"
)

// ParseSyncMode normalises raw input, returning false for unknown values.
func ParseSyncMode(raw string) (SyncMode, bool) {
	switch SyncMode(strings.ToLower(strings.TrimSpace(raw))) {
	case SyncModeAuto:
		return SyncModeAuto, true
	case SyncModeManual:
		return SyncModeManual, true
	default:
		return "", false
	}
}

// OrganizationSettings holds tenant wide POS configuration.
type OrganizationSettings struct {
	OrganizationID string
	SyncMode       SyncMode
	Currency       string
	TaxRules       []TaxRule
	UpdatedAt      time.Time
}

// EnabledTaxRules filters out disabled rules.
func (s OrganizationSettings) EnabledTaxRules() []TaxRule {
	out := make([]TaxRule, 0, len(s.TaxRules))
	for _, rule := range s.TaxRules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}

// QueueStatus is the lifecycle state of a locally queued order.
type QueueStatus string

const (
	// QueueStatusQueued marks an order waiting for its first or next sync attempt.
	QueueStatusQueued QueueStatus = "queued"
	// QueueStatusFailed marks an order whose last attempt failed terminally.
	QueueStatusFailed QueueStatus = "failed"
)

// QueuedOrder is an order accepted on a terminal but not yet confirmed by the server.
type QueuedOrder struct {
	IdempotencyKey      string
	OrganizationID      string
	TerminalID          string
	Items               []LineItem
	CartDiscountPercent float64
	ComputedTotals      PriceBreakdown
	Status              QueueStatus
	FailureReason       string
	Attempts            int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Malformed reports whether the order can never be accepted by the server.
func (o QueuedOrder) Malformed() bool {
	return strings.TrimSpace(o.IdempotencyKey) == "" || len(o.Items) == 0
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was accepted and awaits the kitchen.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPreparing indicates the kitchen is working on the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is ready for pickup or serving.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusCompleted indicates the order has been handed over and settled.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was voided.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusReady, OrderStatusCancelled},
	OrderStatusReady:     {OrderStatusCompleted},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether the status is a known value.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Order is the server side record created from a terminal submission.
type Order struct {
	ID                  string
	OrganizationID      string
	OrderNumber         string
	IdempotencyKey      string
	TerminalID          string
	Items               []LineItem
	CartDiscountPercent float64
	Totals              PriceBreakdown
	Status              OrderStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
	PlacedAt            time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
}

// OrderEvent is published when an order changes in a way other systems care about.
type OrderEvent struct {
	Type           string
	OrganizationID string
	OrderID        string
	OrderNumber    string
	IdempotencyKey string
	Status         OrderStatus
	Total          int64
	Currency       string
	OccurredAt     time.Time
}

// Pagination captures cursor based listing input.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// NotificationSeverity classifies operator facing messages.
type NotificationSeverity string

const (
	// NotificationSuccess reports a completed action.
	NotificationSuccess NotificationSeverity = "success"
	// NotificationError reports a failed action.
	NotificationError NotificationSeverity = "error"
	// NotificationInfo reports neutral progress.
	NotificationInfo NotificationSeverity = "info"
)

// Notification is a short message shown to the operator. Notifications sharing an
// ID replace each other.
type Notification struct {
	ID        string
	Severity  NotificationSeverity
	Title     string
	Message   string
	CreatedAt time.Time
}

// HealthStatus summarises a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the outcome of probing one dependency.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for readiness endpoints.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	GeneratedAt time.Time
}
