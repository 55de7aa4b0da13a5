package repositories

import (
	"context"
	"time"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Settings() SettingsRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists server side orders. Orders are keyed by organization and
// idempotency key so a replayed submission can never create a second document.
type OrderRepository interface {
	// Insert creates the order. It fails with a conflict error when the organization
	// already has an order for the same idempotency key.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orgID, orderID string) (domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, orgID, key string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// SettingsRepository stores one settings document per organization.
type SettingsRepository interface {
	Get(ctx context.Context, orgID string) (domain.OrganizationSettings, error)
	Save(ctx context.Context, settings domain.OrganizationSettings) error
}

// CounterRepository provides transaction-safe sequence numbers scoped to an organization.
type CounterRepository interface {
	Next(ctx context.Context, orgID, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, orgID, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings. Results are newest first.
type OrderListFilter struct {
	OrganizationID string
	Status         []string
	TerminalID     string
	PlacedAfter    *time.Time
	Pagination     domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
