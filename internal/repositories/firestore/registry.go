package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/OMARxKHALID/POSify-sub001/internal/platform/firestore"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

const dependencyCheckTimeout = 3 * time.Second

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	settings *SettingsRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of provider. extraChecks are probed alongside
// Firestore on readiness requests.
func NewRegistry(provider *pfirestore.Provider, version string, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithVersion(version),
		repositories.WithDependencyTimeout(dependencyCheckTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		settings: settings,
		counters: counters,
		health:   health,
	}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(context.Context) error {
	if r == nil {
		return nil
	}
	return r.provider.Close()
}

func (r *Registry) Orders() repositories.OrderRepository {
	return r.orders
}

func (r *Registry) Settings() repositories.SettingsRepository {
	return r.settings
}

func (r *Registry) Counters() repositories.CounterRepository {
	return r.counters
}

func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}
