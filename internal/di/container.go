package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/OMARxKHALID/POSify-sub001/internal/platform/config"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Settings services.SettingsService
	Counters services.CounterService
	Pricing  *services.OrderPricingEngine
}

// Container wires repositories and services for the order API.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container construction.
type Option func(*options)

type options struct {
	events services.OrderEventPublisher
	logger *zap.Logger
	clock  func() time.Time
}

// WithOrderEvents sets the publisher order lifecycle events are sent to.
func WithOrderEvents(publisher services.OrderEventPublisher) Option {
	return func(o *options) {
		o.events = publisher
	}
}

// WithLogger sets the base logger handed to services.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock shared by services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	svc, err := buildServices(ctx, reg, cfg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options) (Services, error) {
	var svc Services

	engine, err := NewPricingEngine(cfg.Pricing, o.logger)
	if err != nil {
		return Services{}, err
	}
	svc.Pricing = engine

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      o.clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Repository: reg.Settings(),
		Clock:      o.clock,
		Logger:     o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}
	svc.Settings = settingsSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Settings: settingsSvc,
		Counters: counterSvc,
		Pricing:  engine,
		Events:   o.events,
		Clock:    o.clock,
		Logger:   o.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}

// NewPricingEngine builds the pricing engine described by cfg. An unparseable language
// falls back to English formatting.
func NewPricingEngine(cfg config.PricingConfig, logger *zap.Logger) (*services.OrderPricingEngine, error) {
	tag, err := language.Parse(cfg.Language)
	if err != nil {
		tag = language.English
	}
	engine, err := services.NewOrderPricingEngine(services.OrderPricingEngineDeps{
		Currency: cfg.DefaultCurrency,
		Rounding: cfg.Rounding,
		Language: tag,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pricing engine: %w", err)
	}
	return engine, nil
}
