package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the counter reached its max value.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

const (
	orderNumberPrefix = "ORD"
	orderNumberDigits = 6
	// Keeps the daily sequence inside its six zero-padded digits.
	maxOrdersPerDay int64 = 999_999
)

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step      int64
	MaxValue  *int64
	Prefix    string
	PadLength int
}

// CounterValue is an allocated sequence value and its display form.
type CounterValue struct {
	Value     int64
	Formatted string
}

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	mu sync.Mutex
	// configured remembers which counters already carry their step and max so Configure is
	// written once per process instead of once per order. Reset when the UTC day changes.
	configured    map[string]counterSettings
	configuredDay string
}

type counterSettings struct {
	step     int64
	maxValue int64
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo:       deps.Repository,
		clock:      func() time.Time { return clock().UTC() },
		configured: make(map[string]counterSettings),
	}, nil
}

// Next allocates the next value of counter name within the organization scope.
func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	switch {
	case scope == "":
		return CounterValue{}, fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	case name == "":
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	case opts.Step < 0:
		return CounterValue{}, fmt.Errorf("%w: step must not be negative", ErrCounterInvalidInput)
	}

	if err := s.configure(ctx, scope, name, opts); err != nil {
		return CounterValue{}, err
	}

	value, err := s.repo.Next(ctx, scope, name, opts.Step)
	if err != nil {
		return CounterValue{}, mapCounterError(err)
	}
	return CounterValue{Value: value, Formatted: formatCounter(value, opts)}, nil
}

// NextOrderNumber returns ORD-YYYYMMDD-NNNNNN. The sequence restarts every UTC day.
func (s *counterService) NextOrderNumber(ctx context.Context, orgID string) (string, error) {
	day := s.clock().Format("20060102")
	limit := maxOrdersPerDay
	result, err := s.Next(ctx, orgID, "orders-"+day, CounterGenerationOptions{
		Step:      1,
		MaxValue:  &limit,
		Prefix:    orderNumberPrefix + "-" + day + "-",
		PadLength: orderNumberDigits,
	})
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

func (s *counterService) configure(ctx context.Context, scope, name string, opts CounterGenerationOptions) error {
	if opts.Step == 0 && opts.MaxValue == nil {
		return nil
	}
	want := counterSettings{step: opts.Step}
	cfg := repositories.CounterConfig{Step: opts.Step}
	if opts.MaxValue != nil {
		want.maxValue = *opts.MaxValue
		cfg.MaxValue = opts.MaxValue
	}

	key := scope + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if day := s.clock().Format("20060102"); day != s.configuredDay {
		s.configured = make(map[string]counterSettings)
		s.configuredDay = day
	}
	if got, ok := s.configured[key]; ok && got == want {
		return nil
	}
	if err := s.repo.Configure(ctx, scope, name, cfg); err != nil {
		return mapCounterError(err)
	}
	s.configured[key] = want
	return nil
}

func mapCounterError(err error) error {
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		return err
	}
	switch counterErr.Code {
	case repositories.CounterErrorInvalidInput:
		return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
	case repositories.CounterErrorExhausted:
		return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
	}
	return err
}

func formatCounter(value int64, opts CounterGenerationOptions) string {
	return fmt.Sprintf("%s%0*d", opts.Prefix, max(opts.PadLength, 1), value)
}
