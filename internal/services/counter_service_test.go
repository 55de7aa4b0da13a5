package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

type stubCounterRepository struct {
	mu             sync.Mutex
	nextFn         func(context.Context, string, string, int64) (int64, error)
	configureFn    func(context.Context, string, string, repositories.CounterConfig) error
	nextCalls      []counterCall
	configureCalls []configureCall
}

type counterCall struct {
	OrgID string
	ID    string
	Step  int64
}

type configureCall struct {
	OrgID string
	ID    string
	Cfg   repositories.CounterConfig
}

func (s *stubCounterRepository) Next(ctx context.Context, orgID, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterCall{OrgID: orgID, ID: counterID, Step: step})
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, orgID, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepository) Configure(ctx context.Context, orgID, counterID string, cfg repositories.CounterConfig) error {
	s.mu.Lock()
	s.configureCalls = append(s.configureCalls, configureCall{OrgID: orgID, ID: counterID, Cfg: cfg})
	s.mu.Unlock()
	if s.configureFn != nil {
		return s.configureFn(ctx, orgID, counterID, cfg)
	}
	return nil
}

func TestCounterServiceNextFormatsAndConfigures(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, string, int64) (int64, error) {
		return 42, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	ctx := context.Background()
	opts := CounterGenerationOptions{Step: 5, Prefix: "TAB-", PadLength: 4}
	value, err := svc.Next(ctx, "org-1", "tabs", opts)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if value.Value != 42 {
		t.Fatalf("expected raw value 42, got %d", value.Value)
	}
	if value.Formatted != "TAB-0042" {
		t.Fatalf("expected formatted TAB-0042, got %s", value.Formatted)
	}
	if _, err := svc.Next(ctx, "org-1", "tabs", opts); err != nil {
		t.Fatalf("second next: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.configureCalls) != 1 {
		t.Fatalf("expected configure called once, got %d", len(repo.configureCalls))
	}
	if repo.configureCalls[0].Cfg.Step != 5 || repo.configureCalls[0].OrgID != "org-1" {
		t.Fatalf("unexpected configure call %+v", repo.configureCalls[0])
	}
}

func TestCounterServiceRequiresScope(t *testing.T) {
	svc, err := NewCounterService(CounterServiceDeps{Repository: &stubCounterRepository{}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	if _, err := svc.Next(context.Background(), " ", "orders", CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "org-1", "limit", "")
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	_, err = svc.Next(context.Background(), "org-1", "limit", CounterGenerationOptions{})
	if !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, string, int64) (int64, error) {
		return 7, nil
	}

	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time {
		return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	result, err := svc.NextOrderNumber(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if result != "ORD-20250102-000007" {
		t.Fatalf("expected formatted order number, got %s", result)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.nextCalls) != 1 {
		t.Fatalf("expected one next call, got %d", len(repo.nextCalls))
	}
	if call := repo.nextCalls[0]; call.OrgID != "org-1" || call.ID != "orders-20250102" {
		t.Fatalf("unexpected counter call %+v", call)
	}
}

func TestCounterServiceOrderNumberCounterIsBoundedAndReconfiguredDaily(t *testing.T) {
	repo := &stubCounterRepository{}
	repo.nextFn = func(context.Context, string, string, int64) (int64, error) { return 1, nil }
	now := time.Date(2025, 1, 2, 23, 59, 0, 0, time.UTC)
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.NextOrderNumber(ctx, "org-1"); err != nil {
			t.Fatalf("next order number: %v", err)
		}
	}
	now = now.Add(2 * time.Minute)
	got, err := svc.NextOrderNumber(ctx, "org-1")
	if err != nil {
		t.Fatalf("next order number after midnight: %v", err)
	}
	if got != "ORD-20250103-000001" {
		t.Fatalf("expected new day sequence, got %s", got)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.configureCalls) != 2 {
		t.Fatalf("expected one configure per day, got %d", len(repo.configureCalls))
	}
	first := repo.configureCalls[0]
	if first.ID != "orders-20250102" || first.Cfg.MaxValue == nil || *first.Cfg.MaxValue != maxOrdersPerDay {
		t.Fatalf("unexpected configure call %+v", first)
	}
	if repo.configureCalls[1].ID != "orders-20250103" {
		t.Fatalf("expected next day counter configured, got %+v", repo.configureCalls[1])
	}
}
