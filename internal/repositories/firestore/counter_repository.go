package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/OMARxKHALID/POSify-sub001/internal/platform/firestore"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

const (
	countersCollection = "counters"

	// Every checkout across an organization's terminals contends on the same daily counter.
	counterTxAttempts = 10
	counterTxTimeout  = 5 * time.Second
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
// Counters live at organizations/{orgID}/counters/{counterID}.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.OrgCollection[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewOrgCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next advances the counter by step inside a transaction and returns the new value. A step
// of zero reuses the stored step. The first call creates the counter.
func (r *CounterRepository) Next(ctx context.Context, orgID, counterID string, step int64) (int64, error) {
	id, err := r.counterKey(orgID, counterID)
	if err != nil {
		return 0, err
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, orgID, id, fmt.Sprintf("step must be positive, got %d", step))
	}

	now := r.now().UTC()
	var next counterDocument
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, orgID, id)
		if err != nil {
			return err
		}
		current, found, err := readCounter(tx, ref)
		if err != nil {
			return err
		}
		if next, err = advance(current, found, step, now); err != nil {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, orgID, id, err.Error())
		}
		if !found {
			return tx.Create(ref, next)
		}
		return tx.Set(ref, next)
	}, pfirestore.WithTxAttempts(counterTxAttempts), pfirestore.WithTxTimeout(counterTxTimeout))

	var counterErr *repositories.CounterError
	switch {
	case errors.As(err, &counterErr):
		counterErr.Op = "counters.next"
		return 0, counterErr
	case err != nil:
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next.CurrentValue, nil
}

// Configure merges step, max and initial value into the counter without touching fields
// cfg leaves unset.
func (r *CounterRepository) Configure(ctx context.Context, orgID, counterID string, cfg repositories.CounterConfig) error {
	id, err := r.counterKey(orgID, counterID)
	if err != nil {
		return err
	}
	fields := map[string]any{"updatedAt": r.now().UTC()}
	if cfg.Step > 0 {
		fields["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		fields["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		fields["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, orgID, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, fields, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}

func (r *CounterRepository) counterKey(orgID, counterID string) (string, error) {
	if r == nil || r.provider == nil {
		return "", errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" || strings.TrimSpace(orgID) == "" {
		return "", repositories.NewCounterError(repositories.CounterErrorInvalidInput, orgID, id, "organization and counter id are required")
	}
	return id, nil
}

func readCounter(tx *firestore.Transaction, ref *firestore.DocumentRef) (counterDocument, bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return counterDocument{}, false, nil
	}
	if err != nil {
		return counterDocument{}, false, err
	}
	var doc counterDocument
	if err := snap.DataTo(&doc); err != nil {
		return counterDocument{}, false, fmt.Errorf("decode counter %s: %w", ref.ID, err)
	}
	return doc, true, nil
}

// advance computes the stored counter after one allocation. A Configure call made before
// the first Next leaves a document with a zero value, which is advanced like any other.
func advance(current counterDocument, found bool, step int64, now time.Time) (counterDocument, error) {
	if step <= 0 {
		step = 1
		if found && current.Step > 0 {
			step = current.Step
		}
	}
	next := current
	next.CurrentValue = current.CurrentValue + step
	next.Step = step
	next.UpdatedAt = now
	if next.MaxValue != nil && next.CurrentValue > *next.MaxValue {
		return counterDocument{}, fmt.Errorf("exceeded max value %d", *next.MaxValue)
	}
	return next, nil
}
