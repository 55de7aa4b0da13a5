package localqueue

import (
	"context"
	"sync"
	"time"

	"github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

// Persistence is the durable backing for a Store. Implementations write whole
// snapshots; queues on a terminal stay small enough that diffing is not worth it.
type Persistence interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Clear(ctx context.Context) error
}

// Snapshot is the persisted form of the queue.
type Snapshot struct {
	Version   int            `json:"version"`
	Orders    []Record       `json:"orders"`
	Processed []ProcessedKey `json:"processed"`
}

// ProcessedKey remembers an idempotency key confirmed by the server.
type ProcessedKey struct {
	Key         string    `json:"key"`
	ProcessedAt time.Time `json:"processedAt"`
}

const snapshotVersion = 1

// Record is the JSON representation of a queued order.
type Record struct {
	IdempotencyKey      string          `json:"idempotencyKey"`
	OrganizationID      string          `json:"organizationId,omitempty"`
	TerminalID          string          `json:"terminalId,omitempty"`
	Items               []itemRecord    `json:"items"`
	CartDiscountPercent float64         `json:"cartDiscountPercent,omitempty"`
	ComputedTotals      breakdownRecord `json:"computedTotals"`
	Status              string          `json:"status"`
	FailureReason       string          `json:"failureReason,omitempty"`
	Attempts            int             `json:"attempts,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

type itemRecord struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	UnitPrice       int64   `json:"unitPrice"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discountPercent,omitempty"`
}

type breakdownRecord struct {
	Currency            string          `json:"currency"`
	Subtotal            int64           `json:"subtotal"`
	ItemDiscountTotal   int64           `json:"itemDiscountTotal"`
	CartDiscountPercent float64         `json:"cartDiscountPercent,omitempty"`
	CartDiscountAmount  int64           `json:"cartDiscountAmount"`
	DiscountedSubtotal  int64           `json:"discountedSubtotal"`
	TaxAmount           int64           `json:"taxAmount"`
	TaxBreakdown        []taxLineRecord `json:"taxBreakdown,omitempty"`
	Total               int64           `json:"total"`
}

type taxLineRecord struct {
	RuleID string  `json:"ruleId"`
	Name   string  `json:"name"`
	Rate   float64 `json:"rate"`
	Type   string  `json:"type"`
	Amount int64   `json:"amount"`
}

func recordFromOrder(order domain.QueuedOrder) Record {
	items := make([]itemRecord, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, itemRecord{
			ID:              item.ID,
			Name:            item.Name,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			DiscountPercent: item.DiscountPercent,
		})
	}
	totals := order.ComputedTotals
	taxes := make([]taxLineRecord, 0, len(totals.TaxBreakdown))
	for _, line := range totals.TaxBreakdown {
		taxes = append(taxes, taxLineRecord{
			RuleID: line.RuleID,
			Name:   line.Name,
			Rate:   line.Rate,
			Type:   string(line.Type),
			Amount: line.Amount,
		})
	}
	return Record{
		IdempotencyKey:      order.IdempotencyKey,
		OrganizationID:      order.OrganizationID,
		TerminalID:          order.TerminalID,
		Items:               items,
		CartDiscountPercent: order.CartDiscountPercent,
		ComputedTotals: breakdownRecord{
			Currency:            totals.Currency,
			Subtotal:            totals.Subtotal,
			ItemDiscountTotal:   totals.ItemDiscountTotal,
			CartDiscountPercent: totals.CartDiscountPercent,
			CartDiscountAmount:  totals.CartDiscountAmount,
			DiscountedSubtotal:  totals.DiscountedSubtotal,
			TaxAmount:           totals.TaxAmount,
			TaxBreakdown:        taxes,
			Total:               totals.Total,
		},
		Status:        string(order.Status),
		FailureReason: order.FailureReason,
		Attempts:      order.Attempts,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func (r Record) toOrder() domain.QueuedOrder {
	items := make([]domain.LineItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.LineItem{
			ID:              item.ID,
			Name:            item.Name,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			DiscountPercent: domain.ClampPercent(item.DiscountPercent),
		})
	}
	taxes := make([]domain.TaxLine, 0, len(r.ComputedTotals.TaxBreakdown))
	for _, line := range r.ComputedTotals.TaxBreakdown {
		taxes = append(taxes, domain.TaxLine{
			RuleID: line.RuleID,
			Name:   line.Name,
			Rate:   line.Rate,
			Type:   domain.TaxType(line.Type),
			Amount: line.Amount,
		})
	}
	status := domain.QueueStatus(r.Status)
	if status != domain.QueueStatusFailed {
		status = domain.QueueStatusQueued
	}
	totals := r.ComputedTotals
	return domain.QueuedOrder{
		IdempotencyKey:      r.IdempotencyKey,
		OrganizationID:      r.OrganizationID,
		TerminalID:          r.TerminalID,
		Items:               items,
		CartDiscountPercent: domain.ClampPercent(r.CartDiscountPercent),
		ComputedTotals: domain.PriceBreakdown{
			Currency:            totals.Currency,
			Subtotal:            totals.Subtotal,
			ItemDiscountTotal:   totals.ItemDiscountTotal,
			CartDiscountPercent: totals.CartDiscountPercent,
			CartDiscountAmount:  totals.CartDiscountAmount,
			DiscountedSubtotal:  totals.DiscountedSubtotal,
			TaxAmount:           totals.TaxAmount,
			TaxBreakdown:        taxes,
			Total:               totals.Total,
		},
		Status:        status,
		FailureReason: r.FailureReason,
		Attempts:      r.Attempts,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// MemoryPersistence keeps the snapshot in process memory. Useful for tests and for
// terminals configured without durable storage.
type MemoryPersistence struct {
	mu       sync.Mutex
	snapshot Snapshot
	saves    int
}

// NewMemoryPersistence constructs an empty memory persistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

// Load implements Persistence.
func (m *MemoryPersistence) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snapshot), nil
}

// Save implements Persistence.
func (m *MemoryPersistence) Save(_ context.Context, snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = cloneSnapshot(snapshot)
	m.saves++
	return nil
}

// Clear implements Persistence.
func (m *MemoryPersistence) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = Snapshot{}
	return nil
}

// Saves reports how many snapshots were written.
func (m *MemoryPersistence) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{Version: s.Version}
	if len(s.Orders) > 0 {
		out.Orders = append([]Record(nil), s.Orders...)
	}
	if len(s.Processed) > 0 {
		out.Processed = append([]ProcessedKey(nil), s.Processed...)
	}
	return out
}
