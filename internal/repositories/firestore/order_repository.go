package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	pfirestore "github.com/OMARxKHALID/POSify-sub001/internal/platform/firestore"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/pagination"
	"github.com/OMARxKHALID/POSify-sub001/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository stores orders at organizations/{orgID}/orders/{idempotencyKey}. Using the
// key as document id makes a replayed submission collide on Create.
type OrderRepository struct {
	orders *pfirestore.OrgCollection[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewOrgCollection[orderDocument](provider, ordersCollection)}, nil
}

// Insert implements repositories.OrderRepository.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	key, err := documentKey(order.IdempotencyKey)
	if err != nil {
		return err
	}
	return r.orders.Create(ctx, order.OrganizationID, key, newOrderDocument(order))
}

// Update implements repositories.OrderRepository. The order must exist.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	key, err := documentKey(order.IdempotencyKey)
	if err != nil {
		return err
	}
	doc := newOrderDocument(order)
	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "updatedAt", Value: doc.UpdatedAt},
		{Path: "completedAt", Value: doc.CompletedAt},
		{Path: "cancelledAt", Value: doc.CancelledAt},
	}
	return r.orders.Update(ctx, order.OrganizationID, key, updates, firestore.Exists)
}

// FindByID implements repositories.OrderRepository.
func (r *OrderRepository) FindByID(ctx context.Context, orgID, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, pfirestore.NewNotFound("orders.find", "order id is required")
	}
	page, err := r.orders.Query(ctx, orgID, func(q firestore.Query) firestore.Query {
		return q.Where("id", "==", orderID)
	}, 1, "")
	if err != nil {
		return domain.Order{}, err
	}
	if len(page.Documents) == 0 {
		return domain.Order{}, pfirestore.NewNotFound("orders.find", "order not found")
	}
	return page.Documents[0].Data.toDomain(orgID), nil
}

// FindByIdempotencyKey implements repositories.OrderRepository.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, orgID, key string) (domain.Order, error) {
	docKey, err := documentKey(key)
	if err != nil {
		return domain.Order{}, err
	}
	doc, err := r.orders.Get(ctx, orgID, docKey)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(orgID), nil
}

// List implements repositories.OrderRepository, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	digest := listDigest(filter)
	cursor, err := pagination.Resume(filter.Pagination.PageToken, digest)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	page, err := r.orders.Query(ctx, filter.OrganizationID, func(q firestore.Query) firestore.Query {
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", filter.Status[0])
		} else if len(filter.Status) > 1 {
			q = q.Where("status", "in", filter.Status)
		}
		if terminal := strings.TrimSpace(filter.TerminalID); terminal != "" {
			q = q.Where("terminalId", "==", terminal)
		}
		if filter.PlacedAfter != nil {
			q = q.Where("placedAt", ">=", filter.PlacedAfter.UTC())
		}
		return q.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	}, limit, cursor.AfterID)
	var fsErr *pfirestore.Error
	if cursor.AfterID != "" && errors.As(err, &fsErr) && fsErr.IsNotFound() {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: cursor order no longer exists", pagination.ErrInvalidPageToken)
	}
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	result := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(page.Documents))}
	for _, doc := range page.Documents {
		result.Items = append(result.Items, doc.Data.toDomain(filter.OrganizationID))
	}
	if page.HasMore {
		result.NextPageToken = pagination.EncodeToken(pagination.Cursor{AfterID: page.LastID, Filter: digest})
	}
	return result, nil
}

func listDigest(filter repositories.OrderListFilter) string {
	placedAfter := ""
	if filter.PlacedAfter != nil {
		placedAfter = filter.PlacedAfter.UTC().Format(time.RFC3339Nano)
	}
	return pagination.FilterDigest(filter.OrganizationID, strings.Join(filter.Status, ","), filter.TerminalID, placedAfter)
}

func documentKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "/") || key == "." || key == ".." || strings.HasPrefix(key, "__") {
		return "", pfirestore.NewInvalid("orders.key", "idempotency key is not a valid document id")
	}
	return key, nil
}

type orderDocument struct {
	ID                  string              `firestore:"id"`
	OrderNumber         string              `firestore:"orderNumber"`
	IdempotencyKey      string              `firestore:"idempotencyKey"`
	TerminalID          string              `firestore:"terminalId,omitempty"`
	Items               []lineItemDocument  `firestore:"items"`
	CartDiscountPercent float64             `firestore:"cartDiscountPercent"`
	Totals              breakdownDocument   `firestore:"totals"`
	Status              string              `firestore:"status"`
	PlacedAt            time.Time           `firestore:"placedAt"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	UpdatedAt           time.Time           `firestore:"updatedAt"`
	CompletedAt         *time.Time          `firestore:"completedAt"`
	CancelledAt         *time.Time          `firestore:"cancelledAt"`
}

type lineItemDocument struct {
	ID              string  `firestore:"id"`
	Name            string  `firestore:"name"`
	UnitPrice       int64   `firestore:"unitPrice"`
	Quantity        int     `firestore:"quantity"`
	DiscountPercent float64 `firestore:"discountPercent"`
}

type breakdownDocument struct {
	Currency            string            `firestore:"currency"`
	Subtotal            int64             `firestore:"subtotal"`
	ItemDiscountTotal   int64             `firestore:"itemDiscountTotal"`
	CartDiscountPercent float64           `firestore:"cartDiscountPercent"`
	CartDiscountAmount  int64             `firestore:"cartDiscountAmount"`
	DiscountedSubtotal  int64             `firestore:"discountedSubtotal"`
	TaxAmount           int64             `firestore:"taxAmount"`
	TaxBreakdown        []taxLineDocument `firestore:"taxBreakdown"`
	Total               int64             `firestore:"total"`
}

type taxLineDocument struct {
	RuleID string  `firestore:"ruleId"`
	Name   string  `firestore:"name"`
	Rate   float64 `firestore:"rate"`
	Type   string  `firestore:"type"`
	Amount int64   `firestore:"amount"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemDocument{
			ID:              item.ID,
			Name:            item.Name,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			DiscountPercent: item.DiscountPercent,
		})
	}
	return orderDocument{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		IdempotencyKey:      strings.TrimSpace(order.IdempotencyKey),
		TerminalID:          strings.TrimSpace(order.TerminalID),
		Items:               items,
		CartDiscountPercent: order.CartDiscountPercent,
		Totals:              newBreakdownDocument(order.Totals),
		Status:              string(order.Status),
		PlacedAt:            order.PlacedAt.UTC(),
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
		CompletedAt:         utcPtr(order.CompletedAt),
		CancelledAt:         utcPtr(order.CancelledAt),
	}
}

func newBreakdownDocument(b domain.PriceBreakdown) breakdownDocument {
	lines := make([]taxLineDocument, 0, len(b.TaxBreakdown))
	for _, line := range b.TaxBreakdown {
		lines = append(lines, taxLineDocument{RuleID: line.RuleID, Name: line.Name, Rate: line.Rate, Type: string(line.Type), Amount: line.Amount})
	}
	return breakdownDocument{
		Currency:            b.Currency,
		Subtotal:            b.Subtotal,
		ItemDiscountTotal:   b.ItemDiscountTotal,
		CartDiscountPercent: b.CartDiscountPercent,
		CartDiscountAmount:  b.CartDiscountAmount,
		DiscountedSubtotal:  b.DiscountedSubtotal,
		TaxAmount:           b.TaxAmount,
		TaxBreakdown:        lines,
		Total:               b.Total,
	}
}

func (d orderDocument) toDomain(orgID string) domain.Order {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.LineItem{
			ID:              item.ID,
			Name:            item.Name,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			DiscountPercent: item.DiscountPercent,
		})
	}
	return domain.Order{
		ID:                  d.ID,
		OrganizationID:      orgID,
		OrderNumber:         d.OrderNumber,
		IdempotencyKey:      d.IdempotencyKey,
		TerminalID:          d.TerminalID,
		Items:               items,
		CartDiscountPercent: d.CartDiscountPercent,
		Totals:              d.Totals.toDomain(),
		Status:              domain.OrderStatus(d.Status),
		PlacedAt:            d.PlacedAt,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
		CompletedAt:         d.CompletedAt,
		CancelledAt:         d.CancelledAt,
	}
}

func (d breakdownDocument) toDomain() domain.PriceBreakdown {
	lines := make([]domain.TaxLine, 0, len(d.TaxBreakdown))
	for _, line := range d.TaxBreakdown {
		lines = append(lines, domain.TaxLine{RuleID: line.RuleID, Name: line.Name, Rate: line.Rate, Type: domain.TaxType(line.Type), Amount: line.Amount})
	}
	return domain.PriceBreakdown{
		Currency:            d.Currency,
		Subtotal:            d.Subtotal,
		ItemDiscountTotal:   d.ItemDiscountTotal,
		CartDiscountPercent: d.CartDiscountPercent,
		CartDiscountAmount:  d.CartDiscountAmount,
		DiscountedSubtotal:  d.DiscountedSubtotal,
		TaxAmount:           d.TaxAmount,
		TaxBreakdown:        lines,
		Total:               d.Total,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
