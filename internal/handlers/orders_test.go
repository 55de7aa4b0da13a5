package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/auth"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/idempotency"
	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn    func(context.Context, string, string) (services.Order, error)
	listFn   func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	statusFn func(context.Context, services.OrderStatusCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orgID, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orgID, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.OrderStatusCommand) (services.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func sampleOrder(key string) services.Order {
	placed := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:             "01JORDER",
		OrganizationID: "org-1",
		OrderNumber:    "ORD-20250102-000001",
		IdempotencyKey: key,
		TerminalID:     "till-1",
		Items:          []domain.LineItem{{ID: "burger", Name: "Burger", UnitPrice: 1000, Quantity: 2}},
		Totals:         domain.PriceBreakdown{Currency: "USD", Subtotal: 2000, DiscountedSubtotal: 2000, TaxAmount: 200, Total: 2200},
		Status:         domain.OrderStatusPending,
		PlacedAt:       placed,
		UpdatedAt:      placed,
	}
}

func newOrderAPI(svc services.OrderService, opts ...OrderHandlersOption) http.Handler {
	authn := auth.NewAuthenticator("secret")
	return NewRouter(
		WithOrganizationMiddlewares(authn.RequireTerminal()),
		WithOrganizationRoutes(NewOrderHandlers(svc, opts...).Routes),
	)
}

func orderRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.TerminalHeader, "till-1")
	return req
}

const createBody = `{"idempotencyKey":"k1","items":[{"id":"burger","name":"Burger","unitPrice":1000,"quantity":2,"discountPercent":150}],"totals":{"currency":"USD","subtotal":2000,"itemDiscountTotal":0,"cartDiscountPercent":0,"cartDiscountAmount":0,"discountedSubtotal":2000,"taxAmount":200,"taxBreakdown":[],"total":2200}}`

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		captured = cmd
		return sampleOrder(cmd.IdempotencyKey), nil
	}}

	rr := httptest.NewRecorder()
	newOrderAPI(svc).ServeHTTP(rr, orderRequest(http.MethodPost, "/api/v1/organizations/org-1/orders", createBody))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrganizationID != "org-1" || captured.TerminalID != "till-1" || captured.IdempotencyKey != "k1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Items[0].DiscountPercent != 100 {
		t.Fatalf("expected discount clamp to 100, got %v", captured.Items[0].DiscountPercent)
	}
	if captured.ClientTotals == nil || captured.ClientTotals.Total != 2200 {
		t.Fatalf("expected client totals to be forwarded")
	}

	var body orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.OrderNumber != "ORD-20250102-000001" || body.Totals.Total != 2200 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestOrderHandlersCreateOrderDuplicateReturnsExisting(t *testing.T) {
	svc := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		return services.Order{}, &services.DuplicateOrderError{Existing: sampleOrder(cmd.IdempotencyKey)}
	}}

	rr := httptest.NewRecorder()
	newOrderAPI(svc).ServeHTTP(rr, orderRequest(http.MethodPost, "/api/v1/organizations/org-1/orders", createBody))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body struct {
		Error   string       `json:"error"`
		Message string       `json:"message"`
		Order   orderPayload `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "order_already_exists" || body.Order.ID != "01JORDER" {
		t.Fatalf("unexpected body %+v", body)
	}
	if !strings.Contains(body.Message, "already exists") {
		t.Fatalf("message must carry the duplicate marker, got %q", body.Message)
	}
}

func TestOrderHandlersRequireBearerToken(t *testing.T) {
	req := orderRequest(http.MethodPost, "/api/v1/organizations/org-1/orders", createBody)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	newOrderAPI(&stubOrderService{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderReplaysThroughIdempotency(t *testing.T) {
	calls := 0
	svc := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		calls++
		return sampleOrder(cmd.IdempotencyKey), nil
	}}
	handler := newOrderAPI(svc, WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))

	for i := 0; i < 2; i++ {
		req := orderRequest(http.MethodPost, "/api/v1/organizations/org-1/orders", createBody)
		req.Header.Set("Idempotency-Key", "k1")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d: %s", i, rr.Code, rr.Body.String())
		}
	}
	if calls != 1 {
		t.Fatalf("expected the replay to be served from the store, service called %d times", calls)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		captured = filter
		return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("k1")}, NextPageToken: "next"}, nil
	}}

	rr := httptest.NewRecorder()
	newOrderAPI(svc).ServeHTTP(rr, orderRequest(http.MethodGet, "/api/v1/organizations/org-1/orders?status=pending,ready&pageSize=500&placedAfter=2025-01-01T00:00:00Z", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrganizationID != "org-1" || len(captured.Status) != 2 || captured.Pagination.PageSize != maxOrderPageSize {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.PlacedAfter == nil || !captured.PlacedAfter.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected placedAfter %v", captured.PlacedAfter)
	}
	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.NextPageToken != "next" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestOrderHandlersUpdateStatusMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: pending -> completed", services.ErrOrderInvalidTransition), http.StatusConflict, "order_invalid_state"},
		{services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubOrderService{statusFn: func(context.Context, services.OrderStatusCommand) (services.Order, error) {
				return services.Order{}, tc.err
			}}
			rr := httptest.NewRecorder()
			newOrderAPI(svc).ServeHTTP(rr, orderRequest(http.MethodPost, "/api/v1/organizations/org-1/orders/01JORDER:status", `{"status":"completed"}`))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			_ = json.Unmarshal(rr.Body.Bytes(), &body)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOrderHandlersUpdateStatusRejectsUnknownStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	newOrderAPI(&stubOrderService{}).ServeHTTP(rr, orderRequest(http.MethodPost, "/api/v1/organizations/org-1/orders/01JORDER:status", `{"status":"shipped"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	svc := &stubOrderService{getFn: func(_ context.Context, orgID, orderID string) (services.Order, error) {
		if orgID != "org-1" || orderID != "01JORDER" {
			return services.Order{}, services.ErrOrderNotFound
		}
		return sampleOrder("k1"), nil
	}}
	rr := httptest.NewRecorder()
	newOrderAPI(svc).ServeHTTP(rr, orderRequest(http.MethodGet, "/api/v1/organizations/org-1/orders/01JORDER", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestOrderHandlersRejectOversizedStatusBody(t *testing.T) {
	body := `{"status":"` + strings.Repeat("x", maxStatusBodySize) + `"}`
	rr := httptest.NewRecorder()
	newOrderAPI(&stubOrderService{}).ServeHTTP(rr, orderRequest(http.MethodPost, "/api/v1/organizations/org-1/orders/o-1:status", body))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
}
