package handlers

import (
	"errors"
	"net/http"
	"time"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
	"github.com/OMARxKHALID/POSify-sub001/internal/platform/httpx"
	"github.com/OMARxKHALID/POSify-sub001/internal/services"
)

const maxOrderBodySize = 256 * 1024

type lineItemPayload struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	UnitPrice       int64   `json:"unitPrice"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discountPercent,omitempty"`
}

type taxLinePayload struct {
	RuleID string  `json:"ruleId"`
	Name   string  `json:"name"`
	Rate   float64 `json:"rate"`
	Type   string  `json:"type"`
	Amount int64   `json:"amount"`
}

type breakdownPayload struct {
	Currency            string           `json:"currency"`
	Subtotal            int64            `json:"subtotal"`
	ItemDiscountTotal   int64            `json:"itemDiscountTotal"`
	CartDiscountPercent float64          `json:"cartDiscountPercent"`
	CartDiscountAmount  int64            `json:"cartDiscountAmount"`
	DiscountedSubtotal  int64            `json:"discountedSubtotal"`
	TaxAmount           int64            `json:"taxAmount"`
	TaxBreakdown        []taxLinePayload `json:"taxBreakdown"`
	Total               int64            `json:"total"`
	Formatted           string           `json:"formattedTotal,omitempty"`
}

type createOrderRequest struct {
	IdempotencyKey      string            `json:"idempotencyKey"`
	TerminalID          string            `json:"terminalId,omitempty"`
	Items               []lineItemPayload `json:"items"`
	CartDiscountPercent float64           `json:"cartDiscountPercent,omitempty"`
	Totals              *breakdownPayload `json:"totals,omitempty"`
}

type orderPayload struct {
	ID                  string            `json:"id"`
	OrderNumber         string            `json:"orderNumber"`
	IdempotencyKey      string            `json:"idempotencyKey"`
	TerminalID          string            `json:"terminalId,omitempty"`
	Status              string            `json:"status"`
	Items               []lineItemPayload `json:"items"`
	CartDiscountPercent float64           `json:"cartDiscountPercent"`
	Totals              breakdownPayload  `json:"totals"`
	PlacedAt            string            `json:"placedAt"`
	UpdatedAt           string            `json:"updatedAt"`
	CompletedAt         string            `json:"completedAt,omitempty"`
	CancelledAt         string            `json:"cancelledAt,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

type taxRulePayload struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Rate    float64 `json:"rate"`
	Type    string  `json:"type"`
	Enabled bool    `json:"enabled"`
}

type settingsPayload struct {
	SyncMode  string           `json:"syncMode"`
	Currency  string           `json:"currency"`
	TaxRules  []taxRulePayload `json:"taxRules"`
	UpdatedAt *time.Time       `json:"updatedAt,omitempty"`
}

type quoteRequest struct {
	Items               []lineItemPayload `json:"items"`
	CartDiscountPercent float64           `json:"cartDiscountPercent,omitempty"`
	// FixedTaxAsAmount applies fixed rules as flat amounts instead of percentages.
	FixedTaxAsAmount bool `json:"fixedTaxAsAmount,omitempty"`
}

func (p lineItemPayload) toDomain() domain.LineItem {
	item := domain.LineItem{ID: p.ID, Name: p.Name, UnitPrice: p.UnitPrice, Quantity: p.Quantity}
	item.SetDiscountPercent(p.DiscountPercent)
	return item
}

func lineItemsFromPayload(items []lineItemPayload) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, item.toDomain())
	}
	return out
}

func newLineItemPayloads(items []domain.LineItem) []lineItemPayload {
	out := make([]lineItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, lineItemPayload{
			ID:              item.ID,
			Name:            item.Name,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			DiscountPercent: item.DiscountPercent,
		})
	}
	return out
}

func newBreakdownPayload(b domain.PriceBreakdown) breakdownPayload {
	lines := make([]taxLinePayload, 0, len(b.TaxBreakdown))
	for _, line := range b.TaxBreakdown {
		lines = append(lines, taxLinePayload{RuleID: line.RuleID, Name: line.Name, Rate: line.Rate, Type: string(line.Type), Amount: line.Amount})
	}
	return breakdownPayload{
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

func (p breakdownPayload) toDomain() domain.PriceBreakdown {
	lines := make([]domain.TaxLine, 0, len(p.TaxBreakdown))
	for _, line := range p.TaxBreakdown {
		lines = append(lines, domain.TaxLine{RuleID: line.RuleID, Name: line.Name, Rate: line.Rate, Type: domain.TaxType(line.Type), Amount: line.Amount})
	}
	return domain.PriceBreakdown{
		Currency:            p.Currency,
		Subtotal:            p.Subtotal,
		ItemDiscountTotal:   p.ItemDiscountTotal,
		CartDiscountPercent: p.CartDiscountPercent,
		CartDiscountAmount:  p.CartDiscountAmount,
		DiscountedSubtotal:  p.DiscountedSubtotal,
		TaxAmount:           p.TaxAmount,
		TaxBreakdown:        lines,
		Total:               p.Total,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		IdempotencyKey:      order.IdempotencyKey,
		TerminalID:          order.TerminalID,
		Status:              string(order.Status),
		Items:               newLineItemPayloads(order.Items),
		CartDiscountPercent: order.CartDiscountPercent,
		Totals:              newBreakdownPayload(order.Totals),
		PlacedAt:            formatTime(order.PlacedAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
	}
	if order.CompletedAt != nil {
		payload.CompletedAt = formatTime(*order.CompletedAt)
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	return payload
}

func buildSettingsPayload(settings services.OrganizationSettings) settingsPayload {
	rules := make([]taxRulePayload, 0, len(settings.TaxRules))
	for _, rule := range settings.TaxRules {
		rules = append(rules, taxRulePayload{ID: rule.ID, Name: rule.Name, Rate: rule.Rate, Type: string(rule.Type), Enabled: rule.Enabled})
	}
	payload := settingsPayload{
		SyncMode: string(settings.SyncMode),
		Currency: settings.Currency,
		TaxRules: rules,
	}
	if !settings.UpdatedAt.IsZero() {
		updated := settings.UpdatedAt.UTC()
		payload.UpdatedAt = &updated
	}
	return payload
}

func taxRulesFromPayload(rules []taxRulePayload) []domain.TaxRule {
	out := make([]domain.TaxRule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, domain.TaxRule{ID: rule.ID, Name: rule.Name, Rate: rule.Rate, Type: domain.TaxType(rule.Type), Enabled: rule.Enabled})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func decodeError(err error) httpx.Error {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		return httpx.NewError("request_too_large", err.Error(), http.StatusRequestEntityTooLarge)
	}
	return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
}
