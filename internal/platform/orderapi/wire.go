package orderapi

import (
	"strings"
	"time"

	domain "github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

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
}

type createOrderPayload struct {
	IdempotencyKey      string            `json:"idempotencyKey"`
	TerminalID          string            `json:"terminalId,omitempty"`
	Items               []lineItemPayload `json:"items"`
	CartDiscountPercent float64           `json:"cartDiscountPercent,omitempty"`
	Totals              *breakdownPayload `json:"totals,omitempty"`
}

type orderPayload struct {
	ID          string           `json:"id"`
	OrderNumber string           `json:"orderNumber"`
	Status      string           `json:"status"`
	Totals      breakdownPayload `json:"totals"`
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
	UpdatedAt time.Time        `json:"updatedAt"`
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

func (p settingsPayload) toDomain(orgID string) domain.OrganizationSettings {
	mode, ok := domain.ParseSyncMode(p.SyncMode)
	if !ok {
		mode = domain.SyncModeAuto
	}
	rules := make([]domain.TaxRule, 0, len(p.TaxRules))
	for _, rule := range p.TaxRules {
		rules = append(rules, domain.TaxRule{
			ID:      rule.ID,
			Name:    rule.Name,
			Rate:    rule.Rate,
			Type:    domain.TaxType(rule.Type),
			Enabled: rule.Enabled,
		})
	}
	return domain.OrganizationSettings{
		OrganizationID: orgID,
		SyncMode:       mode,
		Currency:       strings.ToUpper(strings.TrimSpace(p.Currency)),
		TaxRules:       rules,
		UpdatedAt:      p.UpdatedAt,
	}
}
