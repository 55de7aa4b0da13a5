package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/OMARxKHALID/POSify-sub001/internal/domain"
)

// ErrPricingInvalidCurrency is returned when the engine is configured with an unknown ISO currency.
var ErrPricingInvalidCurrency = errors.New("order pricing: invalid currency")

const defaultPricingCurrency = "USD"

var (
	hundred = decimal.NewFromInt(100)
)

// OrderPricingEngine computes cart and order totals in minor currency units.
// All methods are pure: no I/O, no hidden state, and no error returns. Malformed
// items contribute zero and are reported through the logger.
type OrderPricingEngine struct {
	currency string
	unit     currency.Unit
	scale    int
	rounding domain.RoundingMode
	lang     language.Tag
	printer  *message.Printer
	logger   *zap.Logger
}

// OrderPricingEngineDeps configures a pricing engine.
type OrderPricingEngineDeps struct {
	Currency string
	Rounding domain.RoundingMode
	Language language.Tag
	Logger   *zap.Logger
}

// NewOrderPricingEngine constructs an engine bound to a single currency.
func NewOrderPricingEngine(deps OrderPricingEngineDeps) (*OrderPricingEngine, error) {
	code := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if code == "" {
		code = defaultPricingCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPricingInvalidCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)

	rounding := deps.Rounding
	if rounding == "" {
		rounding = domain.RoundHalfUp
	}
	lang := deps.Language
	if lang == language.Und {
		lang = language.English
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OrderPricingEngine{
		currency: unit.String(),
		unit:     unit,
		scale:    scale,
		rounding: rounding,
		lang:     lang,
		printer:  message.NewPrinter(lang),
		logger:   logger,
	}, nil
}

// ForCurrency returns an engine sharing this engine's settings but pricing in code.
func (e *OrderPricingEngine) ForCurrency(code string) (*OrderPricingEngine, error) {
	if strings.EqualFold(strings.TrimSpace(code), e.currency) {
		return e, nil
	}
	return NewOrderPricingEngine(OrderPricingEngineDeps{
		Currency: code,
		Rounding: e.rounding,
		Language: e.lang,
		Logger:   e.logger,
	})
}

// Currency reports the ISO code the engine prices in.
func (e *OrderPricingEngine) Currency() string {
	return e.currency
}

// ItemOriginalAmount returns UnitPrice × Quantity, or 0 for malformed items.
func (e *OrderPricingEngine) ItemOriginalAmount(item domain.LineItem) int64 {
	if item.Quantity == 0 {
		return 0
	}
	if item.UnitPrice < 0 || item.Quantity < 0 {
		e.logger.Warn("pricing: malformed line item",
			zap.String("itemId", item.ID),
			zap.Int64("unitPrice", item.UnitPrice),
			zap.Int("quantity", item.Quantity),
		)
		return 0
	}
	quantity := int64(item.Quantity)
	if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
		e.logger.Warn("pricing: line item amount overflow",
			zap.String("itemId", item.ID),
			zap.Int64("unitPrice", item.UnitPrice),
			zap.Int("quantity", item.Quantity),
		)
		return 0
	}
	return item.UnitPrice * quantity
}

// ItemFinalAmount applies the item level discount to ItemOriginalAmount.
func (e *OrderPricingEngine) ItemFinalAmount(item domain.LineItem) int64 {
	original := e.ItemOriginalAmount(item)
	if original == 0 {
		return 0
	}
	percent := domain.ClampPercent(item.DiscountPercent)
	if percent == 0 {
		return original
	}
	remaining := hundred.Sub(decimal.NewFromFloat(percent))
	final := e.round(decimal.NewFromInt(original).Mul(remaining).Div(hundred))
	if final > original {
		return original
	}
	return final
}

// CartTotals prices a cart treating every enabled tax rule as a percentage of the
// discounted subtotal, including rules typed "fixed". This mirrors the behaviour POS
// terminals have always shown; CartTotalsWithFixedTaxes is the alternative reading.
func (e *OrderPricingEngine) CartTotals(items []domain.LineItem, taxRules []domain.TaxRule, cartDiscountPercent float64) domain.PriceBreakdown {
	breakdown := e.discountedTotals(items, cartDiscountPercent)
	breakdown.TaxBreakdown = e.TaxBreakdown(breakdown.DiscountedSubtotal, taxRules)
	breakdown.TaxAmount = domain.SumTaxLines(breakdown.TaxBreakdown)
	breakdown.Total = breakdown.DiscountedSubtotal + breakdown.TaxAmount
	return breakdown
}

// CartTotalsWithFixedTaxes prices a cart where "fixed" rules add Rate major units as a
// flat amount instead of a percentage.
func (e *OrderPricingEngine) CartTotalsWithFixedTaxes(items []domain.LineItem, taxRules []domain.TaxRule, cartDiscountPercent float64) domain.PriceBreakdown {
	breakdown := e.discountedTotals(items, cartDiscountPercent)
	breakdown.TaxBreakdown = e.FixedAwareTaxBreakdown(breakdown.DiscountedSubtotal, taxRules)
	breakdown.TaxAmount = domain.SumTaxLines(breakdown.TaxBreakdown)
	breakdown.Total = breakdown.DiscountedSubtotal + breakdown.TaxAmount
	return breakdown
}

// TaxBreakdown lists the per-rule taxes for enabled rules with a positive rate, all
// applied as percentages of discountedSubtotal. Callers must pass the same discounted
// subtotal that CartTotals produced.
func (e *OrderPricingEngine) TaxBreakdown(discountedSubtotal int64, taxRules []domain.TaxRule) []domain.TaxLine {
	lines := make([]domain.TaxLine, 0, len(taxRules))
	for _, rule := range taxRules {
		if !rule.Enabled || !(rule.Rate > 0) {
			continue
		}
		lines = append(lines, domain.TaxLine{
			RuleID: rule.ID,
			Name:   rule.Name,
			Rate:   rule.Rate,
			Type:   ruleType(rule),
			Amount: e.percentOf(discountedSubtotal, rule.Rate),
		})
	}
	return lines
}

// FixedAwareTaxBreakdown is TaxBreakdown with flat amounts for "fixed" rules. Flat
// taxes are not charged on an empty or fully discounted cart.
func (e *OrderPricingEngine) FixedAwareTaxBreakdown(discountedSubtotal int64, taxRules []domain.TaxRule) []domain.TaxLine {
	lines := make([]domain.TaxLine, 0, len(taxRules))
	for _, rule := range taxRules {
		if !rule.Enabled || !(rule.Rate > 0) {
			continue
		}
		kind := ruleType(rule)
		var amount int64
		if kind == domain.TaxTypeFixed {
			if discountedSubtotal > 0 {
				amount = e.MinorUnits(rule.Rate)
			}
		} else {
			amount = e.percentOf(discountedSubtotal, rule.Rate)
		}
		lines = append(lines, domain.TaxLine{
			RuleID: rule.ID,
			Name:   rule.Name,
			Rate:   rule.Rate,
			Type:   kind,
			Amount: amount,
		})
	}
	return lines
}

// MinorUnits converts a major unit amount (e.g. 12.34 USD) to minor units.
func (e *OrderPricingEngine) MinorUnits(major float64) int64 {
	if major != major || math.IsInf(major, 0) {
		return 0
	}
	return e.round(decimal.NewFromFloat(major).Shift(int32(e.scale)))
}

// FormatAmount renders minor units for display, e.g. "$ 12.50". Rounding for display
// happens here and nowhere else.
func (e *OrderPricingEngine) FormatAmount(amount int64) string {
	major, _ := decimal.New(amount, -int32(e.scale)).Float64()
	return e.printer.Sprint(currency.Symbol(e.unit.Amount(major)))
}

func (e *OrderPricingEngine) discountedTotals(items []domain.LineItem, cartDiscountPercent float64) domain.PriceBreakdown {
	var subtotal, itemDiscount int64
	for _, item := range items {
		original := e.ItemOriginalAmount(item)
		final := e.ItemFinalAmount(item)
		if subtotal > math.MaxInt64-final {
			e.logger.Warn("pricing: cart subtotal overflow", zap.String("itemId", item.ID))
			continue
		}
		subtotal += final
		itemDiscount += original - final
	}

	percent := domain.ClampPercent(cartDiscountPercent)
	cartDiscount := e.percentOf(subtotal, percent)
	if cartDiscount > subtotal {
		cartDiscount = subtotal
	}

	return domain.PriceBreakdown{
		Currency:            e.currency,
		Subtotal:            subtotal,
		ItemDiscountTotal:   itemDiscount,
		CartDiscountPercent: percent,
		CartDiscountAmount:  cartDiscount,
		DiscountedSubtotal:  subtotal - cartDiscount,
		TaxBreakdown:        []domain.TaxLine{},
	}
}

func (e *OrderPricingEngine) percentOf(base int64, percent float64) int64 {
	if base == 0 || !(percent > 0) || math.IsInf(percent, 0) {
		return 0
	}
	return e.round(decimal.NewFromInt(base).Mul(decimal.NewFromFloat(percent)).Div(hundred))
}

func (e *OrderPricingEngine) round(value decimal.Decimal) int64 {
	switch e.rounding {
	case domain.RoundHalfEven:
		return value.RoundBank(0).IntPart()
	case domain.RoundDown:
		return value.Truncate(0).IntPart()
	default:
		return value.Round(0).IntPart()
	}
}

func ruleType(rule domain.TaxRule) domain.TaxType {
	if rule.Type == domain.TaxTypeFixed {
		return domain.TaxTypeFixed
	}
	return domain.TaxTypePercentage
}
