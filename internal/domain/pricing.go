package domain

// RoundingMode selects how fractional minor units are resolved.
type RoundingMode string

const (
	// RoundHalfUp rounds halves away from zero.
	RoundHalfUp RoundingMode = "half_up"
	// RoundHalfEven rounds halves to the nearest even unit.
	RoundHalfEven RoundingMode = "half_even"
	// RoundDown truncates toward zero.
	RoundDown RoundingMode = "down"
)

// ParseRoundingMode maps configuration input to a mode, defaulting to RoundHalfUp.
func ParseRoundingMode(raw string) RoundingMode {
	switch RoundingMode(raw) {
	case RoundHalfEven:
		return RoundHalfEven
	case RoundDown:
		return RoundDown
	default:
		return RoundHalfUp
	}
}

// PriceBreakdown captures the monetary results of pricing a cart. It is never
// patched in place; callers recompute it from items, tax rules and the cart discount.
type PriceBreakdown struct {
	Currency            string
	Subtotal            int64
	ItemDiscountTotal   int64
	CartDiscountPercent float64
	CartDiscountAmount  int64
	DiscountedSubtotal  int64
	TaxAmount           int64
	TaxBreakdown        []TaxLine
	Total               int64
}

// TaxLine is one enabled rule's contribution, used for receipts.
type TaxLine struct {
	RuleID string
	Name   string
	Rate   float64
	Type   TaxType
	Amount int64
}

// SumTaxLines totals the amounts of the given lines.
func SumTaxLines(lines []TaxLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.Amount
	}
	return total
}
