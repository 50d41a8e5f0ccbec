package pricing

import (
	"fmt"
	"math"

	"restohub/internal/domain"
)

// TaxMode selects where tax is computed. One mode per tenant, applied
// consistently.
type TaxMode string

const (
	TaxModeOrder TaxMode = "order" // order-level references against the subtotal
	TaxModeItem  TaxMode = "item"  // each line's captured tax reference
)

// ParseTaxMode validates the tenant configuration value.
func ParseTaxMode(s string) (TaxMode, error) {
	switch m := TaxMode(s); m {
	case TaxModeOrder, TaxModeItem:
		return m, nil
	default:
		return "", fmt.Errorf("unknown tax mode %q", s)
	}
}

// TaxDef is a resolved tax definition.
type TaxDef struct {
	Ref     string
	Name    string
	Percent float64
}

// Discount types, per catalog definition.
const (
	DiscountFixed   = "fixed"
	DiscountPercent = "percentage"
)

// DiscountDef is a resolved catalog-linked discount definition.
type DiscountDef struct {
	Ref   string
	Type  string
	Value float64
}

// Inputs carries everything a recompute needs beyond the order itself.
// Lookups are pre-resolved maps so the engine stays pure.
type Inputs struct {
	Mode       TaxMode
	StrictRefs bool // missing references fail instead of being skipped

	Taxes     map[string]TaxDef
	Discounts map[string]DiscountDef

	// PaymentAttached marks creation-time payment, which makes a
	// non-positive final charge a hard error.
	PaymentAttached bool
}

// Round2 rounds to 2 decimal places at the point a monetary quantity is
// finalized. Values are never re-rounded after summation, which keeps the
// recompute idempotent.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Recalculate derives subtotal, tax and discount breakdowns, final charge
// and balance due from the order's line items and payment aggregate. It
// has no side effects beyond the fields it recomputes on o.
func Recalculate(o *domain.Order, in Inputs) error {
	if err := validateItems(o.Items); err != nil {
		return err
	}

	// 1. Subtotal over all line items.
	subtotal := 0.0
	for _, li := range o.Items {
		subtotal += li.LineTotal()
	}
	subtotal = Round2(subtotal)

	// 2. Taxes: order-level against the subtotal, or per-line for tenants
	// configured with item-level tax.
	taxes, taxTotal, err := computeTaxes(o, subtotal, in)
	if err != nil {
		return err
	}

	// 3. Discounts: catalog-linked lines are recomputed from their
	// definitions; manual/loyalty lines carry their amounts as-is.
	discounts, discountTotal, err := computeDiscounts(o.Discounts, subtotal, in)
	if err != nil {
		return err
	}

	// 4. Final charge, rounded once at finalization.
	final := Round2(subtotal + taxTotal + o.Tip + o.DeliveryCharge - discountTotal)
	if final <= 0 && in.PaymentAttached {
		return &domain.PricingInputError{Reason: fmt.Sprintf("final charge %.2f is not positive", final)}
	}

	// 5. Balance due never goes negative, even on overpayment.
	balance := Round2(final - o.TotalPaid)
	if balance < 0 {
		balance = 0
	}

	o.Subtotal = subtotal
	o.Taxes = taxes
	o.TaxTotal = taxTotal
	o.Discounts = discounts
	o.DiscountTotal = discountTotal
	o.FinalCharge = final
	o.BalanceDue = balance
	return nil
}

func validateItems(items []domain.LineItem) error {
	for _, li := range items {
		if li.Quantity < 1 {
			return &domain.PricingInputError{Reason: fmt.Sprintf("item %q has quantity %d", li.Name, li.Quantity)}
		}
		if li.UnitPrice < 0 {
			return &domain.PricingInputError{Reason: fmt.Sprintf("item %q has negative price", li.Name)}
		}
	}
	return nil
}

func computeTaxes(o *domain.Order, subtotal float64, in Inputs) ([]domain.TaxLine, float64, error) {
	var lines []domain.TaxLine
	total := 0.0

	switch in.Mode {
	case TaxModeItem:
		// Accumulate per-line charges keyed by reference so the breakdown
		// stays one line per definition.
		byRef := map[string]int{}
		for _, li := range o.Items {
			if li.TaxRef == "" {
				continue
			}
			def, ok := in.Taxes[li.TaxRef]
			if !ok {
				if in.StrictRefs {
					return nil, 0, &domain.PricingInputError{Reason: "unknown tax reference " + li.TaxRef}
				}
				continue
			}
			charge := Round2(li.LineTotal() * def.Percent / 100)
			if i, seen := byRef[li.TaxRef]; seen {
				lines[i].Charge += charge
			} else {
				byRef[li.TaxRef] = len(lines)
				lines = append(lines, domain.TaxLine{Ref: def.Ref, Name: def.Name, Charge: charge})
			}
			total += charge
		}
	default: // TaxModeOrder
		for _, ref := range o.TaxRefs {
			def, ok := in.Taxes[ref]
			if !ok {
				if in.StrictRefs {
					return nil, 0, &domain.PricingInputError{Reason: "unknown tax reference " + ref}
				}
				continue
			}
			charge := Round2(subtotal * def.Percent / 100)
			lines = append(lines, domain.TaxLine{Ref: def.Ref, Name: def.Name, Charge: charge})
			total += charge
		}
	}
	return lines, total, nil
}

func computeDiscounts(applied []domain.DiscountLine, subtotal float64, in Inputs) ([]domain.DiscountLine, float64, error) {
	var lines []domain.DiscountLine
	total := 0.0
	for _, d := range applied {
		if d.Ref == "" {
			// Manual/loyalty entry: pre-computed amount, no further rounding.
			lines = append(lines, d)
			total += d.Amount
			continue
		}
		def, ok := in.Discounts[d.Ref]
		if !ok {
			if in.StrictRefs {
				return nil, 0, &domain.PricingInputError{Reason: "unknown discount reference " + d.Ref}
			}
			continue
		}
		amount := def.Value
		if def.Type == DiscountPercent {
			amount = Round2(def.Value * subtotal / 100)
		}
		lines = append(lines, domain.DiscountLine{Ref: d.Ref, Label: d.Label, Amount: amount})
		total += amount
	}
	return lines, total, nil
}
