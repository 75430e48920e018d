// Package pricing computes line and cart totals. Every function is pure and
// works in exact decimal currency units; rounding is left to display code.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"maktabshop/backend/internal/domain"
)

// EffectiveDiscount is the per-unit discount: a percentage of the unit price
// for percent discounts, the amount itself for fixed ones.
func EffectiveDiscount(unitPrice, discount decimal.Decimal, kind domain.DiscountKind) decimal.Decimal {
	if kind == domain.DiscountPercent {
		return unitPrice.Mul(discount).Shift(-2)
	}
	return discount
}

func LineTotal(line domain.CartLine) decimal.Decimal {
	eff := EffectiveDiscount(line.UnitPrice, line.Discount, line.DiscountKind)
	return line.UnitPrice.Sub(eff).Mul(decimal.NewFromInt(int64(line.Quantity)))
}

type LineBreakdown struct {
	Index     int             `json:"index"`
	ItemID    string          `json:"item_id"`
	Effective decimal.Decimal `json:"effective_discount"`
	LineTotal decimal.Decimal `json:"line_total"`
	Negative  bool            `json:"negative,omitempty"`
}

type Totals struct {
	Subtotal      decimal.Decimal  `json:"subtotal"`
	TotalDiscount decimal.Decimal  `json:"total_discount"`
	GrandTotal    decimal.Decimal  `json:"grand_total"`
	Lines         []LineBreakdown  `json:"lines"`
	Flags         []domain.Warning `json:"flags,omitempty"`
}

func Compute(lines []domain.CartLine) Totals {
	totals := Totals{
		Subtotal:      decimal.Zero,
		TotalDiscount: decimal.Zero,
		Lines:         make([]LineBreakdown, 0, len(lines)),
	}

	for i, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		eff := EffectiveDiscount(line.UnitPrice, line.Discount, line.DiscountKind)
		lineTotal := line.UnitPrice.Sub(eff).Mul(qty)

		totals.Subtotal = totals.Subtotal.Add(line.UnitPrice.Mul(qty))
		totals.TotalDiscount = totals.TotalDiscount.Add(eff.Mul(qty))

		breakdown := LineBreakdown{
			Index:     i,
			ItemID:    line.ItemID,
			Effective: eff,
			LineTotal: lineTotal,
			Negative:  lineTotal.IsNegative(),
		}
		totals.Lines = append(totals.Lines, breakdown)

		if breakdown.Negative {
			totals.Flags = append(totals.Flags, domain.Warning{
				Code:    domain.WarnNegativeLineTotal,
				ItemID:  line.ItemID,
				Message: fmt.Sprintf("discount %s exceeds unit price %s on %q", eff.String(), line.UnitPrice.String(), line.Title),
			})
		}
	}

	totals.GrandTotal = totals.Subtotal.Sub(totals.TotalDiscount)
	return totals
}

// InvoiceLines snapshots cart lines for an invoice.
func InvoiceLines(lines []domain.CartLine) []domain.InvoiceLine {
	out := make([]domain.InvoiceLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, domain.InvoiceLine{
			ItemID:       line.ItemID,
			Title:        line.Title,
			Author:       line.Author,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Discount:     line.Discount,
			DiscountKind: line.DiscountKind,
			LineTotal:    LineTotal(line),
		})
	}
	return out
}

// ValidateLine rejects lines that cannot be priced: quantity below one,
// negative price, or a malformed discount.
func ValidateLine(line domain.CartLine) error {
	if line.Quantity < 1 {
		return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("must be at least 1 for %q", line.Title)}
	}
	if line.UnitPrice.IsNegative() {
		return &domain.ValidationError{Field: "unit_price", Reason: fmt.Sprintf("must not be negative for %q", line.Title)}
	}
	return domain.Discount{Amount: line.Discount, Kind: line.DiscountKind}.Validate()
}
