// Package invoicedoc renders committed invoices for printing and sharing.
package invoicedoc

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"maktabshop/backend/internal/domain"
)

type Shop struct {
	Name     string
	Tagline  string
	Currency string
}

// Renderer turns invoices into printable and shareable documents.
type Renderer struct {
	shop   Shop
	format Formatter
}

func NewRenderer(shop Shop) *Renderer {
	if shop.Name == "" {
		shop.Name = "MAKTAB SHOP"
	}
	f := NewFormatter(shop.Currency)
	shop.Currency = f.currency
	return &Renderer{shop: shop, format: f}
}

// Formatter prints money with thousands grouping, e.g. "PKR 1,200.00".
type Formatter struct {
	currency string
	printer  *message.Printer
}

func NewFormatter(currency string) Formatter {
	if currency == "" {
		currency = "PKR"
	}
	return Formatter{currency: currency, printer: message.NewPrinter(language.English)}
}

func (f Formatter) Money(amount decimal.Decimal) string {
	v, _ := amount.Round(2).Float64()
	return f.printer.Sprintf("%s %.2f", f.currency, v)
}

// Discount shows a percent discount as "10%" and a fixed one as money.
func (f Formatter) Discount(amount decimal.Decimal, kind domain.DiscountKind) string {
	if kind == domain.DiscountPercent {
		return amount.String() + "%"
	}
	return f.Money(amount)
}
