package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	WalkInCustomer     = "Walk-in Customer"
	NoContact          = "-"
	UnknownCategory    = "Unknown"
	RecentInvoiceLimit = 5
)

type DiscountKind string

const (
	DiscountFixed   DiscountKind = "fixed"
	DiscountPercent DiscountKind = "percent"
)

// ParseDiscountKind accepts "fixed" and "percent" in any case. An empty
// value means fixed.
func ParseDiscountKind(raw string) (DiscountKind, error) {
	switch DiscountKind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DiscountFixed:
		return DiscountFixed, nil
	case DiscountPercent:
		return DiscountPercent, nil
	default:
		return "", &ValidationError{Field: "discount_kind", Reason: "must be fixed or percent"}
	}
}

func (k DiscountKind) Valid() bool {
	return k == DiscountFixed || k == DiscountPercent
}

// Discount is an amount together with how it applies to a unit price.
type Discount struct {
	Amount decimal.Decimal `json:"amount"`
	Kind   DiscountKind    `json:"kind"`
}

var hundred = decimal.NewFromInt(100)

// Validate checks amount >= 0, a known kind, and percent <= 100.
func (d Discount) Validate() error {
	if !d.Kind.Valid() {
		return &ValidationError{Field: "discount_kind", Reason: "must be fixed or percent"}
	}
	if d.Amount.IsNegative() {
		return &ValidationError{Field: "discount", Reason: "must not be negative"}
	}
	if d.Kind == DiscountPercent && d.Amount.GreaterThan(hundred) {
		return &ValidationError{Field: "discount", Reason: "percent discount must not exceed 100"}
	}
	return nil
}

type Category struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountKind DiscountKind    `json:"discount_type"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (c Category) DefaultDiscount() Discount {
	kind := c.DiscountKind
	if kind == "" {
		kind = DiscountFixed
	}
	return Discount{Amount: c.Discount, Kind: kind}
}

type Item struct {
	ID         string          `json:"id"`
	CategoryID string          `json:"category_id,omitempty"`
	Title      string          `json:"title"`
	Author     string          `json:"author,omitempty"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	ImageURL   string          `json:"image,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type CartLine struct {
	ItemID       string          `json:"item_id"`
	Title        string          `json:"title"`
	Author       string          `json:"author,omitempty"`
	CategoryID   string          `json:"category_id,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Stock        int             `json:"stock"`
	Quantity     int             `json:"quantity"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountKind DiscountKind    `json:"discount_type"`
}

type Invoice struct {
	ID              string          `json:"id"`
	CreatedAt       time.Time       `json:"date"`
	CustomerName    string          `json:"customer_name"`
	CustomerContact string          `json:"customer_contact"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TotalDiscount   decimal.Decimal `json:"total_discount"`
	Total           decimal.Decimal `json:"total"`
	Lines           []InvoiceLine   `json:"items"`
}

type InvoiceLine struct {
	ItemID       string          `json:"item_id"`
	Title        string          `json:"title"`
	Author       string          `json:"author,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountKind DiscountKind    `json:"discount_type"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type Customer struct {
	Name    string `json:"customer_name"`
	Contact string `json:"customer_contact"`
}

// Normalized fills the walk-in defaults for blank fields.
func (c Customer) Normalized() Customer {
	c.Name = strings.TrimSpace(c.Name)
	c.Contact = strings.TrimSpace(c.Contact)
	if c.Name == "" {
		c.Name = WalkInCustomer
	}
	if c.Contact == "" {
		c.Contact = NoContact
	}
	return c
}

type WarningCode string

const (
	WarnNonAtomicDecrement WarningCode = "non_atomic_decrement"
	WarnStockOverdrawn     WarningCode = "stock_overdrawn"
	WarnDecrementFailed    WarningCode = "decrement_failed"
	WarnNegativeLineTotal  WarningCode = "negative_line_total"
)

type Warning struct {
	Code    WarningCode `json:"code"`
	ItemID  string      `json:"item_id,omitempty"`
	Message string      `json:"message"`
}

type CheckoutResult struct {
	Invoice  Invoice   `json:"invoice"`
	Atomic   bool      `json:"atomic"`
	Warnings []Warning `json:"warnings,omitempty"`
}

type CategoryRequest struct {
	Name         string          `json:"name" validate:"required,max=120"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountKind string          `json:"discount_type" validate:"omitempty,oneof=fixed percent"`
}

type ItemRequest struct {
	CategoryID string          `json:"category_id" validate:"max=64"`
	Title      string          `json:"title" validate:"required,max=200"`
	Author     string          `json:"author" validate:"max=200"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock" validate:"gte=0"`
	ImageURL   string          `json:"image" validate:"omitempty,max=2048"`
}

type StockCountRequest struct {
	Counted int    `json:"counted" validate:"gte=0"`
	Note    string `json:"note" validate:"max=500"`
}

type StockCountResult struct {
	ItemID   string `json:"item_id"`
	Previous int    `json:"previous"`
	Counted  int    `json:"counted"`
	Delta    int    `json:"delta"`
}

type AddLineRequest struct {
	ItemID string `json:"item_id" validate:"required"`
}

type UpdateLineRequest struct {
	Quantity     *int             `json:"quantity,omitempty" validate:"omitempty,gte=1"`
	Discount     *decimal.Decimal `json:"discount,omitempty"`
	DiscountKind string           `json:"discount_type,omitempty" validate:"omitempty,oneof=fixed percent"`
}

type CheckoutRequest struct {
	CustomerName    string `json:"customer_name" validate:"max=200"`
	CustomerContact string `json:"customer_contact" validate:"max=64"`
}

type DashboardStats struct {
	TotalItems     int             `json:"total_items"`
	StockValue     decimal.Decimal `json:"stock_value"`
	LowStockCount  int             `json:"low_stock_count"`
	LowStockBelow  int             `json:"low_stock_below"`
	RecentInvoices []Invoice       `json:"recent_invoices"`
}

type ShareLink struct {
	InvoiceID string `json:"invoice_id"`
	URL       string `json:"url"`
	Text      string `json:"text"`
}
