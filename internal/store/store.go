package store

import (
	"context"
	"strings"

	"maktabshop/backend/internal/domain"
)

var (
	ErrNotFound          = domain.ErrNotFound
	ErrInsufficientStock = domain.ErrInsufficientStock
	ErrInvalidInput      = domain.ErrValidation
)

// CommitResult reports how an invoice commit was applied. Atomic is false
// when the backend fell back to independent writes; Warnings then describe
// each decrement that was not guarded.
type CommitResult struct {
	InvoiceID string
	Atomic    bool
	Warnings  []domain.Warning
}

type Repository interface {
	Backend() string

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (string, error)
	UpdateCategory(ctx context.Context, category domain.Category) error
	DeleteCategory(ctx context.Context, id string) error

	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, id string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (string, error)
	UpdateItem(ctx context.Context, item domain.Item) error
	SetStock(ctx context.Context, id string, stock int) error
	DeleteItem(ctx context.Context, id string) error

	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	// CommitInvoice stores the invoice and decrements stock for each of its
	// lines. Backends with a conditional decrement fail with a
	// *domain.StockError and write nothing when any line would overdraw.
	CommitInvoice(ctx context.Context, invoice domain.Invoice) (CommitResult, error)
}

func ValidateCategory(category domain.Category) error {
	if strings.TrimSpace(category.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "category name is required"}
	}
	return category.DefaultDiscount().Validate()
}

func ValidateItem(item domain.Item) error {
	if strings.TrimSpace(item.Title) == "" {
		return &domain.ValidationError{Field: "title", Reason: "item title is required"}
	}
	if item.Price.IsNegative() {
		return &domain.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}

// ValidateInvoice checks what every backend needs before committing.
func ValidateInvoice(invoice domain.Invoice) error {
	if len(invoice.Lines) == 0 {
		return &domain.ValidationError{Field: "items", Reason: "invoice has no lines"}
	}
	for _, line := range invoice.Lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return &domain.ValidationError{Field: "item_id", Reason: "invoice line without item"}
		}
		if line.Quantity < 1 {
			return &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
		}
	}
	return nil
}

// Demand sums invoice quantities per item, so an item listed twice is
// checked against its stock once.
func Demand(lines []domain.InvoiceLine) (map[string]int, []string) {
	demand := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := demand[line.ItemID]; !seen {
			order = append(order, line.ItemID)
		}
		demand[line.ItemID] += line.Quantity
	}
	return demand, order
}

func TitleOf(lines []domain.InvoiceLine, itemID string) string {
	for _, line := range lines {
		if line.ItemID == itemID {
			return line.Title
		}
	}
	return ""
}
