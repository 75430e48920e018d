package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/xid"
)

// Store keeps everything in process memory. One mutex covers the whole
// commit, so it is atomic with respect to other callers in the process.
type Store struct {
	mu         sync.RWMutex
	categories map[string]domain.Category
	items      map[string]domain.Item
	invoices   map[string]domain.Invoice
}

func New() *Store {
	return &Store{
		categories: make(map[string]domain.Category),
		items:      make(map[string]domain.Item),
		invoices:   make(map[string]domain.Invoice),
	}
}

// NewSeeded returns a store with the shop's starter catalog.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, c := range []domain.Category{
		{ID: "cat_1", Name: "Stationery", Discount: decimal.Zero, DiscountKind: domain.DiscountFixed},
		{ID: "cat_2", Name: "Islamic Books", Discount: decimal.Zero, DiscountKind: domain.DiscountFixed},
	} {
		c.CreatedAt = now
		s.categories[c.ID] = c
	}
	for _, it := range []domain.Item{
		{ID: "item_1", CategoryID: "cat_1", Title: "Premium Notebook", Price: decimal.NewFromInt(1200), Stock: 50},
		{ID: "item_2", CategoryID: "cat_2", Title: "Tafseer Ibn Kathir", Author: "Ibn Kathir", Price: decimal.NewFromInt(4500), Stock: 12},
	} {
		it.CreatedAt = now
		s.items[it.ID] = it
	}
	return s
}

func (s *Store) Backend() string { return "memory" }

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCategory(_ context.Context, category domain.Category) (string, error) {
	if err := store.ValidateCategory(category); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if category.ID == "" {
		category.ID = xid.New(xid.PrefixCategory)
	}
	if _, exists := s.categories[category.ID]; exists {
		return "", &domain.ValidationError{Field: "id", Reason: "category already exists"}
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	category.DiscountKind = category.DefaultDiscount().Kind
	s.categories[category.ID] = category
	return category.ID, nil
}

func (s *Store) UpdateCategory(_ context.Context, category domain.Category) error {
	if err := store.ValidateCategory(category); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.categories[category.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Name = category.Name
	existing.Discount = category.Discount
	existing.DiscountKind = category.DefaultDiscount().Kind
	s.categories[category.ID] = existing
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Title == b.Title {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Title, b.Title)
	})
	return items, nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &it, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item) (string, error) {
	if err := store.ValidateItem(item); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New(xid.PrefixItem)
	}
	if _, exists := s.items[item.ID]; exists {
		return "", &domain.ValidationError{Field: "id", Reason: "item already exists"}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.items[item.ID] = item
	return item.ID, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.Item) error {
	if err := store.ValidateItem(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.CategoryID = item.CategoryID
	existing.Title = item.Title
	existing.Author = item.Author
	existing.Price = item.Price
	existing.ImageURL = item.ImageURL
	s.items[item.ID] = existing
	return nil
}

func (s *Store) SetStock(_ context.Context, id string, stock int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[id]
	if !ok {
		return store.ErrNotFound
	}
	existing.Stock = stock
	s.items[id] = existing
	return nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) ListInvoices(_ context.Context) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		invoices = append(invoices, cloneInvoice(inv))
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return invoices, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (s *Store) CommitInvoice(_ context.Context, invoice domain.Invoice) (store.CommitResult, error) {
	if err := store.ValidateInvoice(invoice); err != nil {
		return store.CommitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if invoice.ID == "" {
		invoice.ID = xid.New(xid.PrefixInvoice)
	}
	if _, exists := s.invoices[invoice.ID]; exists {
		return store.CommitResult{}, &domain.ValidationError{Field: "id", Reason: "invoice already exists"}
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	demand, order := store.Demand(invoice.Lines)
	var shortfalls []domain.Shortfall
	for _, itemID := range order {
		it, ok := s.items[itemID]
		if !ok {
			return store.CommitResult{}, fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if it.Stock < demand[itemID] {
			shortfalls = append(shortfalls, domain.Shortfall{
				ItemID:    itemID,
				Title:     it.Title,
				Requested: demand[itemID],
				Available: it.Stock,
			})
		}
	}
	if len(shortfalls) > 0 {
		return store.CommitResult{}, &domain.StockError{Shortfalls: shortfalls}
	}

	for _, itemID := range order {
		it := s.items[itemID]
		it.Stock -= demand[itemID]
		s.items[itemID] = it
	}
	s.invoices[invoice.ID] = cloneInvoice(invoice)

	return store.CommitResult{InvoiceID: invoice.ID, Atomic: true}, nil
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dst := src
	dst.Lines = append([]domain.InvoiceLine(nil), src.Lines...)
	return dst
}
