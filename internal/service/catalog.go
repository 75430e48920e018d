package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/store"
)

// CatalogItem is an item with its category name resolved for display.
type CatalogItem struct {
	domain.Item
	CategoryName string `json:"category_name"`
}

type ItemFilter struct {
	CategoryID string
	// Query matches title or author, case-insensitively. Searching only
	// returns items that are in stock.
	Query string
}

var defaultCategories = []string{"Stationery", "Islamic Books"}

// EnsureDefaultCategories seeds the starter categories into an empty catalog.
func (s *Service) EnsureDefaultCategories(ctx context.Context) error {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	if len(categories) > 0 {
		return nil
	}
	for _, name := range defaultCategories {
		if _, err := s.repo.CreateCategory(ctx, domain.Category{Name: name, DiscountKind: domain.DiscountFixed}); err != nil {
			return err
		}
	}
	s.log.Info("seeded default categories", zap.Strings("names", defaultCategories))
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	category, err := s.categoryFromRequest(req)
	if err != nil {
		return domain.Category{}, err
	}
	id, err := s.repo.CreateCategory(ctx, category)
	if err != nil {
		return domain.Category{}, err
	}
	created, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id string, req domain.CategoryRequest) (domain.Category, error) {
	category, err := s.categoryFromRequest(req)
	if err != nil {
		return domain.Category{}, err
	}
	category.ID = id
	if err := s.repo.UpdateCategory(ctx, category); err != nil {
		return domain.Category{}, err
	}
	updated, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	return *updated, nil
}

// DeleteCategory leaves the category's items in place; they show up under
// the Unknown category afterwards.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.log.Info("category deleted", zap.String("category_id", id))
	return nil
}

func (s *Service) categoryFromRequest(req domain.CategoryRequest) (domain.Category, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.check(req); err != nil {
		return domain.Category{}, err
	}
	kind, err := domain.ParseDiscountKind(req.DiscountKind)
	if err != nil {
		return domain.Category{}, err
	}
	discount := domain.Discount{Amount: req.Discount, Kind: kind}
	if err := discount.Validate(); err != nil {
		return domain.Category{}, err
	}
	return domain.Category{Name: req.Name, Discount: req.Discount, DiscountKind: kind}, nil
}

func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]CatalogItem, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	names, err := s.categoryNames(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	categoryID := strings.TrimSpace(filter.CategoryID)
	out := make([]CatalogItem, 0, len(items))
	for _, it := range items {
		if categoryID != "" && it.CategoryID != categoryID {
			continue
		}
		if query != "" {
			if it.Stock <= 0 {
				continue
			}
			if !strings.Contains(strings.ToLower(it.Title), query) && !strings.Contains(strings.ToLower(it.Author), query) {
				continue
			}
		}
		out = append(out, CatalogItem{Item: it, CategoryName: categoryName(names, it.CategoryID)})
	}
	return out, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (CatalogItem, error) {
	it, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return CatalogItem{}, err
	}
	name := domain.UnknownCategory
	if it.CategoryID != "" {
		c, err := s.repo.GetCategory(ctx, it.CategoryID)
		switch {
		case err == nil:
			name = c.Name
		case !errors.Is(err, store.ErrNotFound):
			return CatalogItem{}, err
		}
	}
	return CatalogItem{Item: *it, CategoryName: name}, nil
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemRequest) (domain.Item, error) {
	item, err := s.itemFromRequest(req)
	if err != nil {
		return domain.Item{}, err
	}
	item.Stock = req.Stock
	id, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return domain.Item{}, err
	}
	created, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return *created, nil
}

// UpdateItem edits the catalog fields of an item. The stock in the request
// is ignored; stock changes go through RecountStock or a checkout.
func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemRequest) (domain.Item, error) {
	item, err := s.itemFromRequest(req)
	if err != nil {
		return domain.Item{}, err
	}
	item.ID = id
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return domain.Item{}, err
	}
	updated, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	return s.repo.DeleteItem(ctx, id)
}

func (s *Service) itemFromRequest(req domain.ItemRequest) (domain.Item, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	if err := s.check(req); err != nil {
		return domain.Item{}, err
	}
	if req.Price.IsNegative() {
		return domain.Item{}, &domain.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return domain.Item{
		CategoryID: req.CategoryID,
		Title:      req.Title,
		Author:     req.Author,
		Price:      req.Price,
		ImageURL:   strings.TrimSpace(req.ImageURL),
	}, nil
}

// RecountStock replaces the recorded stock with a physically counted value.
func (s *Service) RecountStock(ctx context.Context, itemID string, req domain.StockCountRequest) (domain.StockCountResult, error) {
	if err := s.check(req); err != nil {
		return domain.StockCountResult{}, err
	}
	it, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.StockCountResult{}, err
	}
	if it.Stock != req.Counted {
		if err := s.repo.SetStock(ctx, itemID, req.Counted); err != nil {
			return domain.StockCountResult{}, err
		}
	}

	result := domain.StockCountResult{
		ItemID:   itemID,
		Previous: it.Stock,
		Counted:  req.Counted,
		Delta:    req.Counted - it.Stock,
	}
	s.log.Info("stock counted",
		zap.String("item_id", itemID),
		zap.Int("previous", result.Previous),
		zap.Int("counted", result.Counted),
		zap.String("note", req.Note))
	return result, nil
}

func (s *Service) categoryNames(ctx context.Context) (map[string]string, error) {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}

func categoryName(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return domain.UnknownCategory
}
