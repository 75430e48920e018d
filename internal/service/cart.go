package service

import (
	"context"
	"errors"
	"strings"

	"maktabshop/backend/internal/cart"
	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/store"
)

// AddToCart adds one unit of an item, seeding a new line with its
// category's default discount.
func (s *Service) AddToCart(ctx context.Context, session *cart.Session, req domain.AddLineRequest) (cart.Snapshot, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	if err := s.check(req); err != nil {
		return cart.Snapshot{}, err
	}
	it, err := s.repo.GetItem(ctx, req.ItemID)
	if err != nil {
		return cart.Snapshot{}, err
	}

	seed := domain.Discount{Kind: domain.DiscountFixed}
	if it.CategoryID != "" {
		c, err := s.repo.GetCategory(ctx, it.CategoryID)
		switch {
		case err == nil:
			seed = c.DefaultDiscount()
		case !errors.Is(err, store.ErrNotFound):
			return cart.Snapshot{}, err
		}
	}

	if _, err := session.AddLine(*it, seed); err != nil {
		return cart.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// UpdateCartLine applies a quantity and/or discount change to one line. A
// discount amount without a kind keeps the line's current kind. The change
// is all or nothing.
func (s *Service) UpdateCartLine(session *cart.Session, index int, req domain.UpdateLineRequest) (cart.Snapshot, error) {
	if err := s.check(req); err != nil {
		return cart.Snapshot{}, err
	}
	if req.Quantity == nil && req.Discount == nil && req.DiscountKind == "" {
		return cart.Snapshot{}, &domain.ValidationError{Reason: "nothing to update"}
	}

	update := cart.LineUpdate{Quantity: req.Quantity, Discount: req.Discount}
	if req.DiscountKind != "" {
		kind, err := domain.ParseDiscountKind(req.DiscountKind)
		if err != nil {
			return cart.Snapshot{}, err
		}
		update.Kind = kind
	}
	if err := session.UpdateLine(index, update); err != nil {
		return cart.Snapshot{}, err
	}
	return session.Snapshot(), nil
}
