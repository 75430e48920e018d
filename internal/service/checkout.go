package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"maktabshop/backend/internal/cart"
	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/pricing"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/xid"
)

// Checkout turns the session's cart into a committed invoice.
//
// Lines are checked against the current stock first; any shortfall rejects
// the whole checkout and leaves the cart as it was. The invoice and its stock
// decrements are then handed to the repository in one call. On success the
// cart is cleared unless it was edited meanwhile. A PartialCommitError also
// clears the cart, since the invoice exists and retrying would duplicate it;
// the result is returned alongside the error. Only one checkout of a
// session runs at a time; an overlapping one fails with a ValidationError.
func (s *Service) Checkout(ctx context.Context, session *cart.Session, customer domain.Customer) (result domain.CheckoutResult, err error) {
	started := time.Now()
	backend := s.repo.Backend()
	defer func() {
		s.metrics.ObserveCheckout(backend, started, result.Atomic, result.Warnings, err)
	}()

	snap, release, err := session.BeginCheckout()
	if err != nil {
		return domain.CheckoutResult{}, err
	}
	defer release()

	if len(snap.Lines) == 0 {
		return domain.CheckoutResult{}, &domain.ValidationError{Field: "items", Reason: "cart is empty"}
	}
	for _, line := range snap.Lines {
		if err := pricing.ValidateLine(line); err != nil {
			return domain.CheckoutResult{}, err
		}
	}

	if err := s.checkStock(ctx, session, snap.Lines); err != nil {
		return domain.CheckoutResult{}, err
	}

	totals := pricing.Compute(snap.Lines)
	cust := customer.Normalized()
	invoice := domain.Invoice{
		ID:              xid.New(xid.PrefixInvoice),
		CreatedAt:       time.Now().UTC(),
		CustomerName:    cust.Name,
		CustomerContact: cust.Contact,
		Subtotal:        totals.Subtotal,
		TotalDiscount:   totals.TotalDiscount,
		Total:           totals.GrandTotal,
		Lines:           pricing.InvoiceLines(snap.Lines),
	}

	res, commitErr := s.repo.CommitInvoice(ctx, invoice)
	if res.InvoiceID != "" {
		invoice.ID = res.InvoiceID
	}
	warnings := make([]domain.Warning, 0, len(totals.Flags)+len(res.Warnings))
	warnings = append(warnings, totals.Flags...)
	warnings = append(warnings, res.Warnings...)

	log := s.log.With(zap.String("invoice_id", invoice.ID), zap.Int("lines", len(invoice.Lines)))

	var partial *domain.PartialCommitError
	switch {
	case commitErr == nil:
		cleared := session.ClearIfUnchanged(snap.Version)
		log.Info("invoice committed",
			zap.Bool("atomic", res.Atomic),
			zap.String("total", invoice.Total.String()),
			zap.Int("warnings", len(warnings)),
			zap.Bool("cart_cleared", cleared))
		return domain.CheckoutResult{Invoice: invoice, Atomic: res.Atomic, Warnings: warnings}, nil

	case errors.As(commitErr, &partial):
		session.ClearIfUnchanged(snap.Version)
		log.Error("invoice committed with failed stock decrements", zap.Error(commitErr))
		return domain.CheckoutResult{Invoice: invoice, Atomic: false, Warnings: warnings}, commitErr

	case errors.Is(commitErr, domain.ErrInsufficientStock):
		log.Warn("checkout lost a race for stock", zap.Error(commitErr))
		return domain.CheckoutResult{}, commitErr

	case errors.Is(commitErr, domain.ErrNotFound):
		return domain.CheckoutResult{}, &domain.ValidationError{Field: "items", Reason: commitErr.Error()}

	case errors.Is(commitErr, domain.ErrValidation):
		return domain.CheckoutResult{}, commitErr

	default:
		wrapped := domain.WrapPersistence(backend, "commit invoice", commitErr)
		log.Error("invoice commit failed", zap.Error(wrapped))
		return domain.CheckoutResult{}, wrapped
	}
}

// CheckoutFromRequest validates the customer fields before checking out.
func (s *Service) CheckoutFromRequest(ctx context.Context, session *cart.Session, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	if err := s.check(req); err != nil {
		return domain.CheckoutResult{}, err
	}
	return s.Checkout(ctx, session, domain.Customer{Name: req.CustomerName, Contact: req.CustomerContact})
}

// checkStock re-reads every cart item, refreshes the session's stock
// bounds, and rejects lines the catalog can no longer cover.
func (s *Service) checkStock(ctx context.Context, session *cart.Session, lines []domain.CartLine) error {
	current := make(map[string]domain.Item, len(lines))
	for _, line := range lines {
		it, err := s.repo.GetItem(ctx, line.ItemID)
		if errors.Is(err, store.ErrNotFound) {
			return &domain.ValidationError{Field: "items", Reason: fmt.Sprintf("%q is no longer in the catalog", line.Title)}
		}
		if err != nil {
			return err
		}
		current[it.ID] = *it
	}
	session.RefreshStock(current)

	var shortfalls []domain.Shortfall
	for _, line := range lines {
		it := current[line.ItemID]
		if line.Quantity > it.Stock {
			shortfalls = append(shortfalls, domain.Shortfall{
				ItemID:    line.ItemID,
				Title:     line.Title,
				Requested: line.Quantity,
				Available: it.Stock,
			})
		}
	}
	if len(shortfalls) > 0 {
		return &domain.StockError{Shortfalls: shortfalls}
	}
	return nil
}
