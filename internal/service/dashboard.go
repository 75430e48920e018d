package service

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"maktabshop/backend/internal/domain"
)

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	var (
		items    []domain.Item
		invoices []domain.Invoice
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.repo.ListItems(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		invoices, err = s.repo.ListInvoices(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.DashboardStats{}, err
	}

	stats := domain.DashboardStats{
		TotalItems:    len(items),
		StockValue:    decimal.Zero,
		LowStockBelow: s.cfg.LowStockThreshold,
	}
	for _, it := range items {
		stats.StockValue = stats.StockValue.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Stock))))
		if it.Stock < s.cfg.LowStockThreshold {
			stats.LowStockCount++
		}
	}
	if len(invoices) > domain.RecentInvoiceLimit {
		invoices = invoices[:domain.RecentInvoiceLimit]
	}
	stats.RecentInvoices = invoices
	return stats, nil
}
