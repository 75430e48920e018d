package service

import (
	"context"

	"go.uber.org/zap"

	"maktabshop/backend/internal/cache"
	"maktabshop/backend/internal/domain"
)

const (
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

func (s *Service) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) InvoiceHTML(ctx context.Context, id string) ([]byte, error) {
	return s.document(ctx, id, FormatHTML)
}

func (s *Service) InvoicePDF(ctx context.Context, id string) ([]byte, error) {
	return s.document(ctx, id, FormatPDF)
}

func (s *Service) ShareInvoice(ctx context.Context, id string) (domain.ShareLink, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return domain.ShareLink{}, err
	}
	return s.docs.Share(inv), nil
}

// document renders an invoice, going through the cache first. Cache
// failures are logged and never fail the request.
func (s *Service) document(ctx context.Context, id string, format string) ([]byte, error) {
	key := cache.Key(s.cfg.CachePrefix, id, format)
	if doc, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("document cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return doc, nil
	}

	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}

	var doc []byte
	switch format {
	case FormatPDF:
		doc, err = s.docs.PDF(inv)
	default:
		doc, err = s.docs.HTML(inv)
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, doc, s.cfg.DocumentTTL); err != nil {
		s.log.Warn("document cache write failed", zap.String("key", key), zap.Error(err))
	}
	return doc, nil
}
