package cache

import (
	"context"
	"time"
)

// DocumentCache holds rendered invoice documents. Invoices never change once
// committed, so entries only expire by TTL.
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type NoopDocumentCache struct{}

func (NoopDocumentCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopDocumentCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

// Key builds the cache key for one rendering of an invoice.
func Key(prefix, invoiceID, format string) string {
	return prefix + ":doc:" + format + ":" + invoiceID
}
