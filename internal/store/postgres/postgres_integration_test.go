package postgres

import (
	"context"
	"os"
	"testing"

	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	databaseURL := os.Getenv("MAKTAB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MAKTAB_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Repository {
		if _, err := s.db.ExecContext(ctx, `TRUNCATE invoice_items, invoices, items, categories`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	databaseURL := os.Getenv("MAKTAB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MAKTAB_TEST_DATABASE_URL to run postgres integration test")
	}

	s, err := New(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	for i := 0; i < 2; i++ {
		if err := s.Migrate(); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
}
