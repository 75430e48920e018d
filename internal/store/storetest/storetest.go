// Package storetest holds behaviour every store.Repository must share. Each
// backend's tests call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/store"
)

type Factory func(t *testing.T) store.Repository

func Run(t *testing.T, newRepo Factory) {
	t.Run("CategoryCRUD", func(t *testing.T) { testCategoryCRUD(t, newRepo(t)) })
	t.Run("CategoryValidation", func(t *testing.T) { testCategoryValidation(t, newRepo(t)) })
	t.Run("ItemCRUD", func(t *testing.T) { testItemCRUD(t, newRepo(t)) })
	t.Run("ItemSurvivesCategoryDelete", func(t *testing.T) { testDanglingCategory(t, newRepo(t)) })
	t.Run("CommitRoundTrip", func(t *testing.T) { testCommitRoundTrip(t, newRepo(t)) })
	t.Run("InvoicesNewestFirst", func(t *testing.T) { testInvoiceOrder(t, newRepo(t)) })
	t.Run("CommitRejectsOverdraw", func(t *testing.T) { testCommitRejectsOverdraw(t, newRepo(t)) })
	t.Run("CommitMissingItem", func(t *testing.T) { testCommitMissingItem(t, newRepo(t)) })
	t.Run("ConcurrentCommitsLastUnit", func(t *testing.T) { testConcurrentLastUnit(t, newRepo(t)) })
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// MustCreateItem creates an item with the given price and stock.
func MustCreateItem(t *testing.T, repo store.Repository, title string, price string, stock int) domain.Item {
	t.Helper()
	item := domain.Item{Title: title, Price: Dec(price), Stock: stock}
	id, err := repo.CreateItem(context.Background(), item)
	require.NoError(t, err)
	item.ID = id
	return item
}

// NewInvoice builds an invoice for qty units of each item with no discount.
func NewInvoice(at time.Time, lines ...domain.InvoiceLine) domain.Invoice {
	subtotal := decimal.Zero
	for i, l := range lines {
		if l.DiscountKind == "" {
			lines[i].DiscountKind = domain.DiscountFixed
		}
		lineTotal := l.UnitPrice.Sub(l.Discount).Mul(decimal.NewFromInt(int64(l.Quantity)))
		lines[i].LineTotal = lineTotal
		subtotal = subtotal.Add(lineTotal)
	}
	return domain.Invoice{
		CreatedAt:       at.UTC().Truncate(time.Millisecond),
		CustomerName:    domain.WalkInCustomer,
		CustomerContact: domain.NoContact,
		Subtotal:        subtotal,
		TotalDiscount:   decimal.Zero,
		Total:           subtotal,
		Lines:           lines,
	}
}

func LineFor(item domain.Item, qty int) domain.InvoiceLine {
	return domain.InvoiceLine{
		ItemID:       item.ID,
		Title:        item.Title,
		Author:       item.Author,
		Quantity:     qty,
		UnitPrice:    item.Price,
		Discount:     decimal.Zero,
		DiscountKind: domain.DiscountFixed,
	}
}

func StockOf(t *testing.T, repo store.Repository, id string) int {
	t.Helper()
	item, err := repo.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Stock
}

// AssertInvoiceEqual compares invoices field by field, using decimal
// equality for money.
func AssertInvoiceEqual(t *testing.T, want, got domain.Invoice) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %s != %s", want.CreatedAt, got.CreatedAt)
	assert.Equal(t, want.CustomerName, got.CustomerName)
	assert.Equal(t, want.CustomerContact, got.CustomerContact)
	assert.True(t, want.Subtotal.Equal(got.Subtotal), "subtotal %s != %s", want.Subtotal, got.Subtotal)
	assert.True(t, want.TotalDiscount.Equal(got.TotalDiscount), "discount %s != %s", want.TotalDiscount, got.TotalDiscount)
	assert.True(t, want.Total.Equal(got.Total), "total %s != %s", want.Total, got.Total)
	require.Len(t, got.Lines, len(want.Lines))
	for i := range want.Lines {
		w, g := want.Lines[i], got.Lines[i]
		assert.Equal(t, w.ItemID, g.ItemID, "line %d", i)
		assert.Equal(t, w.Title, g.Title, "line %d", i)
		assert.Equal(t, w.Author, g.Author, "line %d", i)
		assert.Equal(t, w.Quantity, g.Quantity, "line %d", i)
		assert.True(t, w.UnitPrice.Equal(g.UnitPrice), "line %d unit price %s != %s", i, w.UnitPrice, g.UnitPrice)
		assert.True(t, w.Discount.Equal(g.Discount), "line %d discount %s != %s", i, w.Discount, g.Discount)
		assert.Equal(t, w.DiscountKind, g.DiscountKind, "line %d", i)
		assert.True(t, w.LineTotal.Equal(g.LineTotal), "line %d total %s != %s", i, w.LineTotal, g.LineTotal)
	}
}

func testCategoryCRUD(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	idB, err := repo.CreateCategory(ctx, domain.Category{Name: "Stationery", Discount: Dec("0"), DiscountKind: domain.DiscountFixed})
	require.NoError(t, err)
	idA, err := repo.CreateCategory(ctx, domain.Category{Name: "Islamic Books", Discount: Dec("10"), DiscountKind: domain.DiscountPercent})
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	categories, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "Islamic Books", categories[0].Name)
	assert.Equal(t, "Stationery", categories[1].Name)
	assert.True(t, categories[0].Discount.Equal(Dec("10")))
	assert.Equal(t, domain.DiscountPercent, categories[0].DiscountKind)

	require.NoError(t, repo.UpdateCategory(ctx, domain.Category{ID: idB, Name: "Office Supplies", Discount: Dec("50"), DiscountKind: domain.DiscountFixed}))
	got, err := repo.GetCategory(ctx, idB)
	require.NoError(t, err)
	assert.Equal(t, "Office Supplies", got.Name)
	assert.True(t, got.Discount.Equal(Dec("50")))

	require.NoError(t, repo.DeleteCategory(ctx, idA))
	_, err = repo.GetCategory(ctx, idA)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

	err = repo.UpdateCategory(ctx, domain.Category{ID: "cat_missing", Name: "x", DiscountKind: domain.DiscountFixed})
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	assert.True(t, errors.Is(repo.DeleteCategory(ctx, "cat_missing"), store.ErrNotFound))
}

func testCategoryValidation(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	_, err := repo.CreateCategory(ctx, domain.Category{Name: " "})
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
	_, err = repo.CreateCategory(ctx, domain.Category{Name: "Bad", Discount: Dec("101"), DiscountKind: domain.DiscountPercent})
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
	_, err = repo.CreateCategory(ctx, domain.Category{Name: "Bad", Discount: Dec("-1"), DiscountKind: domain.DiscountFixed})
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)

	categories, err := repo.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func testItemCRUD(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	catID, err := repo.CreateCategory(ctx, domain.Category{Name: "Stationery", DiscountKind: domain.DiscountFixed})
	require.NoError(t, err)

	id, err := repo.CreateItem(ctx, domain.Item{
		CategoryID: catID,
		Title:      "Premium Notebook",
		Price:      Dec("1200.50"),
		Stock:      7,
		ImageURL:   "https://example.test/notebook.png",
	})
	require.NoError(t, err)
	MustCreateItem(t, repo, "Ballpoint Pen", "45", 100)

	items, err := repo.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ballpoint Pen", items[0].Title)
	assert.Equal(t, "Premium Notebook", items[1].Title)

	got, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, catID, got.CategoryID)
	assert.True(t, got.Price.Equal(Dec("1200.50")))
	assert.Equal(t, 7, got.Stock)
	assert.Equal(t, "https://example.test/notebook.png", got.ImageURL)

	got.Title = "Premium Notebook A5"
	got.Author = "Maktab"
	got.Price = Dec("1300")
	got.Stock = 999
	require.NoError(t, repo.UpdateItem(ctx, *got))

	updated, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Premium Notebook A5", updated.Title)
	assert.Equal(t, "Maktab", updated.Author)
	assert.True(t, updated.Price.Equal(Dec("1300")))
	assert.Equal(t, 7, updated.Stock, "update must not write stock")

	require.NoError(t, repo.SetStock(ctx, id, 3))
	assert.Equal(t, 3, StockOf(t, repo, id))
	assert.True(t, errors.Is(repo.SetStock(ctx, "item_missing", 3), store.ErrNotFound))

	_, err = repo.CreateItem(ctx, domain.Item{Title: "Broken", Price: Dec("-1")})
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)

	require.NoError(t, repo.DeleteItem(ctx, id))
	_, err = repo.GetItem(ctx, id)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, errors.Is(repo.DeleteItem(ctx, id), store.ErrNotFound))
	assert.True(t, errors.Is(repo.UpdateItem(ctx, domain.Item{ID: id, Title: "gone"}), store.ErrNotFound))
}

func testDanglingCategory(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	catID, err := repo.CreateCategory(ctx, domain.Category{Name: "Temporary", DiscountKind: domain.DiscountFixed})
	require.NoError(t, err)
	id, err := repo.CreateItem(ctx, domain.Item{CategoryID: catID, Title: "Orphan", Price: Dec("10"), Stock: 1})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteCategory(ctx, catID))

	item, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, catID, item.CategoryID)
}

func testCommitRoundTrip(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	notebook := MustCreateItem(t, repo, "Premium Notebook", "1200", 5)
	tafseer := MustCreateItem(t, repo, "Tafseer Ibn Kathir", "4500", 4)

	inv := NewInvoice(time.Now(), LineFor(notebook, 1), LineFor(tafseer, 2))
	inv.Lines[1].Discount = Dec("10")
	inv.Lines[1].DiscountKind = domain.DiscountPercent
	inv.Lines[1].LineTotal = Dec("8100")
	inv.Subtotal = Dec("10200")
	inv.TotalDiscount = Dec("900")
	inv.Total = Dec("9300")
	inv.CustomerName = "Aisha"
	inv.CustomerContact = "+92 300 1234567"

	res, err := repo.CommitInvoice(ctx, inv)
	require.NoError(t, err)
	require.NotEmpty(t, res.InvoiceID)
	assert.True(t, res.Atomic)
	assert.Empty(t, res.Warnings)
	inv.ID = res.InvoiceID

	got, err := repo.GetInvoice(ctx, res.InvoiceID)
	require.NoError(t, err)
	AssertInvoiceEqual(t, inv, *got)

	assert.Equal(t, 4, StockOf(t, repo, notebook.ID))
	assert.Equal(t, 2, StockOf(t, repo, tafseer.ID))

	// Editing the item later must not alter the stored invoice.
	edited, err := repo.GetItem(ctx, notebook.ID)
	require.NoError(t, err)
	edited.Title = "Renamed"
	edited.Price = Dec("1")
	require.NoError(t, repo.UpdateItem(ctx, *edited))

	again, err := repo.GetInvoice(ctx, res.InvoiceID)
	require.NoError(t, err)
	AssertInvoiceEqual(t, inv, *again)

	_, err = repo.GetInvoice(ctx, "inv_missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testInvoiceOrder(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	item := MustCreateItem(t, repo, "Pen", "45", 10)
	base := time.Now().Add(-time.Hour)

	ids := make([]string, 0, 3)
	for _, offset := range []time.Duration{0, 2 * time.Minute, time.Minute} {
		res, err := repo.CommitInvoice(ctx, NewInvoice(base.Add(offset), LineFor(item, 1)))
		require.NoError(t, err)
		ids = append(ids, res.InvoiceID)
	}

	invoices, err := repo.ListInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, invoices, 3)
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, []string{invoices[0].ID, invoices[1].ID, invoices[2].ID})
	assert.Len(t, invoices[0].Lines, 1)
}

func testCommitRejectsOverdraw(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	plenty := MustCreateItem(t, repo, "Plenty", "10", 10)
	scarce := MustCreateItem(t, repo, "Scarce", "20", 1)

	_, err := repo.CommitInvoice(ctx, NewInvoice(time.Now(), LineFor(plenty, 3), LineFor(scarce, 2)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock), "got %v", err)

	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	require.Len(t, stockErr.Shortfalls, 1)
	assert.Equal(t, scarce.ID, stockErr.Shortfalls[0].ItemID)
	assert.Equal(t, 2, stockErr.Shortfalls[0].Requested)
	assert.Equal(t, 1, stockErr.Shortfalls[0].Available)

	assert.Equal(t, 10, StockOf(t, repo, plenty.ID), "no line may be decremented when one fails")
	assert.Equal(t, 1, StockOf(t, repo, scarce.ID))

	invoices, err := repo.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func testCommitMissingItem(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	item := MustCreateItem(t, repo, "Real", "10", 10)
	ghost := domain.Item{ID: "item_ghost", Title: "Ghost", Price: Dec("5")}

	_, err := repo.CommitInvoice(ctx, NewInvoice(time.Now(), LineFor(item, 1), LineFor(ghost, 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)
	assert.Equal(t, 10, StockOf(t, repo, item.ID))

	invoices, err := repo.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Empty(t, invoices)

	_, err = repo.CommitInvoice(ctx, domain.Invoice{})
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
}

func testConcurrentLastUnit(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	item := MustCreateItem(t, repo, "Last Copy", "1200", 1)

	const workers = 2
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			inv := NewInvoice(time.Now(), LineFor(item, 1))
			inv.CustomerName = fmt.Sprintf("customer-%d", i)
			_, errs[i] = repo.CommitInvoice(ctx, inv)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, store.ErrInsufficientStock), "loser must see insufficient stock, got %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, StockOf(t, repo, item.ID))

	invoices, err := repo.ListInvoices(ctx)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}
