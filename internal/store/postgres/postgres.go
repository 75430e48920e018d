package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/xid"
)

const backendName = "postgres"

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Migrate() error {
	return RunMigrations(s.db)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Backend() string { return backendName }

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, discount, discount_type, created_at
		FROM categories
		ORDER BY name, id
	`)
	if err != nil {
		return nil, translate("list categories", err)
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Discount, &c.DiscountKind, &c.CreatedAt); err != nil {
			return nil, translate("list categories", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list categories", err)
	}
	return categories, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, discount, discount_type, created_at
		FROM categories
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Discount, &c.DiscountKind, &c.CreatedAt)
	if err != nil {
		return nil, translate("get category", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (string, error) {
	if err := store.ValidateCategory(category); err != nil {
		return "", err
	}
	if category.ID == "" {
		category.ID = xid.New(xid.PrefixCategory)
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, discount, discount_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, category.ID, category.Name, category.Discount, string(category.DefaultDiscount().Kind), category.CreatedAt)
	if err != nil {
		return "", translate("create category", err)
	}
	return category.ID, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) error {
	if err := store.ValidateCategory(category); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE categories
		SET name = $2, discount = $3, discount_type = $4
		WHERE id = $1
	`, category.ID, category.Name, category.Discount, string(category.DefaultDiscount().Kind))
	return affectedOne("update category", res, err)
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	return affectedOne("delete category", res, err)
}

const itemColumns = `id, COALESCE(category_id, ''), title, COALESCE(author, ''), price, stock, COALESCE(image, ''), created_at`

func scanItem(row interface{ Scan(...any) error }) (domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ID, &it.CategoryID, &it.Title, &it.Author, &it.Price, &it.Stock, &it.ImageURL, &it.CreatedAt)
	it.CreatedAt = it.CreatedAt.UTC()
	return it, err
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY title, id`)
	if err != nil {
		return nil, translate("list items", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, translate("list items", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("list items", err)
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get item", err)
	}
	return &it, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (string, error) {
	if err := store.ValidateItem(item); err != nil {
		return "", err
	}
	if item.ID == "" {
		item.ID = xid.New(xid.PrefixItem)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, category_id, title, author, price, stock, image, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, nullIfEmpty(item.CategoryID), item.Title, nullIfEmpty(item.Author), item.Price, item.Stock, nullIfEmpty(item.ImageURL), item.CreatedAt)
	if err != nil {
		return "", translate("create item", err)
	}
	return item.ID, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) error {
	if err := store.ValidateItem(item); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET category_id = $2, title = $3, author = $4, price = $5, image = $6
		WHERE id = $1
	`, item.ID, nullIfEmpty(item.CategoryID), item.Title, nullIfEmpty(item.Author), item.Price, nullIfEmpty(item.ImageURL))
	return affectedOne("update item", res, err)
}

func (s *Store) SetStock(ctx context.Context, id string, stock int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE items SET stock = $2 WHERE id = $1`, id, stock)
	return affectedOne("set stock", res, err)
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	return affectedOne("delete item", res, err)
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, customer_name, customer_contact, subtotal, total_discount, total
		FROM invoices
		ORDER BY date DESC, id DESC
	`)
	if err != nil {
		return nil, translate("list invoices", err)
	}

	invoices := make([]domain.Invoice, 0, 32)
	ids := make([]string, 0, 32)
	index := make(map[string]int)
	for rows.Next() {
		var inv domain.Invoice
		if err := rows.Scan(&inv.ID, &inv.CreatedAt, &inv.CustomerName, &inv.CustomerContact, &inv.Subtotal, &inv.TotalDiscount, &inv.Total); err != nil {
			_ = rows.Close()
			return nil, translate("list invoices", err)
		}
		inv.CreatedAt = inv.CreatedAt.UTC()
		inv.Lines = []domain.InvoiceLine{}
		index[inv.ID] = len(invoices)
		ids = append(ids, inv.ID)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, translate("list invoices", err)
	}
	_ = rows.Close()

	if len(invoices) == 0 {
		return invoices, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, item_id, title, COALESCE(author, ''), quantity, unit_price, discount, discount_type, line_total
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY invoice_id, position
	`, ids)
	if err != nil {
		return nil, translate("list invoice lines", err)
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var invoiceID string
		var line domain.InvoiceLine
		if err := lineRows.Scan(&invoiceID, &line.ItemID, &line.Title, &line.Author, &line.Quantity, &line.UnitPrice, &line.Discount, &line.DiscountKind, &line.LineTotal); err != nil {
			return nil, translate("list invoice lines", err)
		}
		if i, ok := index[invoiceID]; ok {
			invoices[i].Lines = append(invoices[i].Lines, line)
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, translate("list invoice lines", err)
	}
	return invoices, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, customer_name, customer_contact, subtotal, total_discount, total
		FROM invoices
		WHERE id = $1
	`, id).Scan(&inv.ID, &inv.CreatedAt, &inv.CustomerName, &inv.CustomerContact, &inv.Subtotal, &inv.TotalDiscount, &inv.Total)
	if err != nil {
		return nil, translate("get invoice", err)
	}
	inv.CreatedAt = inv.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, title, COALESCE(author, ''), quantity, unit_price, discount, discount_type, line_total
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, translate("get invoice lines", err)
	}
	defer rows.Close()

	inv.Lines = make([]domain.InvoiceLine, 0, 8)
	for rows.Next() {
		var line domain.InvoiceLine
		if err := rows.Scan(&line.ItemID, &line.Title, &line.Author, &line.Quantity, &line.UnitPrice, &line.Discount, &line.DiscountKind, &line.LineTotal); err != nil {
			return nil, translate("get invoice lines", err)
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("get invoice lines", err)
	}
	return &inv, nil
}

// CommitInvoice runs the stock check, the decrements and the invoice insert
// in one transaction. decrement_stock only updates a row whose stock covers
// the quantity, and it re-checks under the row lock, so a concurrent commit
// that drained the item makes this one fail instead of overdrawing.
func (s *Store) CommitInvoice(ctx context.Context, invoice domain.Invoice) (store.CommitResult, error) {
	if err := store.ValidateInvoice(invoice); err != nil {
		return store.CommitResult{}, err
	}
	if invoice.ID == "" {
		invoice.ID = xid.New(xid.PrefixInvoice)
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	demand, order := store.Demand(invoice.Lines)
	// Fixed lock order keeps two commits over the same items from deadlocking.
	sort.Strings(order)

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return store.CommitResult{}, translate("begin commit", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	stockRows, err := pgTx.QueryContext(ctx, `
		SELECT id, title, stock
		FROM items
		WHERE id = ANY($1)
	`, order)
	if err != nil {
		return store.CommitResult{}, translate("read stock", err)
	}
	type stockState struct {
		title string
		stock int
	}
	current := make(map[string]stockState, len(order))
	for stockRows.Next() {
		var id string
		var st stockState
		if err := stockRows.Scan(&id, &st.title, &st.stock); err != nil {
			_ = stockRows.Close()
			return store.CommitResult{}, translate("read stock", err)
		}
		current[id] = st
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return store.CommitResult{}, translate("read stock", err)
	}
	_ = stockRows.Close()

	var shortfalls []domain.Shortfall
	for _, itemID := range order {
		st, ok := current[itemID]
		if !ok {
			return store.CommitResult{}, fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if st.stock < demand[itemID] {
			shortfalls = append(shortfalls, domain.Shortfall{ItemID: itemID, Title: st.title, Requested: demand[itemID], Available: st.stock})
		}
	}
	if len(shortfalls) > 0 {
		return store.CommitResult{}, &domain.StockError{Shortfalls: shortfalls}
	}

	for _, itemID := range order {
		var remaining sql.NullInt64
		if err := pgTx.QueryRowContext(ctx, `SELECT decrement_stock($1, $2)`, itemID, demand[itemID]).Scan(&remaining); err != nil {
			return store.CommitResult{}, translate("decrement stock", err)
		}
		if !remaining.Valid {
			available := current[itemID].stock
			_ = pgTx.QueryRowContext(ctx, `SELECT stock FROM items WHERE id = $1`, itemID).Scan(&available)
			return store.CommitResult{}, &domain.StockError{Shortfalls: []domain.Shortfall{{
				ItemID:    itemID,
				Title:     current[itemID].title,
				Requested: demand[itemID],
				Available: available,
			}}}
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO invoices (id, date, customer_name, customer_contact, subtotal, total_discount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, invoice.ID, invoice.CreatedAt, invoice.CustomerName, invoice.CustomerContact, invoice.Subtotal, invoice.TotalDiscount, invoice.Total)
	if err != nil {
		return store.CommitResult{}, translate("insert invoice", err)
	}

	for i, line := range invoice.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, position, item_id, title, author, quantity, unit_price, discount, discount_type, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, uuid.New(), invoice.ID, i, line.ItemID, line.Title, nullIfEmpty(line.Author), line.Quantity, line.UnitPrice, line.Discount, string(line.DiscountKind), line.LineTotal)
		if err != nil {
			return store.CommitResult{}, translate("insert invoice line", err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return store.CommitResult{}, translate("commit", err)
	}
	return store.CommitResult{InvoiceID: invoice.ID, Atomic: true}, nil
}

func affectedOne(op string, res sql.Result, err error) error {
	if err != nil {
		return translate(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return translate(op, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case isUniqueViolation(err):
		return &domain.ValidationError{Field: "id", Reason: "already exists"}
	case isCheckViolation(err):
		return &domain.ValidationError{Reason: err.Error()}
	}
	return domain.WrapPersistence(backendName, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
