// Package sqlite is the embedded single-file backend. It runs on gorm with
// the pure-Go glebarez driver, so no cgo is needed.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/logger"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/xid"
)

const backendName = "sqlite"

type categoryRow struct {
	ID           string          `gorm:"primaryKey;size:64"`
	Name         string          `gorm:"size:120;not null;index"`
	Discount     decimal.Decimal `gorm:"type:text;not null"`
	DiscountType string          `gorm:"size:16;not null"`
	CreatedAt    time.Time
}

func (categoryRow) TableName() string { return "categories" }

type itemRow struct {
	ID         string          `gorm:"primaryKey;size:64"`
	CategoryID string          `gorm:"size:64;index"`
	Title      string          `gorm:"size:200;not null;index"`
	Author     string          `gorm:"size:200"`
	Price      decimal.Decimal `gorm:"type:text;not null"`
	Stock      int             `gorm:"not null"`
	Image      string
	CreatedAt  time.Time
}

func (itemRow) TableName() string { return "items" }

type invoiceRow struct {
	ID              string           `gorm:"primaryKey;size:64"`
	Date            time.Time        `gorm:"not null;index"`
	CustomerName    string           `gorm:"size:200;not null"`
	CustomerContact string           `gorm:"size:64;not null"`
	Subtotal        decimal.Decimal  `gorm:"type:text;not null"`
	TotalDiscount   decimal.Decimal  `gorm:"type:text;not null"`
	Total           decimal.Decimal  `gorm:"type:text;not null"`
	Lines           []invoiceLineRow `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
}

func (invoiceRow) TableName() string { return "invoices" }

type invoiceLineRow struct {
	ID           string          `gorm:"primaryKey;size:36"`
	InvoiceID    string          `gorm:"size:64;not null;index"`
	Position     int             `gorm:"not null"`
	ItemID       string          `gorm:"size:64;not null"`
	Title        string          `gorm:"size:200;not null"`
	Author       string          `gorm:"size:200"`
	Quantity     int             `gorm:"not null"`
	UnitPrice    decimal.Decimal `gorm:"type:text;not null"`
	Discount     decimal.Decimal `gorm:"type:text;not null"`
	DiscountType string          `gorm:"size:16;not null"`
	LineTotal    decimal.Decimal `gorm:"type:text;not null"`
}

func (invoiceLineRow) TableName() string { return "invoice_items" }

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLogger(log, gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps an in-memory
	// database alive for the life of the store.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.WithContext(ctx).AutoMigrate(&categoryRow{}, &itemRow{}, &invoiceRow{}, &invoiceLineRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Backend() string { return backendName }

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var rows []categoryRow
	if err := s.db.WithContext(ctx).Order("name, id").Find(&rows).Error; err != nil {
		return nil, domain.WrapPersistence(backendName, "list categories", err)
	}
	categories := make([]domain.Category, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, row.toDomain())
	}
	return categories, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var row categoryRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate("get category", err)
	}
	c := row.toDomain()
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

	row := categoryRow{
		ID:           category.ID,
		Name:         category.Name,
		Discount:     category.Discount,
		DiscountType: string(category.DefaultDiscount().Kind),
		CreatedAt:    category.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", translate("create category", err)
	}
	return row.ID, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) error {
	if err := store.ValidateCategory(category); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&categoryRow{}).Where("id = ?", category.ID).Updates(map[string]any{
		"name":          category.Name,
		"discount":      category.Discount,
		"discount_type": string(category.DefaultDiscount().Kind),
	})
	return affectedOne("update category", res)
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&categoryRow{})
	return affectedOne("delete category", res)
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	var rows []itemRow
	if err := s.db.WithContext(ctx).Order("title, id").Find(&rows).Error; err != nil {
		return nil, domain.WrapPersistence(backendName, "list items", err)
	}
	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	var row itemRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate("get item", err)
	}
	it := row.toDomain()
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

	row := itemRow{
		ID:         item.ID,
		CategoryID: item.CategoryID,
		Title:      item.Title,
		Author:     item.Author,
		Price:      item.Price,
		Stock:      item.Stock,
		Image:      item.ImageURL,
		CreatedAt:  item.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", translate("create item", err)
	}
	return row.ID, nil
}

func (s *Store) UpdateItem(ctx context.Context, item domain.Item) error {
	if err := store.ValidateItem(item); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&itemRow{}).Where("id = ?", item.ID).Updates(map[string]any{
		"category_id": item.CategoryID,
		"title":       item.Title,
		"author":      item.Author,
		"price":       item.Price,
		"image":       item.ImageURL,
	})
	return affectedOne("update item", res)
}

func (s *Store) SetStock(ctx context.Context, id string, stock int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	res := s.db.WithContext(ctx).Model(&itemRow{}).Where("id = ?", id).Update("stock", stock)
	return affectedOne("set stock", res)
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&itemRow{})
	return affectedOne("delete item", res)
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	var rows []invoiceRow
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("date DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "list invoices", err)
	}
	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, row.toDomain())
	}
	return invoices, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var row invoiceRow
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		return nil, translate("get invoice", err)
	}
	inv := row.toDomain()
	return &inv, nil
}

// CommitInvoice writes the invoice and applies every decrement in one
// transaction. Each decrement is conditional on enough stock remaining.
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
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []itemRow
		if err := tx.Select("id", "title", "stock").Where("id IN ?", order).Find(&current).Error; err != nil {
			return err
		}
		stockByID := make(map[string]itemRow, len(current))
		for _, row := range current {
			stockByID[row.ID] = row
		}

		var shortfalls []domain.Shortfall
		for _, itemID := range order {
			row, ok := stockByID[itemID]
			if !ok {
				return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
			}
			if row.Stock < demand[itemID] {
				shortfalls = append(shortfalls, domain.Shortfall{ItemID: itemID, Title: row.Title, Requested: demand[itemID], Available: row.Stock})
			}
		}
		if len(shortfalls) > 0 {
			return &domain.StockError{Shortfalls: shortfalls}
		}

		for _, itemID := range order {
			qty := demand[itemID]
			res := tx.Model(&itemRow{}).
				Where("id = ? AND stock >= ?", itemID, qty).
				UpdateColumn("stock", gorm.Expr("stock - ?", qty))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return &domain.StockError{Shortfalls: []domain.Shortfall{{
					ItemID:    itemID,
					Title:     stockByID[itemID].Title,
					Requested: qty,
					Available: stockByID[itemID].Stock,
				}}}
			}
		}

		row := invoiceRowFrom(invoice)
		return tx.Create(&row).Error
	})
	if err != nil {
		return store.CommitResult{}, translate("commit invoice", err)
	}

	return store.CommitResult{InvoiceID: invoice.ID, Atomic: true}, nil
}

func invoiceRowFrom(invoice domain.Invoice) invoiceRow {
	row := invoiceRow{
		ID:              invoice.ID,
		Date:            invoice.CreatedAt,
		CustomerName:    invoice.CustomerName,
		CustomerContact: invoice.CustomerContact,
		Subtotal:        invoice.Subtotal,
		TotalDiscount:   invoice.TotalDiscount,
		Total:           invoice.Total,
		Lines:           make([]invoiceLineRow, 0, len(invoice.Lines)),
	}
	for i, line := range invoice.Lines {
		row.Lines = append(row.Lines, invoiceLineRow{
			ID:           uuid.NewString(),
			InvoiceID:    invoice.ID,
			Position:     i,
			ItemID:       line.ItemID,
			Title:        line.Title,
			Author:       line.Author,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Discount:     line.Discount,
			DiscountType: string(line.DiscountKind),
			LineTotal:    line.LineTotal,
		})
	}
	return row
}

func (r categoryRow) toDomain() domain.Category {
	return domain.Category{
		ID:           r.ID,
		Name:         r.Name,
		Discount:     r.Discount,
		DiscountKind: domain.DiscountKind(r.DiscountType),
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func (r itemRow) toDomain() domain.Item {
	return domain.Item{
		ID:         r.ID,
		CategoryID: r.CategoryID,
		Title:      r.Title,
		Author:     r.Author,
		Price:      r.Price,
		Stock:      r.Stock,
		ImageURL:   r.Image,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func (r invoiceRow) toDomain() domain.Invoice {
	inv := domain.Invoice{
		ID:              r.ID,
		CreatedAt:       r.Date.UTC(),
		CustomerName:    r.CustomerName,
		CustomerContact: r.CustomerContact,
		Subtotal:        r.Subtotal,
		TotalDiscount:   r.TotalDiscount,
		Total:           r.Total,
		Lines:           make([]domain.InvoiceLine, 0, len(r.Lines)),
	}
	for _, line := range r.Lines {
		inv.Lines = append(inv.Lines, domain.InvoiceLine{
			ItemID:       line.ItemID,
			Title:        line.Title,
			Author:       line.Author,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			Discount:     line.Discount,
			DiscountKind: domain.DiscountKind(line.DiscountType),
			LineTotal:    line.LineTotal,
		})
	}
	return inv
}

func affectedOne(op string, res *gorm.DB) error {
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func translate(op string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return &domain.ValidationError{Field: "id", Reason: "already exists"}
	}
	return domain.WrapPersistence(backendName, op, err)
}
