// Package redisdoc stores the catalog and invoices as documents in Redis.
//
// Categories and invoices are JSON strings. Items are hashes with a "doc"
// field holding the JSON document and an integer "stock" field, so stock can
// be changed in place. Invoices are indexed by time in a sorted set.
//
// Commits run as a Lua script that checks and decrements every line and
// writes the invoice in one step. When scripting is unavailable the store
// falls back to independent writes and reports that through warnings.
package redisdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/xid"
)

const backendName = "redis"

type Options struct {
	Prefix string
	// AtomicCommit selects the scripted commit. When false every commit
	// takes the fallback path.
	AtomicCommit bool
	Logger       *zap.Logger
}

type Store struct {
	client *redis.Client
	prefix string
	atomic bool
	log    *zap.Logger
}

func New(client *redis.Client, opts Options) *Store {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "maktab"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		client: client,
		prefix: prefix,
		atomic: opts.AtomicCommit,
		log:    log.With(zap.String("store", backendName)),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Backend() string { return backendName }

func (s *Store) categoryKey(id string) string { return s.prefix + ":category:" + id }
func (s *Store) categoryIndex() string        { return s.prefix + ":categories" }
func (s *Store) itemKey(id string) string     { return s.prefix + ":item:" + id }
func (s *Store) itemIndex() string            { return s.prefix + ":items" }
func (s *Store) invoiceKey(id string) string  { return s.prefix + ":invoice:" + id }
func (s *Store) invoiceIndex() string         { return s.prefix + ":invoices" }

type itemDoc struct {
	ID         string          `json:"id"`
	CategoryID string          `json:"category_id,omitempty"`
	Title      string          `json:"title"`
	Author     string          `json:"author,omitempty"`
	Price      decimal.Decimal `json:"price"`
	ImageURL   string          `json:"image,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func docFromItem(it domain.Item) itemDoc {
	return itemDoc{
		ID:         it.ID,
		CategoryID: it.CategoryID,
		Title:      it.Title,
		Author:     it.Author,
		Price:      it.Price,
		ImageURL:   it.ImageURL,
		CreatedAt:  it.CreatedAt,
	}
}

func (d itemDoc) toDomain(stock int) domain.Item {
	return domain.Item{
		ID:         d.ID,
		CategoryID: d.CategoryID,
		Title:      d.Title,
		Author:     d.Author,
		Price:      d.Price,
		Stock:      stock,
		ImageURL:   d.ImageURL,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	ids, err := s.client.SMembers(ctx, s.categoryIndex()).Result()
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "list categories", err)
	}
	categories := make([]domain.Category, 0, len(ids))
	if len(ids) == 0 {
		return categories, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.categoryKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "list categories", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var c domain.Category
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, domain.WrapPersistence(backendName, "decode category", err)
		}
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	raw, err := s.client.Get(ctx, s.categoryKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "get category", err)
	}
	var c domain.Category
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, domain.WrapPersistence(backendName, "decode category", err)
	}
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
	category.DiscountKind = category.DefaultDiscount().Kind

	payload, err := json.Marshal(category)
	if err != nil {
		return "", err
	}
	created, err := s.client.SetNX(ctx, s.categoryKey(category.ID), payload, 0).Result()
	if err != nil {
		return "", domain.WrapPersistence(backendName, "create category", err)
	}
	if !created {
		return "", &domain.ValidationError{Field: "id", Reason: "category already exists"}
	}
	if err := s.client.SAdd(ctx, s.categoryIndex(), category.ID).Err(); err != nil {
		return "", domain.WrapPersistence(backendName, "index category", err)
	}
	return category.ID, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) error {
	if err := store.ValidateCategory(category); err != nil {
		return err
	}
	key := s.categoryKey(category.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var existing domain.Category
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return err
		}
		existing.Name = category.Name
		existing.Discount = category.Discount
		existing.DiscountKind = category.DefaultDiscount().Kind
		payload, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	return domain.WrapPersistence(backendName, "update category", err)
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.categoryKey(id))
		pipe.SRem(ctx, s.categoryIndex(), id)
		return nil
	})
	if err != nil {
		return domain.WrapPersistence(backendName, "delete category", err)
	}
	if del.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.Item, error) {
	ids, err := s.client.SMembers(ctx, s.itemIndex()).Result()
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "list items", err)
	}
	items := make([]domain.Item, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}

	cmds := make([]*redis.SliceCmd, 0, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			cmds = append(cmds, pipe.HMGet(ctx, s.itemKey(id), "doc", "stock"))
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "list items", err)
	}
	for _, cmd := range cmds {
		it, ok, err := decodeItem(cmd.Val())
		if err != nil {
			return nil, domain.WrapPersistence(backendName, "decode item", err)
		}
		if ok {
			items = append(items, it)
		}
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Title == b.Title {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Title, b.Title)
	})
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.Item, error) {
	values, err := s.client.HMGet(ctx, s.itemKey(id), "doc", "stock").Result()
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "get item", err)
	}
	it, ok, err := decodeItem(values)
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "decode item", err)
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &it, nil
}

func decodeItem(values []interface{}) (domain.Item, bool, error) {
	if len(values) != 2 {
		return domain.Item{}, false, nil
	}
	raw, ok := values[0].(string)
	if !ok {
		return domain.Item{}, false, nil
	}
	var doc itemDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.Item{}, false, err
	}
	stock := 0
	if s, ok := values[1].(string); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return domain.Item{}, false, fmt.Errorf("item %s stock %q: %w", doc.ID, s, err)
		}
		stock = n
	}
	return doc.toDomain(stock), true, nil
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

	payload, err := json.Marshal(docFromItem(item))
	if err != nil {
		return "", err
	}
	key := s.itemKey(item.ID)

	// doc and stock are written in one transaction so the item is never
	// visible without its stock field.
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return &domain.ValidationError{Field: "id", Reason: "item already exists"}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "doc", payload, "stock", item.Stock)
			pipe.SAdd(ctx, s.itemIndex(), item.ID)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return "", domain.WrapPersistence(backendName, "create item", err)
	}
	return item.ID, nil
}

// UpdateItem rewrites the document only; the stock field is left alone.
func (s *Store) UpdateItem(ctx context.Context, item domain.Item) error {
	if err := store.ValidateItem(item); err != nil {
		return err
	}
	key := s.itemKey(item.ID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, "doc").Result()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var existing itemDoc
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return err
		}
		existing.CategoryID = item.CategoryID
		existing.Title = item.Title
		existing.Author = item.Author
		existing.Price = item.Price
		existing.ImageURL = item.ImageURL
		payload, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "doc", payload)
			return nil
		})
		return err
	}, key)
	return domain.WrapPersistence(backendName, "update item", err)
}

func (s *Store) SetStock(ctx context.Context, id string, stock int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	key := s.itemKey(id)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, key, "doc").Result()
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "stock", stock)
			return nil
		})
		return err
	}, key)
	return domain.WrapPersistence(backendName, "set stock", err)
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.itemKey(id))
		pipe.SRem(ctx, s.itemIndex(), id)
		return nil
	})
	if err != nil {
		return domain.WrapPersistence(backendName, "delete item", err)
	}
	if del.Val() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	ids, err := s.client.ZRevRange(ctx, s.invoiceIndex(), 0, -1).Result()
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "list invoices", err)
	}
	invoices := make([]domain.Invoice, 0, len(ids))
	if len(ids) == 0 {
		return invoices, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.invoiceKey(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "list invoices", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var inv domain.Invoice
		if err := json.Unmarshal([]byte(raw), &inv); err != nil {
			return nil, domain.WrapPersistence(backendName, "decode invoice", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	raw, err := s.client.Get(ctx, s.invoiceKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, domain.WrapPersistence(backendName, "get invoice", err)
	}
	var inv domain.Invoice
	if err := json.Unmarshal([]byte(raw), &inv); err != nil {
		return nil, domain.WrapPersistence(backendName, "decode invoice", err)
	}
	return &inv, nil
}
