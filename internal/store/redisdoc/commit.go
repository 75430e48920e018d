package redisdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/xid"
)

// KEYS[1] invoice document, KEYS[2] invoice index, KEYS[3..] item hashes.
// ARGV[1] invoice JSON, ARGV[2] index score, ARGV[3] invoice id,
// ARGV[4..] quantity for the item hash at the same position.
var commitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {'DUPLICATE'}
end
local short = {'SHORT'}
for i = 3, #KEYS do
  local stock = redis.call('HGET', KEYS[i], 'stock')
  if not stock then
    return {'MISSING', KEYS[i]}
  end
  if tonumber(stock) < tonumber(ARGV[i + 1]) then
    table.insert(short, KEYS[i])
    table.insert(short, stock)
  end
end
if #short > 1 then
  return short
end
for i = 3, #KEYS do
  redis.call('HINCRBY', KEYS[i], 'stock', -tonumber(ARGV[i + 1]))
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return {'OK'}
`)

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
	payload, err := json.Marshal(invoice)
	if err != nil {
		return store.CommitResult{}, err
	}
	demand, order := store.Demand(invoice.Lines)

	if s.atomic {
		res, err := s.commitScripted(ctx, invoice, payload, demand, order)
		if err == nil || !scriptingUnavailable(err) {
			return res, err
		}
		s.log.Warn("scripted commit unavailable, falling back to independent writes",
			zap.String("invoice_id", invoice.ID), zap.Error(err))
	}
	return s.commitFallback(ctx, invoice, payload, demand, order)
}

func (s *Store) commitScripted(ctx context.Context, invoice domain.Invoice, payload []byte, demand map[string]int, order []string) (store.CommitResult, error) {
	keys := make([]string, 0, len(order)+2)
	keys = append(keys, s.invoiceKey(invoice.ID), s.invoiceIndex())
	args := make([]interface{}, 0, len(order)+3)
	args = append(args, payload, invoiceScore(invoice.CreatedAt), invoice.ID)
	byKey := make(map[string]string, len(order))
	for _, itemID := range order {
		key := s.itemKey(itemID)
		keys = append(keys, key)
		args = append(args, demand[itemID])
		byKey[key] = itemID
	}

	reply, err := commitScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return store.CommitResult{}, domain.WrapPersistence(backendName, "commit invoice", err)
	}
	if len(reply) == 0 {
		return store.CommitResult{}, domain.WrapPersistence(backendName, "commit invoice", errors.New("empty script reply"))
	}

	switch fmt.Sprint(reply[0]) {
	case "OK":
		return store.CommitResult{InvoiceID: invoice.ID, Atomic: true}, nil
	case "DUPLICATE":
		return store.CommitResult{}, &domain.ValidationError{Field: "id", Reason: "invoice already exists"}
	case "MISSING":
		itemID := byKey[fmt.Sprint(reply[1])]
		return store.CommitResult{}, fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
	case "SHORT":
		var shortfalls []domain.Shortfall
		for i := 1; i+1 < len(reply); i += 2 {
			itemID := byKey[fmt.Sprint(reply[i])]
			available, _ := strconv.Atoi(fmt.Sprint(reply[i+1]))
			shortfalls = append(shortfalls, domain.Shortfall{
				ItemID:    itemID,
				Title:     store.TitleOf(invoice.Lines, itemID),
				Requested: demand[itemID],
				Available: available,
			})
		}
		return store.CommitResult{}, &domain.StockError{Shortfalls: shortfalls}
	default:
		return store.CommitResult{}, domain.WrapPersistence(backendName, "commit invoice", fmt.Errorf("unexpected script reply %v", reply))
	}
}

// commitFallback records the invoice first and then decrements each item
// with its own read and write. Nothing stops two checkouts from reading the
// same stock, so every decrement is reported as a warning.
func (s *Store) commitFallback(ctx context.Context, invoice domain.Invoice, payload []byte, demand map[string]int, order []string) (store.CommitResult, error) {
	created, err := s.client.SetNX(ctx, s.invoiceKey(invoice.ID), payload, 0).Result()
	if err != nil {
		return store.CommitResult{}, domain.WrapPersistence(backendName, "commit invoice", err)
	}
	if !created {
		return store.CommitResult{}, &domain.ValidationError{Field: "id", Reason: "invoice already exists"}
	}
	if err := s.client.ZAdd(ctx, s.invoiceIndex(), redis.Z{Score: invoiceScore(invoice.CreatedAt), Member: invoice.ID}).Err(); err != nil {
		// No stock was touched yet; drop the document so a retry starts clean.
		if delErr := s.client.Del(ctx, s.invoiceKey(invoice.ID)).Err(); delErr != nil {
			s.log.Error("unindexed invoice left behind",
				zap.String("invoice_id", invoice.ID),
				zap.Error(delErr))
			return store.CommitResult{}, &domain.PartialCommitError{InvoiceID: invoice.ID, Failures: []domain.Warning{{
				Code:    domain.WarnDecrementFailed,
				Message: fmt.Sprintf("invoice stored but not indexed and no stock was reduced: %v", err),
			}}}
		}
		return store.CommitResult{}, domain.WrapPersistence(backendName, "index invoice", err)
	}

	result := store.CommitResult{InvoiceID: invoice.ID}
	var failures []domain.Warning
	for _, itemID := range order {
		qty := demand[itemID]
		next, err := s.decrementUnguarded(ctx, itemID, qty)
		if err != nil {
			w := domain.Warning{
				Code:    domain.WarnDecrementFailed,
				ItemID:  itemID,
				Message: fmt.Sprintf("stock for %s was not reduced by %d: %v", itemID, qty, err),
			}
			failures = append(failures, w)
			result.Warnings = append(result.Warnings, w)
			continue
		}
		result.Warnings = append(result.Warnings, domain.Warning{
			Code:    domain.WarnNonAtomicDecrement,
			ItemID:  itemID,
			Message: fmt.Sprintf("stock reduced by %d without a guarded update", qty),
		})
		if next < 0 {
			result.Warnings = append(result.Warnings, domain.Warning{
				Code:    domain.WarnStockOverdrawn,
				ItemID:  itemID,
				Message: fmt.Sprintf("stock is now %d", next),
			})
		}
	}

	s.log.Warn("invoice committed without atomic stock update",
		zap.String("invoice_id", invoice.ID),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("failures", len(failures)))

	if len(failures) > 0 {
		return result, &domain.PartialCommitError{InvoiceID: invoice.ID, Failures: failures}
	}
	return result, nil
}

func (s *Store) decrementUnguarded(ctx context.Context, itemID string, qty int) (int, error) {
	key := s.itemKey(itemID)
	current, err := s.client.HGet(ctx, key, "stock").Int()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	next := current - qty
	if err := s.client.HSet(ctx, key, "stock", next).Err(); err != nil {
		return 0, err
	}
	return next, nil
}

func invoiceScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// scriptingUnavailable reports errors that mean the server cannot run the
// commit script at all, as opposed to the script running and failing.
func scriptingUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown command") ||
		strings.Contains(msg, "noscript") ||
		strings.Contains(msg, "scripting is disabled")
}
