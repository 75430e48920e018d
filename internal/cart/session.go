package cart

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/pricing"
)

// Session is one user's in-progress cart. Lines are kept in insertion order
// and addressed by index; an item appears at most once.
type Session struct {
	mu          sync.Mutex
	lines       []domain.CartLine
	version     uint64
	checkingOut bool
}

type Snapshot struct {
	Lines   []domain.CartLine `json:"lines"`
	Totals  pricing.Totals    `json:"totals"`
	Version uint64            `json:"version"`
}

func NewSession() *Session {
	return &Session{lines: make([]domain.CartLine, 0, 8)}
}

// AddLine puts one unit of item in the cart. A new line starts with the
// category default discount. ErrStockExhausted is returned, and nothing
// changes, when another unit would exceed the item's stock.
func (s *Session) AddLine(item domain.Item, categoryDefault domain.Discount) (domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(item.ID); idx >= 0 {
		line := &s.lines[idx]
		line.Stock = item.Stock
		if line.Quantity+1 > item.Stock {
			return *line, fmt.Errorf("%q: only %d in stock: %w", item.Title, item.Stock, domain.ErrStockExhausted)
		}
		line.Quantity++
		s.version++
		return *line, nil
	}

	if item.Stock < 1 {
		return domain.CartLine{}, fmt.Errorf("%q is out of stock: %w", item.Title, domain.ErrStockExhausted)
	}
	if item.Price.IsNegative() {
		return domain.CartLine{}, &domain.ValidationError{Field: "price", Reason: fmt.Sprintf("%q has a negative price", item.Title)}
	}

	seed := categoryDefault
	if seed.Kind == "" {
		seed.Kind = domain.DiscountFixed
	}
	if err := seed.Validate(); err != nil {
		seed = domain.Discount{Amount: decimal.Zero, Kind: domain.DiscountFixed}
	}

	line := domain.CartLine{
		ItemID:       item.ID,
		Title:        item.Title,
		Author:       item.Author,
		CategoryID:   item.CategoryID,
		UnitPrice:    item.Price,
		Stock:        item.Stock,
		Quantity:     1,
		Discount:     seed.Amount,
		DiscountKind: seed.Kind,
	}
	s.lines = append(s.lines, line)
	s.version++
	return line, nil
}

// SetQuantity rejects values below one or above the line's stock bound.
func (s *Session) SetQuantity(index int, qty int) error {
	return s.UpdateLine(index, LineUpdate{Quantity: &qty})
}

// SetDiscount overrides the line's discount. A fixed amount above the unit
// price is accepted and shows up as a pricing flag.
func (s *Session) SetDiscount(index int, amount decimal.Decimal, kind domain.DiscountKind) error {
	return s.UpdateLine(index, LineUpdate{Discount: &amount, Kind: kind})
}

// LineUpdate holds optional changes to one line. A nil field or an empty
// Kind keeps the current value.
type LineUpdate struct {
	Quantity *int
	Discount *decimal.Decimal
	Kind     domain.DiscountKind
}

// UpdateLine checks every change in u against the line before applying any
// of them, so a rejected update leaves the line as it was.
func (s *Session) UpdateLine(index int, u LineUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := s.lineAt(index)
	if err != nil {
		return err
	}

	qty := line.Quantity
	if u.Quantity != nil {
		qty = *u.Quantity
		if qty < 1 {
			return &domain.ValidationError{Field: "quantity", Reason: "must be at least 1"}
		}
		if qty > line.Stock {
			return &domain.StockError{Shortfalls: []domain.Shortfall{{
				ItemID:    line.ItemID,
				Title:     line.Title,
				Requested: qty,
				Available: line.Stock,
			}}}
		}
	}

	discount := domain.Discount{Amount: line.Discount, Kind: line.DiscountKind}
	if u.Discount != nil {
		discount.Amount = *u.Discount
	}
	if u.Kind != "" {
		discount.Kind = u.Kind
	}
	if u.Discount != nil || u.Kind != "" {
		if err := discount.Validate(); err != nil {
			return err
		}
	}

	line.Quantity = qty
	line.Discount = discount.Amount
	line.DiscountKind = discount.Kind
	s.version++
	return nil
}

func (s *Session) RemoveLine(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lineAt(index); err != nil {
		return err
	}
	s.lines = append(s.lines[:index], s.lines[index+1:]...)
	s.version++
	return nil
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = s.lines[:0]
	s.version++
}

// ClearIfUnchanged empties the cart only if no mutation happened since the
// snapshot with the given version was taken.
func (s *Session) ClearIfUnchanged(version uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != version {
		return false
	}
	s.lines = s.lines[:0]
	s.version++
	return true
}

// BeginCheckout claims the cart for one checkout and returns its snapshot.
// A second claim fails until release is called, so one cart cannot be
// turned into two invoices by overlapping requests. Edits stay allowed
// while the claim is held.
func (s *Session) BeginCheckout() (Snapshot, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkingOut {
		return Snapshot{}, nil, &domain.ValidationError{Field: "cart", Reason: "a checkout is already in progress"}
	}
	s.checkingOut = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.checkingOut = false
			s.mu.Unlock()
		})
	}
	lines := s.copyLines()
	return Snapshot{Lines: lines, Totals: pricing.Compute(lines), Version: s.version}, release, nil
}

// RefreshStock updates each line's stock bound from a fresh catalog read.
// Quantities are left alone; the commit check reports any overflow.
func (s *Session) RefreshStock(items map[string]domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if item, ok := items[s.lines[i].ItemID]; ok {
			s.lines[i].Stock = item.Stock
		}
	}
}

func (s *Session) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.copyLines()
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lines)
}

// Totals is recomputed from the current lines on every call.
func (s *Session) Totals() pricing.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	return pricing.Compute(s.lines)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.copyLines()
	return Snapshot{
		Lines:   lines,
		Totals:  pricing.Compute(lines),
		Version: s.version,
	}
}

func (s *Session) indexOf(itemID string) int {
	for i, line := range s.lines {
		if line.ItemID == itemID {
			return i
		}
	}
	return -1
}

func (s *Session) lineAt(index int) (*domain.CartLine, error) {
	if index < 0 || index >= len(s.lines) {
		return nil, fmt.Errorf("cart line %d: %w", index, domain.ErrNotFound)
	}
	return &s.lines[index], nil
}

func (s *Session) copyLines() []domain.CartLine {
	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}
