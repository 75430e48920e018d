package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStockExhausted    = errors.New("stock exhausted")
	ErrPersistence       = errors.New("persistence failure")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type Shortfall struct {
	ItemID    string `json:"item_id"`
	Title     string `json:"title"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockError lists every line whose requested quantity exceeds the stock
// available when the check ran.
type StockError struct {
	Shortfalls []Shortfall
}

func (e *StockError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		name := s.Title
		if name == "" {
			name = s.ItemID
		}
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", name, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// PersistenceError wraps a backend failure. It matches both ErrPersistence
// and the underlying cause.
type PersistenceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// PartialCommitError means the invoice was stored but some stock decrements
// were not applied. The inventory needs manual reconciliation.
type PartialCommitError struct {
	InvoiceID string
	Failures  []Warning
}

func (e *PartialCommitError) Error() string {
	items := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		items = append(items, f.ItemID)
	}
	return fmt.Sprintf("invoice %s recorded but stock decrement failed for %s", e.InvoiceID, strings.Join(items, ", "))
}

// WrapPersistence returns err unchanged when it already carries a domain
// meaning, otherwise wraps it in a PersistenceError.
func WrapPersistence(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var partial *PartialCommitError
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrPersistence),
		errors.As(err, &partial):
		return err
	}
	return &PersistenceError{Backend: backend, Op: op, Err: err}
}
