package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"maktabshop/backend/internal/domain"
)

func TestOutcome(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "committed", err: nil, want: OutcomeCommitted},
		{name: "partial", err: &domain.PartialCommitError{InvoiceID: "inv_1"}, want: OutcomePartial},
		{name: "stock", err: &domain.StockError{}, want: OutcomeInsufficientStock},
		{name: "validation", err: &domain.ValidationError{Field: "items", Reason: "empty"}, want: OutcomeValidation},
		{name: "not_found", err: fmt.Errorf("item x: %w", domain.ErrNotFound), want: OutcomeNotFound},
		{name: "persistence", err: &domain.PersistenceError{Backend: "sqlite", Op: "commit", Err: errors.New("disk I/O error")}, want: OutcomePersistence},
		{name: "unknown", err: errors.New("boom"), want: OutcomeUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Outcome(tc.err); got != tc.want {
				t.Fatalf("expected outcome %q, got %q", tc.want, got)
			}
		})
	}
}

func TestObserveCheckoutCountsFallbackAndWarnings(t *testing.T) {
	r := New()
	warnings := []domain.Warning{
		{Code: domain.WarnNonAtomicDecrement, ItemID: "item_1"},
		{Code: domain.WarnStockOverdrawn, ItemID: "item_1"},
	}

	r.ObserveCheckout("redis", time.Now(), false, warnings, nil)
	r.ObserveCheckout("redis", time.Now(), true, nil, nil)
	r.ObserveCheckout("redis", time.Now(), false, nil, &domain.StockError{})

	if got := testutil.ToFloat64(r.checkouts.WithLabelValues("redis", OutcomeCommitted)); got != 2 {
		t.Fatalf("expected 2 committed checkouts, got %v", got)
	}
	if got := testutil.ToFloat64(r.stockFallbacks); got != 1 {
		t.Fatalf("expected 1 fallback, got %v", got)
	}
	if got := testutil.ToFloat64(r.stockWarnings.WithLabelValues(string(domain.WarnStockOverdrawn))); got != 1 {
		t.Fatalf("expected 1 overdrawn warning, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveCheckout("memory", time.Now(), true, nil, nil)
}

func TestHandlerExposesCheckoutMetrics(t *testing.T) {
	r := New()
	r.ObserveCheckout("memory", time.Now(), true, nil, nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `maktab_checkout_total{backend="memory",outcome="committed"} 1`) {
		t.Fatalf("checkout counter missing from exposition:\n%s", rec.Body.String())
	}
}
