// Package metrics exposes checkout and stock health signals for Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maktabshop/backend/internal/domain"
)

const (
	OutcomeCommitted         = "committed"
	OutcomePartial           = "partial"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeValidation        = "validation"
	OutcomeNotFound          = "not_found"
	OutcomePersistence       = "persistence"
	OutcomeUnknown           = "unknown"
)

type Recorder struct {
	registry         *prometheus.Registry
	checkouts        *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	stockFallbacks   prometheus.Counter
	stockWarnings    *prometheus.CounterVec
}

// New registers the collectors on a private registry so tests and multiple
// servers in one process do not collide.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maktab_checkout_total",
			Help: "Checkouts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		checkoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maktab_checkout_duration_seconds",
			Help:    "Time spent committing an invoice.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		stockFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maktab_stock_fallback_total",
			Help: "Invoices committed without an atomic stock update.",
		}),
		stockWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maktab_stock_warnings_total",
			Help: "Stock warnings raised during checkout, by code.",
		}, []string{"code"}),
	}
	registry.MustRegister(
		r.checkouts,
		r.checkoutDuration,
		r.stockFallbacks,
		r.stockWarnings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveCheckout records one checkout attempt. A nil Recorder is a no-op.
func (r *Recorder) ObserveCheckout(backend string, started time.Time, atomic bool, warnings []domain.Warning, err error) {
	if r == nil {
		return
	}
	r.checkouts.WithLabelValues(backend, Outcome(err)).Inc()
	r.checkoutDuration.WithLabelValues(backend).Observe(time.Since(started).Seconds())

	var partial *domain.PartialCommitError
	committed := err == nil || errors.As(err, &partial)
	if committed && !atomic {
		r.stockFallbacks.Inc()
	}
	for _, w := range warnings {
		r.stockWarnings.WithLabelValues(string(w.Code)).Inc()
	}
}

// Outcome classifies a checkout error into a low-cardinality label.
func Outcome(err error) string {
	var partial *domain.PartialCommitError
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.As(err, &partial):
		return OutcomePartial
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrStockExhausted):
		return OutcomeInsufficientStock
	case errors.Is(err, domain.ErrValidation):
		return OutcomeValidation
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrPersistence):
		return OutcomePersistence
	default:
		return OutcomeUnknown
	}
}
