package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"maktabshop/backend/internal/cart"
	"maktabshop/backend/internal/domain"
	"maktabshop/backend/internal/invoicedoc"
	"maktabshop/backend/internal/metrics"
	"maktabshop/backend/internal/service"
	"maktabshop/backend/internal/store"
	"maktabshop/backend/internal/store/memory"
)

// newTestAPI builds a full API over an in-memory store and a real Service so
// handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithRepo(t, memory.New(), Options{AllowedOrigin: "*"})
}

func newTestAPIWithRepo(t *testing.T, repo store.Repository, opts Options) *API {
	t.Helper()

	log := zaptest.NewLogger(t)
	recorder := metrics.New()
	renderer := invoicedoc.NewRenderer(invoicedoc.Shop{Name: "Test Shop"})
	svc := service.New(repo, renderer, nil, recorder, log, service.Config{})
	if opts.Metrics == nil {
		opts.Metrics = recorder.Handler()
	}
	return New(svc, cart.NewSession(), log, opts)
}

type failingCommit struct {
	store.Repository
	commit func(ctx context.Context, inv domain.Invoice) (store.CommitResult, error)
}

func (f *failingCommit) CommitInvoice(ctx context.Context, inv domain.Invoice) (store.CommitResult, error) {
	return f.commit(ctx, inv)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload == nil {
		body = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func createTestItem(t *testing.T, handler http.Handler, title string, price string, stock int) domain.Item {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", map[string]any{
		"title": title,
		"price": price,
		"stock": stock,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	return decodeBody[domain.Item](t, rec)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if body["backend"] != "memory" {
		t.Fatalf("expected backend memory, got %v", body["backend"])
	}
}

func TestCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/categories", map[string]any{
		"name":          "Stationery",
		"discount":      "10",
		"discount_type": "percent",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create category: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	category := decodeBody[domain.Category](t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/items", map[string]any{
		"category_id": category.ID,
		"title":       "Premium Notebook",
		"price":       "1200",
		"stock":       5,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	notebook := decodeBody[domain.Item](t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/lines", map[string]any{"item_id": notebook.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/cart/lines/0", map[string]any{"quantity": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("update line: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	snap := decodeBody[cart.Snapshot](t, rec)
	if len(snap.Lines) != 1 || snap.Lines[0].Quantity != 2 {
		t.Fatalf("expected one line of 2, got %+v", snap.Lines)
	}
	if snap.Lines[0].DiscountKind != domain.DiscountPercent {
		t.Fatalf("expected category percent discount on the line, got %q", snap.Lines[0].DiscountKind)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout", map[string]any{
		"customer_name":    "Ahmed",
		"customer_contact": "0300 1234567",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	result := decodeBody[domain.CheckoutResult](t, rec)
	if got := result.Invoice.Total.String(); got != "2160" {
		t.Fatalf("expected total 2160, got %s", got)
	}
	if !result.Atomic {
		t.Fatalf("expected an atomic commit")
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/cart", nil)
	if snap := decodeBody[cart.Snapshot](t, rec); len(snap.Lines) != 0 {
		t.Fatalf("expected empty cart after checkout, got %d lines", len(snap.Lines))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/items/"+notebook.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get item: expected 200, got %d", rec.Code)
	}
	if item := decodeBody[service.CatalogItem](t, rec); item.Stock != 3 {
		t.Fatalf("expected stock 3 after checkout, got %d", item.Stock)
	}

	invoicePath := "/api/v1/invoices/" + result.Invoice.ID
	rec = doJSON(t, handler, http.MethodGet, invoicePath+"/print", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("print: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected text/html, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Premium Notebook") {
		t.Fatalf("expected item title in printed invoice")
	}

	rec = doJSON(t, handler, http.MethodGet, invoicePath+"/pdf", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pdf: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected a PDF document")
	}

	rec = doJSON(t, handler, http.MethodGet, invoicePath+"/share", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("share: expected 200, got %d", rec.Code)
	}
	if link := decodeBody[domain.ShareLink](t, rec); !strings.HasPrefix(link.URL, "https://wa.me/03001234567?text=") {
		t.Fatalf("unexpected share url %q", link.URL)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", rec.Code)
	}
	stats := decodeBody[domain.DashboardStats](t, rec)
	if len(stats.RecentInvoices) != 1 || stats.LowStockCount != 1 {
		t.Fatalf("unexpected dashboard %+v", stats)
	}
}

func TestCheckoutEmptyCartIsBadRequest(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/checkout", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCheckoutStaleStockIsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	pen := createTestItem(t, handler, "Ballpoint Pen", "45", 2)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/cart/lines", map[string]any{"item_id": pen.ID})
		if rec.Code != http.StatusOK {
			t.Fatalf("add line: expected 200, got %d", rec.Code)
		}
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items/"+pen.ID+"/stock-count", map[string]any{"counted": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("stock count: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/checkout", map[string]any{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	shortfalls, ok := body["shortfalls"].([]any)
	if !ok || len(shortfalls) != 1 {
		t.Fatalf("expected one shortfall, got %v", body["shortfalls"])
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/cart", nil)
	if snap := decodeBody[cart.Snapshot](t, rec); len(snap.Lines) != 1 || snap.Lines[0].Quantity != 2 {
		t.Fatalf("expected the cart to survive a rejected checkout, got %+v", snap.Lines)
	}
}

func TestUnknownItemIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/items/itm-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get item: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/invoices/inv-missing/print", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("print: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/cart/lines/3", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("remove line: expected 404, got %d", rec.Code)
	}
}

func TestCreateItemValidation(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "missing title", payload: `{"price":"10","stock":1}`},
		{name: "negative price", payload: `{"title":"Pen","price":"-1","stock":1}`},
		{name: "negative stock", payload: `{"title":"Pen","price":"1","stock":-4}`},
		{name: "unknown field", payload: `{"title":"Pen","price":"1","stock":1,"colour":"red"}`},
		{name: "malformed json", payload: `{"title":`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/items", strings.NewReader(tc.payload))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestInvalidLineIndexIsBadRequest(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPatch, "/api/v1/cart/lines/first", map[string]any{"quantity": 1})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCheckoutStorageFailureIsUnavailable(t *testing.T) {
	repo := &failingCommit{Repository: memory.New()}
	repo.commit = func(context.Context, domain.Invoice) (store.CommitResult, error) {
		return store.CommitResult{}, errors.New("dial tcp: connection refused")
	}
	api := newTestAPIWithRepo(t, repo, Options{AllowedOrigin: "*"})
	handler := api.Handler()
	pen := createTestItem(t, handler, "Ballpoint Pen", "45", 2)
	doJSON(t, handler, http.MethodPost, "/api/v1/cart/lines", map[string]any{"item_id": pen.ID})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", map[string]any{})

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("storage details leaked to client: %s", rec.Body.String())
	}
	if api.session.Len() != 1 {
		t.Fatalf("expected the cart to be kept after a storage failure")
	}
}

func TestCheckoutPartialCommitIsMultiStatus(t *testing.T) {
	repo := &failingCommit{Repository: memory.New()}
	repo.commit = func(_ context.Context, inv domain.Invoice) (store.CommitResult, error) {
		failure := domain.Warning{Code: domain.WarnDecrementFailed, ItemID: inv.Lines[0].ItemID, Message: "timeout"}
		return store.CommitResult{InvoiceID: inv.ID, Warnings: []domain.Warning{failure}},
			&domain.PartialCommitError{InvoiceID: inv.ID, Failures: []domain.Warning{failure}}
	}
	api := newTestAPIWithRepo(t, repo, Options{AllowedOrigin: "*"})
	handler := api.Handler()
	pen := createTestItem(t, handler, "Ballpoint Pen", "45", 2)
	doJSON(t, handler, http.MethodPost, "/api/v1/cart/lines", map[string]any{"item_id": pen.ID})

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/checkout", map[string]any{})

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["atomic"] != false {
		t.Fatalf("expected atomic false, got %v", body["atomic"])
	}
	if warnings, ok := body["warnings"].([]any); !ok || len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", body["warnings"])
	}
	if api.session.Len() != 0 {
		t.Fatalf("expected the cart to be cleared once the invoice is recorded")
	}
}

func TestMetricsEndpointCountsCheckouts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	doJSON(t, handler, http.MethodPost, "/api/v1/checkout", nil)

	rec := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := fmt.Sprintf(`outcome=%q`, "validation")
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("expected a validation checkout sample in metrics output")
	}
}
