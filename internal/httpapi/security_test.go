package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"maktabshop/backend/internal/store/memory"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestPreflightReturnsNoContent(t *testing.T) {
	api := newTestAPIWithRepo(t, memory.New(), Options{AllowedOrigin: "http://till.local"})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart/lines/0", nil)
	req.Header.Set("Origin", "http://till.local")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "http://till.local" {
		t.Fatalf("expected configured origin, got %q", got)
	}
	if got := res.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") || !strings.Contains(got, "DELETE") {
		t.Fatalf("expected PATCH and DELETE to be allowed, got %q", got)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"title":"%s","price":"1","stock":1}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/items", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestBodyLimitAppliesWithoutJSONContentType(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"title":"%s","price":"1","stock":1}`, veryLong)

	for _, contentType := range []string{"", "text/plain"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/items", strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if res.Code != http.StatusBadRequest {
			t.Fatalf("content type %q: expected 400 for too large body, got %d", contentType, res.Code)
		}
	}

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/items", nil)
	if items := decodeBody[[]map[string]any](t, rec); len(items) != 0 {
		t.Fatalf("expected no item to be created, got %d", len(items))
	}
}

func TestAPIRateLimitReturns429(t *testing.T) {
	api := newTestAPIWithRepo(t, memory.New(), Options{AllowedOrigin: "*", RateLimitPerMinute: 5})
	handler := api.Handler()

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusOK {
			t.Fatalf("attempt %d expected 200 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}

	// Another client keeps its own budget.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.RemoteAddr = "10.0.0.7:5000"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for a different client, got %d", res.Code)
	}
}

func TestHealthIsNotRateLimited(t *testing.T) {
	api := newTestAPIWithRepo(t, memory.New(), Options{AllowedOrigin: "*", RateLimitPerMinute: 1})
	handler := api.Handler()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("attempt %d expected 200, got %d", i+1, res.Code)
		}
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{remote: "127.0.0.1:5000", want: "127.0.0.1"},
		{remote: "[::1]:8080", want: "::1"},
		{remote: "", want: "unknown"},
		{remote: "till-3", want: "till-3"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if got := clientKey(req); got != tc.want {
			t.Fatalf("clientKey(%q) = %q, want %q", tc.remote, got, tc.want)
		}
	}
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json error, got %q", ct)
	}
}
