package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pricescout/internal/pkg/metrics"
	"pricescout/internal/query"
	"pricescout/internal/tracker"

	"github.com/gin-gonic/gin"
)

type mockSearcher struct {
	err      error
	gotQuery string
	calls    int
}

func (m *mockSearcher) EnqueueSearch(ctx context.Context, searchQuery string) error {
	m.calls++
	m.gotQuery = searchQuery
	return m.err
}

type mockCatalog struct {
	current       []query.ProductView
	allTimeLow    []query.ProductView
	opportunities []query.Opportunity
	categories    []string
	err           error
	gotCategory   string
}

func (m *mockCatalog) CurrentSnapshot(ctx context.Context, categoryFilter string) ([]query.ProductView, error) {
	m.gotCategory = categoryFilter
	return m.current, m.err
}

func (m *mockCatalog) AllTimeLowSnapshot(ctx context.Context) ([]query.ProductView, error) {
	return m.allTimeLow, m.err
}

func (m *mockCatalog) FindOpportunities(ctx context.Context) ([]query.Opportunity, error) {
	return m.opportunities, m.err
}

func (m *mockCatalog) ListCategories(ctx context.Context) ([]string, error) {
	return m.categories, m.err
}

func newTestServer(t *testing.T, searcher Searcher, catalog Catalog) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	s := &Server{
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		router:   gin.New(),
		searcher: searcher,
		catalog:  catalog,
	}
	s.registerRoutes()
	return s
}

func doRequest(s *Server, method, target string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestCreateSearch_Accepted(t *testing.T) {
	searcher := &mockSearcher{}
	s := newTestServer(t, searcher, &mockCatalog{})

	w := doRequest(s, http.MethodPost, "/search", `{"query":"laptop asus"}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if searcher.gotQuery != "laptop asus" {
		t.Fatalf("unexpected query passed through: %q", searcher.gotQuery)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp["status"] != "accepted" {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestCreateSearch_TrimsQuery(t *testing.T) {
	searcher := &mockSearcher{}
	s := newTestServer(t, searcher, &mockCatalog{})

	w := doRequest(s, http.MethodPost, "/search", `{"query":"  laptop  "}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if searcher.gotQuery != "laptop" {
		t.Fatalf("query must be trimmed, got %q", searcher.gotQuery)
	}
}

func TestCreateSearch_BlankQuery(t *testing.T) {
	searcher := &mockSearcher{}
	s := newTestServer(t, searcher, &mockCatalog{})

	for _, body := range []string{`{"query":"   "}`, `{}`, `not json`} {
		w := doRequest(s, http.MethodPost, "/search", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
	if searcher.calls != 0 {
		t.Fatalf("invalid request must not reach the service")
	}
}

func TestCreateSearch_Duplicate(t *testing.T) {
	searcher := &mockSearcher{err: tracker.ErrDuplicateSearch}
	s := newTestServer(t, searcher, &mockCatalog{})

	w := doRequest(s, http.MethodPost, "/search", `{"query":"laptop"}`)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestCreateSearch_QueueFull(t *testing.T) {
	searcher := &mockSearcher{err: tracker.ErrQueueFull}
	s := newTestServer(t, searcher, &mockCatalog{})

	w := doRequest(s, http.MethodPost, "/search", `{"query":"laptop"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestCurrentProducts_CategoryFilter(t *testing.T) {
	catalog := &mockCatalog{current: []query.ProductView{
		{Name: "Laptop ASUS X515", Category: "Laptop", Price: 2499},
	}}
	s := newTestServer(t, &mockSearcher{}, catalog)

	w := doRequest(s, http.MethodGet, "/products/current?category=Laptop", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if catalog.gotCategory != "Laptop" {
		t.Fatalf("category filter not forwarded, got %q", catalog.gotCategory)
	}
	if !strings.Contains(w.Body.String(), "Laptop ASUS X515") {
		t.Fatalf("product missing from response: %s", w.Body.String())
	}
}

func TestProducts_EmptyDatabaseRendersEmptyArray(t *testing.T) {
	s := newTestServer(t, &mockSearcher{}, &mockCatalog{})

	for _, target := range []string{"/products", "/products/current", "/opportunities", "/categories"} {
		w := doRequest(s, http.MethodGet, target, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, w.Code)
		}
		if strings.Contains(w.Body.String(), "null") {
			t.Fatalf("%s: empty result must render as [], got %s", target, w.Body.String())
		}
	}
}

func TestOpportunities(t *testing.T) {
	catalog := &mockCatalog{opportunities: []query.Opportunity{
		{Name: "Monitor Dell 27", Kind: query.KindAllTimeLow, CurrentPrice: 799, LowestPrice: 799, AveragePrice: 920},
	}}
	s := newTestServer(t, &mockSearcher{}, catalog)

	w := doRequest(s, http.MethodGet, "/opportunities", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Count         int                 `json:"count"`
		Opportunities []query.Opportunity `json:"opportunities"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Count != 1 || resp.Opportunities[0].Kind != query.KindAllTimeLow {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCategories(t *testing.T) {
	catalog := &mockCatalog{categories: []string{"Laptop", "Monitor", "Uncategorized"}}
	s := newTestServer(t, &mockSearcher{}, catalog)

	w := doRequest(s, http.MethodGet, "/categories", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Count      int      `json:"count"`
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Count != 3 || resp.Categories[0] != "Laptop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
