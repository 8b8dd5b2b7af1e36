package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"audimeta/internal/ratelimit"
	"audimeta/pkg/cache"
	"audimeta/pkg/catalog"
	"audimeta/pkg/domain"
	"audimeta/pkg/store"
	"audimeta/services/api/internal/app"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testASIN = "B08G9PRS1K"

type stubAPI struct {
	err error
}

func (s stubAPI) Product(_ context.Context, asin string, region domain.Region) (catalog.Product, error) {
	if s.err != nil {
		return catalog.Product{}, s.err
	}
	if asin != testASIN {
		return catalog.Product{}, domain.NotFoundf("product %s not found in %s", asin, region.Code)
	}
	return catalog.Product{ASIN: asin, Title: "Project Hail Mary", Authors: []catalog.Person{{Name: "Andy Weir"}}}, nil
}

func (s stubAPI) Chapters(_ context.Context, asin string, region domain.Region) (catalog.ChapterInfo, error) {
	if asin != testASIN {
		return catalog.ChapterInfo{}, domain.NotFoundf("chapters %s not found in %s", asin, region.Code)
	}
	return catalog.ChapterInfo{RuntimeLengthMs: 2000, Chapters: []catalog.ChapterEntry{{Title: "1", LengthMs: 2000}}}, nil
}

func (s stubAPI) Author(_ context.Context, asin string, region domain.Region) (catalog.Contributor, error) {
	return catalog.Contributor{}, domain.NotFoundf("author %s not found in %s", asin, region.Code)
}

type testEnv struct {
	srv   *httptest.Server
	redis *miniredis.Miniredis
	store *store.MemoryStore
}

func newTestEnv(t *testing.T, api app.CatalogAPI, limit int) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	memStore := store.NewMemoryStore()
	core, err := app.New(app.Config{
		Store: memStore,
		Cache: cache.NewRedisCacheFromClient(client, time.Second),
		API:   api,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{
		App: core,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "audimeta_cache_requests_total 1\n")
		}),
	}
	if limit > 0 {
		cfg.Limiter, err = ratelimit.NewFixedWindowLimiter(client, "test", limit, time.Minute)
		if err != nil {
			t.Fatalf("new limiter: %v", err)
		}
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, redis: mr, store: memStore}
}

func (e *testEnv) do(t *testing.T, method, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var out errorBody
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return out
}

func TestShowBook(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 0)
	resp, body := env.do(t, http.MethodGet, "/books/"+testASIN+"?seedAuthors=0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var book domain.Book
	if err := json.Unmarshal(body, &book); err != nil {
		t.Fatalf("decode book: %v", err)
	}
	if book.Title != "Project Hail Mary" || book.Region != "us" {
		t.Fatalf("unexpected book: %+v", book)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers")
	}
}

func TestShowErrorStatuses(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 0)
	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/books/short", http.StatusBadRequest, "bad_request"},
		{"/books/" + testASIN + "?region=zz", http.StatusBadRequest, "bad_request"},
		{"/books/" + testASIN + "?update=maybe", http.StatusBadRequest, "bad_request"},
		{"/books/B000000000", http.StatusNotFound, "not_found"},
		{"/authors/B000000000", http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		resp, body := env.do(t, http.MethodGet, tc.path)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.path, resp.StatusCode, tc.status)
		}
		eb := decodeError(t, body)
		if eb.Code != tc.code || eb.Error == "" {
			t.Fatalf("%s: error body = %+v", tc.path, eb)
		}
		if eb.RequestID != resp.Header.Get("X-Request-Id") {
			t.Fatalf("%s: requestId %q does not match header", tc.path, eb.RequestID)
		}
	}
}

func TestShowUpstreamFailureIs500(t *testing.T) {
	env := newTestEnv(t, stubAPI{err: errors.New("dial tcp: connection refused")}, 0)
	resp, body := env.do(t, http.MethodGet, "/books/"+testASIN)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if eb := decodeError(t, body); eb.Error != "internal error" {
		t.Fatalf("internal detail leaked: %+v", eb)
	}
}

func TestChaptersAndDelete(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 0)
	resp, body := env.do(t, http.MethodGet, "/books/"+testASIN+"/chapters")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chapters status = %d, body %s", resp.StatusCode, body)
	}
	var set domain.ChapterSet
	if err := json.Unmarshal(body, &set); err != nil || len(set.Chapters) != 1 || set.Chapters[0].Title != "Chapter 1" {
		t.Fatalf("chapters = %+v, %v", set, err)
	}
	if !env.redis.Exists(cache.Key("us", domain.KindChapter, testASIN)) {
		t.Fatalf("expected cache entry")
	}

	resp, _ = env.do(t, http.MethodDelete, "/books/"+testASIN+"/chapters")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if env.redis.Exists(cache.Key("us", domain.KindChapter, testASIN)) {
		t.Fatalf("cache entry must be removed")
	}
	resp, _ = env.do(t, http.MethodDelete, "/books/"+testASIN+"/chapters")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d", resp.StatusCode)
	}
}

func TestSearchAuthors(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 0)
	_ = env.store.Authors().Insert(context.Background(), domain.Author{ASIN: "B00G0WYW92", Region: "us", Name: "Andy Weir"})

	resp, body := env.do(t, http.MethodGet, "/authors?name=weir")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var authors []domain.Author
	if err := json.Unmarshal(body, &authors); err != nil || len(authors) != 1 {
		t.Fatalf("authors = %+v, %v", authors, err)
	}

	_, body = env.do(t, http.MethodGet, "/authors?name=nobody")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("empty search body = %s", body)
	}
	if resp, _ := env.do(t, http.MethodGet, "/authors?name=w"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short name status = %d", resp.StatusCode)
	}
}

func TestHealthDegradesWithCache(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 0)
	if resp, _ := env.do(t, http.MethodGet, "/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	env.redis.Close()
	resp, body := env.do(t, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("degraded health status = %d", resp.StatusCode)
	}
	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if out.Status != "degraded" || out.Checks["database"] != "ok" {
		t.Fatalf("health = %+v", out)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 1)
	resp1, _ := env.do(t, http.MethodGet, "/books/"+testASIN+"?seedAuthors=false")
	if resp1.StatusCode != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", resp1.StatusCode)
	}
	resp2, body := env.do(t, http.MethodGet, "/books/"+testASIN+"?seedAuthors=false")
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp2.StatusCode)
	}
	if resp2.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if eb := decodeError(t, body); eb.Code != "rate_limited" {
		t.Fatalf("error body = %+v", eb)
	}
	if resp, _ := env.do(t, http.MethodGet, "/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("health must not be rate limited, got %d", resp.StatusCode)
	}
}

func TestRateLimiterOutageFailsOpen(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 1)
	env.redis.Close()
	for range 3 {
		resp, body := env.do(t, http.MethodGet, "/books/B000000000")
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, body %s", resp.StatusCode, body)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, stubAPI{}, 0)
	resp, body := env.do(t, http.MethodGet, "/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "audimeta_cache_requests_total") {
		t.Fatalf("metrics = %d %s", resp.StatusCode, body)
	}
}

func TestNewRequiresApp(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without app")
	}
}
