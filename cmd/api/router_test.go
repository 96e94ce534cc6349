package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendinghub/internal/catalog"
	"lendinghub/internal/circulation"
	"lendinghub/internal/membership"
	"lendinghub/internal/platform/config"
	"lendinghub/internal/storage/memory"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.RateLimit.RequestsPerSecond = 100
	cfg.RateLimit.Burst = 100
	return cfg
}

func testRouter(t *testing.T, cfg *config.Config, ready func(context.Context) error) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memoryStorage(memory.NewStore())
	if ready == nil {
		ready = store.ping
	}
	svc := services{
		catalog:    catalog.NewService(store.books, logger),
		membership: membership.NewService(store.users, logger),
		circulation: circulation.NewService(store.books, store.users, store.loans, store.journal,
			circulation.NewRules(circulation.DefaultPolicy()), logger),
		ready: ready,
	}
	return newRouter(svc, cfg, logger)
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	h := testRouter(t, testConfig(), nil)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/readyz", "").Code)

	down := testRouter(t, testConfig(), func(context.Context) error { return errors.New("db down") })
	assert.Equal(t, http.StatusServiceUnavailable, serve(down, http.MethodGet, "/readyz", "").Code)
}

func TestRouterMountsAllContexts(t *testing.T) {
	h := testRouter(t, testConfig(), nil)

	rec := serve(h, http.MethodPost, "/books",
		`{"isbn":"978-0-14-143951-8","title":"Pride and Prejudice","author":"Jane Austen","total_copies":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/users", "").Code)
	assert.Equal(t, http.StatusNotFound,
		serve(h, http.MethodGet, "/loans/8d3f6f9e-1c3b-4f55-9d59-1f2a3b4c5d6e", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := testRouter(t, testConfig(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/books", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.Burst = 1
	h := testRouter(t, cfg, nil)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/books", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "/books", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz", "").Code)
}
