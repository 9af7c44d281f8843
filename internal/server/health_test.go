package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/tutorialhub/answerd/internal/cache"
)

type stubPinger struct{ err error }

func (s *stubPinger) Ping(ctx context.Context) error { return s.err }

type stubEmbedder struct{}

func (stubEmbedder) Dimensions() int { return 512 }

func getHealth(h *HealthHandler) *httptest.ResponseRecorder {
	e := echo.New()
	h.Register(e.Group("/api"))
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthAllDependenciesUp(t *testing.T) {
	h := &HealthHandler{
		Store:    &stubPinger{},
		Cache:    cache.New(nil, log.New(io.Discard, "", 0)),
		Embedder: stubEmbedder{},
	}
	rec := getHealth(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status %q", resp.Status)
	}
	for _, name := range []string{"embedding_provider", "generation_provider", "vector_store", "cache"} {
		if resp.Services[name] != "ok" {
			t.Fatalf("service %s: %q", name, resp.Services[name])
		}
	}
}

func TestHealthStoreDown(t *testing.T) {
	h := &HealthHandler{
		Store:    &stubPinger{err: errors.New("connection refused")},
		Cache:    cache.New(nil, log.New(io.Discard, "", 0)),
		Embedder: stubEmbedder{},
	}
	rec := getHealth(h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Services["vector_store"] != "unavailable" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHealthMissingProviderIsNotConfigured(t *testing.T) {
	h := &HealthHandler{
		Store: &stubPinger{},
		Cache: cache.New(nil, log.New(io.Discard, "", 0)),
	}
	rec := getHealth(h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Services["embedding_provider"] != "not_configured" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
