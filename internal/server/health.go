package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tutorialhub/answerd/internal/cache"
)

// storePinger is the reachability probe of the vector store.
type storePinger interface {
	Ping(ctx context.Context) error
}

// embeddingInfo is what health reporting needs to know about the embedding
// provider without calling it.
type embeddingInfo interface {
	Dimensions() int
}

type HealthHandler struct {
	Store    storePinger
	Cache    *cache.Service
	Embedder embeddingInfo
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
	Errors   []string          `json:"errors"`
}

func (h *HealthHandler) Register(g *echo.Group) {
	g.GET("/health", h.health)
}

// health reports per-dependency status. The vector store is actively pinged;
// providers are reported as configured since probing them costs tokens. 200
// when everything essential is up, 503 otherwise.
func (h *HealthHandler) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	services := map[string]string{
		"embedding_provider":  "ok",
		"generation_provider": "ok",
		"vector_store":        "ok",
		"cache":               "ok",
	}
	errs := []string{}

	if h.Store == nil {
		services["vector_store"] = "not_configured"
		errs = append(errs, "vector store not configured")
	} else if err := h.Store.Ping(ctx); err != nil {
		services["vector_store"] = "unavailable"
		errs = append(errs, "vector store unreachable")
	}

	if h.Embedder == nil {
		services["embedding_provider"] = "not_configured"
		services["generation_provider"] = "not_configured"
		errs = append(errs, "model provider not configured")
	}

	// A degraded cache does not fail health; the service keeps answering
	// from process memory.
	if h.Cache != nil && h.Cache.Degraded() {
		services["cache"] = "degraded"
	}

	resp := healthResponse{Status: "ok", Services: services, Errors: errs}
	code := http.StatusOK
	if len(errs) > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
