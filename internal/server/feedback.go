package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tutorialhub/answerd/models"
)

type feedbackStore interface {
	InsertFeedback(ctx context.Context, fb models.Feedback) error
}

type FeedbackHandler struct {
	Store  feedbackStore
	Logger *log.Logger
}

type feedbackRequest struct {
	Query      string `json:"query"`
	WasHelpful bool   `json:"was_helpful"`
	Rating     int    `json:"rating,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

func (h *FeedbackHandler) Register(g *echo.Group) {
	g.POST("/feedback", h.submit)
}

// submit records answer feedback. Persistence failures are logged and
// swallowed; the endpoint always acknowledges.
func (h *FeedbackHandler) submit(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.Rating != 0 && (req.Rating < 1 || req.Rating > 5) {
		return echo.NewHTTPError(http.StatusBadRequest, "rating must be between 1 and 5")
	}

	fb := models.Feedback{
		ID:         uuid.NewString(),
		Query:      req.Query,
		WasHelpful: req.WasHelpful,
		Rating:     req.Rating,
		Comment:    req.Comment,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.InsertFeedback(c.Request().Context(), fb); err != nil {
		h.Logger.Printf("feedback insert failed: %v", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
