package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tutorialhub/answerd/internal/answer"
	"github.com/tutorialhub/answerd/models"
)

// AnswerService is the slice of the pipeline the HTTP handlers need.
type AnswerService interface {
	Answer(ctx context.Context, req answer.Request) (models.AnswerResult, error)
	AnswerStream(ctx context.Context, req answer.Request) (<-chan answer.StreamEvent, error)
}

type AnswerHandler struct {
	Service AnswerService
	Secret  []byte
	Logger  *log.Logger
}

type answerRequest struct {
	Question string                    `json:"question"`
	History  []models.ConversationTurn `json:"conversation_history,omitempty"`
}

func (h *AnswerHandler) Register(g *echo.Group) {
	g.POST("/answer", h.answer)
	g.POST("/answer/stream", h.answerStream)
}

// answer serves the batch endpoint: one JSON request, one JSON reply with
// the full result.
func (h *AnswerHandler) answer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.Service.Answer(c.Request().Context(), answer.Request{
		Question:  req.Question,
		History:   req.History,
		ClientKey: clientKey(c, h.Secret),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// answerStream serves the SSE endpoint. Failures before generation starts
// become normal HTTP errors; once the stream is open, each pipeline frame is
// written as one SSE data line and flushed immediately.
func (h *AnswerHandler) answerStream(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	events, err := h.Service.AnswerStream(ctx, answer.Request{
		Question:  req.Question,
		History:   req.History,
		ClientKey: clientKey(c, h.Secret),
	})
	if err != nil {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	for {
		select {
		case ev, open := <-events:
			if !open {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.Logger.Printf("marshal stream event: %v", err)
				return nil
			}
			if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			// Client went away; the pipeline observes the same context and
			// stops producing.
			return nil
		}
	}
}
