package answer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tutorialhub/answerd/internal/cache"
	"github.com/tutorialhub/answerd/internal/telemetry"
	"github.com/tutorialhub/answerd/models"
)

// StreamEvent is one frame of a streamed answer. Partial frames carry the
// text accumulated so far; exactly one terminal frame follows them, either
// a complete frame (IsComplete set, sources and related questions attached)
// or an error frame.
type StreamEvent struct {
	Type             string          `json:"type"`
	Answer           string          `json:"answer,omitempty"`
	IsComplete       bool            `json:"is_complete"`
	Sources          []models.Source `json:"sources,omitempty"`
	RelatedQuestions []string        `json:"related_questions,omitempty"`
	ResponseTimeMs   int64           `json:"response_time_ms,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Stream event types.
const (
	EventPartial  = "partial"
	EventComplete = "complete"
	EventError    = "error"
)

// AnswerStream runs the pipeline in streaming mode. Failures before
// generation starts (validation, rate limiting, retrieval) are returned as
// an error with a nil channel so the HTTP layer can reply with a proper
// status. Once the channel is live, failures arrive as an error frame and
// the channel closes after the terminal frame. Cancelling ctx stops the
// producer.
func (s *Service) AnswerStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	started := time.Now()

	if err := validateQuestion(req.Question); err != nil {
		return nil, err
	}

	if result, ok := s.fastPath.TryAnswer(req.Question); ok {
		s.metrics.ObserveAnswer(telemetry.OutcomeFastPath, time.Since(started), len(result.Sources))
		return s.singleFrameStream(result, started), nil
	}

	if err := s.checkLimit(ctx, req.ClientKey); err != nil {
		s.metrics.ObserveRateLimitReject()
		s.metrics.ObserveAnswer(telemetry.OutcomeRateLimit, time.Since(started), 0)
		return nil, err
	}

	// A cached batch answer short-circuits streaming too; it is replayed as
	// one complete frame.
	cacheable := len(req.History) == 0
	if cacheable {
		if cached, ok := s.cachedAnswer(ctx, req.Question); ok {
			s.metrics.ObserveCache("answer", "hit")
			s.metrics.ObserveAnswer(telemetry.OutcomeFull, time.Since(started), len(cached.Sources))
			return s.singleFrameStream(cached, started), nil
		}
		s.metrics.ObserveCache("answer", "miss")
	}

	results, err := s.Retrieve(ctx, req.Question, s.opts.MaxSources)
	if err != nil {
		s.metrics.ObserveAnswer(telemetry.OutcomeError, time.Since(started), 0)
		return nil, err
	}

	if len(results) == 0 {
		s.metrics.ObserveAnswer(telemetry.OutcomeNoResults, time.Since(started), 0)
		return s.singleFrameStream(noInfoResult(), started), nil
	}

	events := make(chan StreamEvent, 16)
	go s.streamGeneration(ctx, req, results, events, started)
	return events, nil
}

func (s *Service) cachedAnswer(ctx context.Context, question string) (models.AnswerResult, bool) {
	res := s.cache.Get(ctx, cache.GenerateKey("answer", question))
	if !res.Found {
		return models.AnswerResult{}, false
	}
	var cached models.AnswerResult
	if err := json.Unmarshal(res.Value, &cached); err != nil {
		return models.AnswerResult{}, false
	}
	return cached, true
}

// singleFrameStream wraps an already-complete result in a one-frame stream.
func (s *Service) singleFrameStream(result models.AnswerResult, started time.Time) <-chan StreamEvent {
	events := make(chan StreamEvent, 1)
	events <- StreamEvent{
		Type:             EventComplete,
		Answer:           result.Answer,
		IsComplete:       true,
		Sources:          result.Sources,
		RelatedQuestions: result.RelatedQuestions,
		ResponseTimeMs:   time.Since(started).Milliseconds(),
	}
	close(events)
	return events
}

// streamGeneration drives the model's delta stream and translates it into
// answer frames. Partial frames carry the full text so far, so a client
// that drops a frame still renders correctly from the next one.
func (s *Service) streamGeneration(ctx context.Context, req Request, results []models.SearchResult, events chan<- StreamEvent, started time.Time) {
	defer close(events)

	genCtx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	deltas, errs := s.llm.CompleteStream(genCtx, buildMessages(req.Question, results, req.History, false))

	var full string
	for deltas != nil || errs != nil {
		select {
		case delta, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			full += delta
			select {
			case events <- StreamEvent{Type: EventPartial, Answer: full}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				s.logger.Printf("streaming synthesis failed: %v", err)
				s.metrics.ObserveAnswer(telemetry.OutcomeError, time.Since(started), 0)
				events <- StreamEvent{Type: EventError, Error: "answer generation failed"}
				return
			}
		case <-ctx.Done():
			return
		}
	}

	result := models.AnswerResult{
		Answer:           full,
		Sources:          sourcesFromResults(results),
		RelatedQuestions: staticRelatedQuestions,
		ResponseTimeMs:   time.Since(started).Milliseconds(),
	}

	if len(req.History) == 0 {
		s.storeAnswer(ctx, req.Question, result)
	}

	s.metrics.ObserveAnswer(telemetry.OutcomeFull, time.Since(started), len(result.Sources))
	events <- StreamEvent{
		Type:             EventComplete,
		Answer:           result.Answer,
		IsComplete:       true,
		Sources:          result.Sources,
		RelatedQuestions: result.RelatedQuestions,
		ResponseTimeMs:   result.ResponseTimeMs,
	}
}

func (s *Service) storeAnswer(ctx context.Context, question string, result models.AnswerResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	s.cache.Set(ctx, cache.GenerateKey("answer", question), payload, s.opts.CacheTTL)
}
