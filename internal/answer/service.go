package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tutorialhub/answerd/internal/cache"
	"github.com/tutorialhub/answerd/internal/ratelimit"
	"github.com/tutorialhub/answerd/internal/telemetry"
	"github.com/tutorialhub/answerd/models"
	"github.com/tutorialhub/answerd/provider"
)

// maxQuestionChars is the request-size cap on incoming questions.
const maxQuestionChars = 500

// snippetChars is how much chunk content rides along as a citation snippet.
const snippetChars = 200

// Per-phase timeouts. Each external call is bounded; a timeout is treated
// exactly like the corresponding dependency failure.
const (
	embedTimeout     = 10 * time.Second
	searchTimeout    = 5 * time.Second
	synthesisTimeout = 60 * time.Second
)

const noInfoAnswer = "I couldn't find any information about that in the documentation. Try rephrasing your question, or browse the tutorial sections directly."

var staticRelatedQuestions = []string{
	"What is Cursor?",
	"How do I install Cursor?",
	"What can I do with Cursor's AI chat?",
}

// ChunkSearcher is the slice of the vector store the pipeline needs.
type ChunkSearcher interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, threshold float64, maxResults int) ([]models.SearchResult, error)
}

// LexicalSearcher is the retrieval path for deployments whose chunks carry
// no embeddings at all. It never substitutes for a failing vector path.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

// Options tunes the pipeline.
type Options struct {
	SimilarityThreshold float64
	MaxSources          int
	CacheTTL            time.Duration
}

// Request is one question moving through the pipeline.
type Request struct {
	Question  string
	History   []models.ConversationTurn
	ClientKey string
}

// Service runs the retrieval-augmented answer pipeline: fast path, rate
// limit, retrieval, synthesis. One instance per process; safe for
// concurrent use.
type Service struct {
	embedder provider.EmbeddingProvider
	llm      provider.LLMProvider
	searcher ChunkSearcher
	lexical  LexicalSearcher
	cache    *cache.Service
	limiter  *ratelimit.Limiter
	fastPath *FastPath
	metrics  *telemetry.Metrics
	logger   *log.Logger
	opts     Options
}

// NewService wires the pipeline together.
func NewService(embedder provider.EmbeddingProvider, llm provider.LLMProvider, searcher ChunkSearcher, cacheSvc *cache.Service, limiter *ratelimit.Limiter, metrics *telemetry.Metrics, logger *log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[ANSWER] ", log.LstdFlags)
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.3
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = 5
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Service{
		embedder: embedder,
		llm:      llm,
		searcher: searcher,
		cache:    cacheSvc,
		limiter:  limiter,
		fastPath: NewFastPath(),
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
	}
}

// WithLexicalRetrieval switches the service to full-text retrieval, for
// deployments where no chunk has an embedding yet. In this mode the
// embedding provider and the vector store are never consulted; in every
// other deployment the vector path is authoritative and its failures
// propagate to the caller. Returns the service for chaining at the call
// site.
func (s *Service) WithLexicalRetrieval(lex LexicalSearcher) *Service {
	s.lexical = lex
	return s
}

func validateQuestion(q string) error {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return &ValidationError{Reason: "question is required"}
	}
	if utf8.RuneCountInString(trimmed) > maxQuestionChars {
		return &ValidationError{Reason: fmt.Sprintf("question must be %d characters or fewer", maxQuestionChars)}
	}
	return nil
}

// Retrieve runs the configured retrieval path. An empty result set is a
// legitimate "no relevant content" outcome, not an error; dependency
// failures propagate to the caller rather than turning into answers.
func (s *Service) Retrieve(ctx context.Context, question string, maxSources int) ([]models.SearchResult, error) {
	started := time.Now()
	defer func() { s.metrics.ObserveRetrieval(time.Since(started)) }()

	if s.lexical != nil {
		lexCtx, cancel := context.WithTimeout(ctx, searchTimeout)
		defer cancel()
		results, err := s.lexical.Search(lexCtx, question, maxSources)
		if err != nil {
			return nil, &StoreError{Err: err}
		}
		return results, nil
	}

	vec, err := s.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	results, err := s.searcher.SimilaritySearch(searchCtx, vec, s.opts.SimilarityThreshold, maxSources)
	if err != nil {
		return nil, &StoreError{Err: err}
	}
	return results, nil
}

// embedQuestion returns the question embedding, consulting the cache first.
func (s *Service) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	key := cache.EmbeddingKey(question, s.embedder.Dimensions())
	if res := s.cache.Get(ctx, key); res.Found {
		var vec []float32
		if err := json.Unmarshal(res.Value, &vec); err == nil && len(vec) == s.embedder.Dimensions() {
			s.metrics.ObserveCache("embedding", "hit")
			return vec, nil
		}
	}
	s.metrics.ObserveCache("embedding", "miss")

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()
	vec, err := s.embedder.Embed(embedCtx, question)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if payload, err := json.Marshal(vec); err == nil {
		s.cache.Set(ctx, key, payload, s.opts.CacheTTL)
	}
	return vec, nil
}

// Answer runs the full batch pipeline for one question.
func (s *Service) Answer(ctx context.Context, req Request) (models.AnswerResult, error) {
	started := time.Now()

	if err := validateQuestion(req.Question); err != nil {
		return models.AnswerResult{}, err
	}

	if result, ok := s.fastPath.TryAnswer(req.Question); ok {
		result.ResponseTimeMs = time.Since(started).Milliseconds()
		s.metrics.ObserveAnswer(telemetry.OutcomeFastPath, time.Since(started), len(result.Sources))
		return result, nil
	}

	if err := s.checkLimit(ctx, req.ClientKey); err != nil {
		s.metrics.ObserveRateLimitReject()
		s.metrics.ObserveAnswer(telemetry.OutcomeRateLimit, time.Since(started), 0)
		return models.AnswerResult{}, err
	}

	// Answers are cached only for history-free questions; prior turns
	// change what a correct answer looks like.
	cacheable := len(req.History) == 0
	answerKey := cache.GenerateKey("answer", req.Question)
	if cacheable {
		if res := s.cache.Get(ctx, answerKey); res.Found {
			var cached models.AnswerResult
			if err := json.Unmarshal(res.Value, &cached); err == nil {
				s.metrics.ObserveCache("answer", "hit")
				cached.ResponseTimeMs = time.Since(started).Milliseconds()
				s.metrics.ObserveAnswer(telemetry.OutcomeFull, time.Since(started), len(cached.Sources))
				return cached, nil
			}
		}
		s.metrics.ObserveCache("answer", "miss")
	}

	results, err := s.Retrieve(ctx, req.Question, s.opts.MaxSources)
	if err != nil {
		s.metrics.ObserveAnswer(telemetry.OutcomeError, time.Since(started), 0)
		return models.AnswerResult{}, err
	}

	if len(results) == 0 {
		result := noInfoResult()
		result.ResponseTimeMs = time.Since(started).Milliseconds()
		s.metrics.ObserveAnswer(telemetry.OutcomeNoResults, time.Since(started), 0)
		return result, nil
	}

	text, related, err := s.generate(ctx, req.Question, results, req.History)
	if err != nil {
		s.metrics.ObserveAnswer(telemetry.OutcomeError, time.Since(started), 0)
		return models.AnswerResult{}, err
	}

	result := models.AnswerResult{
		Answer:           text,
		Sources:          sourcesFromResults(results),
		RelatedQuestions: related,
		ResponseTimeMs:   time.Since(started).Milliseconds(),
	}

	if cacheable {
		if payload, err := json.Marshal(result); err == nil {
			s.cache.Set(ctx, answerKey, payload, s.opts.CacheTTL)
		}
	}

	s.metrics.ObserveAnswer(telemetry.OutcomeFull, time.Since(started), len(result.Sources))
	return result, nil
}

func (s *Service) checkLimit(ctx context.Context, clientKey string) error {
	if s.limiter == nil || clientKey == "" {
		return nil
	}
	decision := s.limiter.Check(ctx, clientKey)
	if decision.Degraded {
		s.logger.Printf("rate limit decision for %s made via degraded cache", clientKey)
	}
	if !decision.Allowed {
		return &RateLimitError{Remaining: decision.Remaining, ResetTime: decision.ResetTime}
	}
	return nil
}

// generate calls the model in batch mode and parses the structured
// answer/related-questions payload, falling back to raw text with the
// static related set when the model ignores the format.
func (s *Service) generate(ctx context.Context, question string, results []models.SearchResult, history []models.ConversationTurn) (string, []string, error) {
	genCtx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	out, err := s.llm.Complete(genCtx, buildMessages(question, results, history, true))
	if err != nil {
		return "", nil, &SynthesisError{Err: err}
	}

	var parsed struct {
		Answer           string   `json:"answer"`
		RelatedQuestions []string `json:"related_questions"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil || parsed.Answer == "" {
		return out, staticRelatedQuestions, nil
	}
	related := parsed.RelatedQuestions
	if len(related) == 0 {
		related = staticRelatedQuestions
	} else if len(related) > 3 {
		related = related[:3]
	}
	return parsed.Answer, related, nil
}

func noInfoResult() models.AnswerResult {
	return models.AnswerResult{
		Answer:           noInfoAnswer,
		Sources:          []models.Source{},
		RelatedQuestions: staticRelatedQuestions,
	}
}

// sourcesFromResults derives citations straight from the retrieved chunks,
// never from model output, so they are always grounded in actually-retrieved
// content.
func sourcesFromResults(results []models.SearchResult) []models.Source {
	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		snippet := r.Chunk.Content
		if utf8.RuneCountInString(snippet) > snippetChars {
			snippet = string([]rune(snippet)[:snippetChars]) + "..."
		}
		sources = append(sources, models.Source{
			Title:     r.Chunk.Metadata.Title,
			URL:       r.Chunk.Metadata.URL,
			Snippet:   snippet,
			Relevance: math.Round(r.Similarity*100) / 100,
		})
	}
	return sources
}
