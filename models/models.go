package models

import (
	"time"
)

// ContentChunk is the unit of retrieval: a bounded passage of indexed
// documentation plus its metadata. Chunks are created by an external
// ingestion job; the embedding may be NULL until the backfill worker
// computes it.
type ContentChunk struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ChunkMetadata describes where a chunk came from and how much we trust it.
type ChunkMetadata struct {
	Title        string   `json:"title"`
	URL          string   `json:"url"`
	Category     string   `json:"category"`
	Source       string   `json:"source"`
	QualityScore float64  `json:"quality_score"`
	Tags         []string `json:"tags"`
	Author       string   `json:"author,omitempty"`
	Date         string   `json:"date,omitempty"`
}

// SearchResult is a chunk plus its similarity to the query embedding.
// Similarity is 1 - cosine distance, clamped to [0,1]. Ephemeral, never
// persisted.
type SearchResult struct {
	Chunk      ContentChunk `json:"chunk"`
	Similarity float64      `json:"similarity"`
}

// Source is a citation surfaced with an answer, derived from retrieved
// chunk metadata rather than from model output.
type Source struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// AnswerResult is the final payload for one answered question.
type AnswerResult struct {
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	RelatedQuestions []string `json:"related_questions"`
	ResponseTimeMs   int64    `json:"response_time_ms"`
}

// ConversationTurn is one prior exchange supplied by the client for
// conversational continuity.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Feedback records whether an answer helped. Persistence is best-effort;
// failures are logged, never surfaced to the caller.
type Feedback struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	WasHelpful bool      `json:"was_helpful"`
	Rating     int       `json:"rating,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
