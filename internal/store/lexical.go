package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/tutorialhub/answerd/models"
)

// LexicalIndex is the non-vector retrieval path: an in-memory full-text index over
// chunk titles and bodies. It only serves deployments where embeddings are
// entirely absent (diagnostic/degraded mode), so it is built lazily from a
// full table scan and lives for the process lifetime.
type LexicalIndex struct {
	store *Store

	mu     sync.Mutex
	index  bleve.Index
	chunks map[string]models.ContentChunk
}

type lexicalDoc struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NewLexicalIndex wraps a store with a lazily built bleve index.
func NewLexicalIndex(s *Store) *LexicalIndex {
	return &LexicalIndex{store: s}
}

func (l *LexicalIndex) ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index != nil {
		return nil
	}
	chunks, err := l.store.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("load chunks for lexical index: %w", err)
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	byID := make(map[string]models.ContentChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
		if err := index.Index(c.ID, lexicalDoc{Title: c.Metadata.Title, Content: c.Content}); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	l.index = index
	l.chunks = byID
	return nil
}

// Search runs a full-text match over the indexed chunks. Scores from bleve
// are not cosine similarities; they are normalized against the top hit so
// callers still see a descending [0,1] ranking.
func (l *LexicalIndex) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if err := l.ensure(ctx); err != nil {
		return nil, err
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, maxResults, 0, false)
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	results := []models.SearchResult{}
	var top float64
	if len(res.Hits) > 0 {
		top = res.Hits[0].Score
	}
	for _, hit := range res.Hits {
		chunk, ok := l.chunks[hit.ID]
		if !ok {
			continue
		}
		score := 0.0
		if top > 0 {
			score = hit.Score / top
		}
		results = append(results, models.SearchResult{Chunk: chunk, Similarity: clampSimilarity(score)})
	}
	return results, nil
}
