package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/tutorialhub/answerd/models"
)

// Store persists content chunks in Postgres and runs pgvector similarity
// queries over them. The schema is owned by ingestion tooling and the
// migrate command; the store itself never creates it.
type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.DB.PingContext(ctx)
}

// SimilaritySearch returns the chunks most similar to the query embedding,
// ordered by similarity descending with id ascending as the tie-break.
// Only chunks with a stored embedding and similarity strictly above the
// threshold qualify; fewer than maxResults rows is a normal outcome.
func (s *Store) SimilaritySearch(ctx context.Context, queryEmbedding []float32, threshold float64, maxResults int) ([]models.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	vecLiteral, err := encodeVectorLiteral(queryEmbedding)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, metadata, created_at, updated_at,
       1 - (embedding <=> $1::vector) AS similarity
FROM content_chunks
WHERE embedding IS NOT NULL
  AND 1 - (embedding <=> $1::vector) > $2
ORDER BY similarity DESC, id ASC
LIMIT $3
`, vecLiteral, threshold, maxResults)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		var (
			chunk     models.ContentChunk
			metaBytes []byte
			sim       float64
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &metaBytes, &chunk.CreatedAt, &chunk.UpdatedAt, &sim); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &chunk.Metadata)
		}
		results = append(results, models.SearchResult{Chunk: chunk, Similarity: clampSimilarity(sim)})
	}
	return results, rows.Err()
}

// ChunksMissingEmbedding returns up to limit chunks whose embedding has not
// been computed yet, oldest first. Used by the backfill worker.
func (s *Store) ChunksMissingEmbedding(ctx context.Context, limit int) ([]models.ContentChunk, error) {
	if limit <= 0 {
		limit = 32
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, metadata, created_at, updated_at
FROM content_chunks
WHERE embedding IS NULL
ORDER BY created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.ContentChunk
	for rows.Next() {
		var (
			chunk     models.ContentChunk
			metaBytes []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &metaBytes, &chunk.CreatedAt, &chunk.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &chunk.Metadata)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// UpdateEmbedding stores a freshly computed embedding for a chunk.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	vecLiteral, err := encodeVectorLiteral(embedding)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE content_chunks SET embedding = $1::vector, updated_at = NOW() WHERE id = $2
`, vecLiteral, id)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("chunk %s not found", id)
	}
	return nil
}

// CountEmbedded reports how many chunks carry an embedding, used to decide
// whether the deployment can serve the vector path at all.
func (s *Store) CountEmbedded(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_chunks WHERE embedding IS NOT NULL`).Scan(&n)
	return n, err
}

// AllChunks streams every chunk without its embedding column, for building
// the lexical index.
func (s *Store) AllChunks(ctx context.Context) ([]models.ContentChunk, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, content, metadata, created_at, updated_at FROM content_chunks
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.ContentChunk
	for rows.Next() {
		var (
			chunk     models.ContentChunk
			metaBytes []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &metaBytes, &chunk.CreatedAt, &chunk.UpdatedAt); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &chunk.Metadata)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// InsertFeedback stores one feedback row. Callers treat failures as
// best-effort.
func (s *Store) InsertFeedback(ctx context.Context, fb models.Feedback) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO answer_feedback (id, query, was_helpful, rating, comment, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())
`, fb.ID, fb.Query, fb.WasHelpful, nullableInt(fb.Rating), nullableString(fb.Comment))
	return err
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func clampSimilarity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
