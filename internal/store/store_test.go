package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/tutorialhub/answerd/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func TestEncodeVectorLiteral(t *testing.T) {
	got, err := encodeVectorLiteral([]float32{0.5, -1, 0.25})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got != "[0.5,-1,0.25]" {
		t.Fatalf("literal %q", got)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatal("empty vector must be rejected")
	}
}

func TestSimilaritySearchScansResults(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "content", "metadata", "created_at", "updated_at", "similarity"}).
		AddRow("chunk-1", "Tab accepts the suggestion.", []byte(`{"title":"Tab completion","url":"/features/tab"}`), now, now, 0.92).
		AddRow("chunk-2", "Open chat with Cmd+L.", []byte(`{"title":"AI chat","url":"/features/chat"}`), now, now, 0.85)

	mock.ExpectQuery(regexp.QuoteMeta("1 - (embedding <=> $1::vector) AS similarity")).
		WithArgs("[0.1,0.2]", 0.3, 5).
		WillReturnRows(rows)

	results, err := st.SimilaritySearch(context.Background(), []float32{0.1, 0.2}, 0.3, 5)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Chunk.Metadata.Title != "Tab completion" || results[0].Similarity != 0.92 {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSimilaritySearchEmptyIsNotError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("1 - (embedding <=> $1::vector) AS similarity")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "metadata", "created_at", "updated_at", "similarity"}))

	results, err := st.SimilaritySearch(context.Background(), []float32{0.1}, 0.3, 5)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", results)
	}
}

func TestSimilaritySearchClampsOutOfRangeScores(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "content", "metadata", "created_at", "updated_at", "similarity"}).
		AddRow("a", "c", []byte(`{}`), now, now, 1.3).
		AddRow("b", "c", []byte(`{}`), now, now, -0.2)
	mock.ExpectQuery(regexp.QuoteMeta("AS similarity")).WillReturnRows(rows)

	results, err := st.SimilaritySearch(context.Background(), []float32{0.1}, 0.3, 5)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if results[0].Similarity != 1 || results[1].Similarity != 0 {
		t.Fatalf("scores not clamped: %v %v", results[0].Similarity, results[1].Similarity)
	}
}

func TestChunksMissingEmbeddingOldestFirst(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "content", "metadata", "created_at", "updated_at"}).
		AddRow("old", "first", []byte(`{}`), now.Add(-time.Hour), now).
		AddRow("new", "second", []byte(`{}`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE embedding IS NULL")).
		WithArgs(10).
		WillReturnRows(rows)

	chunks, err := st.ChunksMissingEmbedding(context.Background(), 10)
	if err != nil {
		t.Fatalf("ChunksMissingEmbedding: %v", err)
	}
	if len(chunks) != 2 || chunks[0].ID != "old" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestUpdateEmbedding(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_chunks SET embedding = $1::vector")).
		WithArgs("[0.5]", "chunk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := st.UpdateEmbedding(context.Background(), "chunk-1", []float32{0.5}); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE content_chunks SET embedding = $1::vector")).
		WithArgs("[0.5]", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := st.UpdateEmbedding(context.Background(), "missing", []float32{0.5}); err == nil {
		t.Fatal("expected error for unknown chunk id")
	}
}

func TestCountEmbedded(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM content_chunks WHERE embedding IS NOT NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := st.CountEmbedded(context.Background())
	if err != nil {
		t.Fatalf("CountEmbedded: %v", err)
	}
	if n != 7 {
		t.Fatalf("count = %d, want 7", n)
	}
}

func TestInsertFeedbackNullsOptionalFields(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO answer_feedback")).
		WithArgs("fb-1", "how do I install", true, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := st.InsertFeedback(context.Background(), models.Feedback{
		ID:         "fb-1",
		Query:      "how do I install",
		WasHelpful: true,
	})
	if err != nil {
		t.Fatalf("InsertFeedback: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
