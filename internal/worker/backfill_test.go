package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/tutorialhub/answerd/models"
)

type fakeChunkStore struct {
	chunks    []models.ContentChunk
	updated   map[string][]float32
	updateErr map[string]error
	listErr   error
	lastLimit int
}

func (f *fakeChunkStore) ChunksMissingEmbedding(ctx context.Context, limit int) ([]models.ContentChunk, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.chunks) > limit {
		return f.chunks[:limit], nil
	}
	return f.chunks, nil
}

func (f *fakeChunkStore) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	if err := f.updateErr[id]; err != nil {
		return err
	}
	if f.updated == nil {
		f.updated = map[string][]float32{}
	}
	f.updated[id] = embedding
	return nil
}

type fakeEmbedder struct {
	vec  []float32
	fail map[string]error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := f.fail[text]; err != nil {
		return nil, err
	}
	return f.vec, nil
}

func testBackfill(st *fakeChunkStore, emb *fakeEmbedder, batch int) *Backfill {
	return NewBackfill(st, emb, batch, log.New(io.Discard, "", 0))
}

func TestRunOnceEmbedsMissingChunks(t *testing.T) {
	st := &fakeChunkStore{chunks: []models.ContentChunk{
		{ID: "a", Content: "first chunk"},
		{ID: "b", Content: "second chunk"},
	}}
	emb := &fakeEmbedder{vec: []float32{0.1, 0.2}}

	done, err := testBackfill(st, emb, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done != 2 {
		t.Fatalf("done=%d, want 2", done)
	}
	if len(st.updated["a"]) != 2 || len(st.updated["b"]) != 2 {
		t.Fatalf("embeddings not stored: %+v", st.updated)
	}
}

func TestRunOnceRespectsBatchSize(t *testing.T) {
	st := &fakeChunkStore{chunks: []models.ContentChunk{
		{ID: "a", Content: "1"}, {ID: "b", Content: "2"}, {ID: "c", Content: "3"},
	}}
	emb := &fakeEmbedder{vec: []float32{0.1}}

	done, err := testBackfill(st, emb, 2).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if st.lastLimit != 2 || done != 2 {
		t.Fatalf("limit=%d done=%d, want 2/2", st.lastLimit, done)
	}
}

func TestRunOnceSkipsFailingChunk(t *testing.T) {
	st := &fakeChunkStore{chunks: []models.ContentChunk{
		{ID: "a", Content: "good"},
		{ID: "b", Content: "bad"},
		{ID: "c", Content: "also good"},
	}}
	emb := &fakeEmbedder{vec: []float32{0.1}, fail: map[string]error{"bad": errors.New("upstream 500")}}

	done, err := testBackfill(st, emb, 10).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("one bad chunk must not fail the batch: %v", err)
	}
	if done != 2 {
		t.Fatalf("done=%d, want 2", done)
	}
	if _, ok := st.updated["b"]; ok {
		t.Fatal("failed chunk must not be marked embedded")
	}
}

func TestRunOnceEmptyBacklog(t *testing.T) {
	done, err := testBackfill(&fakeChunkStore{}, &fakeEmbedder{vec: []float32{0.1}}, 10).RunOnce(context.Background())
	if err != nil || done != 0 {
		t.Fatalf("done=%d err=%v, want 0/nil", done, err)
	}
}

func TestStartRejectsInvalidCron(t *testing.T) {
	b := testBackfill(&fakeChunkStore{}, &fakeEmbedder{vec: []float32{0.1}}, 10)
	if err := b.Start("not a cron spec"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
