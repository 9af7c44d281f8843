package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/tutorialhub/answerd/models"
)

// chunkStore is the slice of the vector store the backfill needs.
type chunkStore interface {
	ChunksMissingEmbedding(ctx context.Context, limit int) ([]models.ContentChunk, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backfill embeds content chunks that were ingested without a vector, so
// they become searchable. Chunks are processed oldest first in bounded
// batches; a chunk that fails to embed is skipped and retried on the next
// run.
type Backfill struct {
	Store     chunkStore
	Embedder  embedder
	BatchSize int
	Logger    *log.Logger

	stop chan struct{}
}

func NewBackfill(store chunkStore, emb embedder, batchSize int, logger *log.Logger) *Backfill {
	if batchSize <= 0 {
		batchSize = 32
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[BACKFILL] ", log.LstdFlags)
	}
	return &Backfill{Store: store, Embedder: emb, BatchSize: batchSize, Logger: logger, stop: make(chan struct{})}
}

// RunOnce processes a single batch and reports how many chunks were embedded.
func (b *Backfill) RunOnce(ctx context.Context) (int, error) {
	chunks, err := b.Store.ChunksMissingEmbedding(ctx, b.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("listing chunks without embeddings: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	done := 0
	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return done, ctx.Err()
		default:
		}
		vec, err := b.Embedder.Embed(ctx, chunk.Content)
		if err != nil {
			b.Logger.Printf("embed chunk %s failed, will retry next run: %v", chunk.ID, err)
			continue
		}
		if err := b.Store.UpdateEmbedding(ctx, chunk.ID, vec); err != nil {
			b.Logger.Printf("store embedding for chunk %s failed: %v", chunk.ID, err)
			continue
		}
		done++
	}
	b.Logger.Printf("backfilled %d/%d chunks", done, len(chunks))
	return done, nil
}

// Start runs the backfill on the given cron schedule until Stop is called.
func (b *Backfill) Start(cronSpec string) error {
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return fmt.Errorf("invalid backfill schedule %q: %w", cronSpec, err)
	}
	go func() {
		for {
			next := expr.Next(time.Now())
			if next.IsZero() {
				return
			}
			select {
			case <-b.stop:
				return
			case <-time.After(time.Until(next)):
				if _, err := b.RunOnce(context.Background()); err != nil {
					b.Logger.Printf("backfill run failed: %v", err)
				}
			}
		}
	}()
	return nil
}

func (b *Backfill) Stop() {
	close(b.stop)
}
