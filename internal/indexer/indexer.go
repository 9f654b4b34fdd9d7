package indexer

import (
	"context"
	"fmt"
	"time"

	"rag-chat/internal/metrics"
	"rag-chat/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

const DefaultBatchSize = 30

// Store receives embedded chunks. Inserts are append only.
type Store interface {
	AddChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error
}

// IndexingError reports the batch that failed. Batches before it stay in the
// store and remain queryable.
type IndexingError struct {
	Batch    int // 1-based
	Inserted int
	Err      error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing failed at batch %d after %d chunks: %v", e.Batch, e.Inserted, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

type Result struct {
	Chunks   int
	Batches  int
	Inserted int
}

type Indexer struct {
	embedder  embeddings.Embedder
	store     Store
	batchSize int
	pause     time.Duration
}

type Option func(*Indexer)

func WithBatchSize(n int) Option {
	return func(i *Indexer) {
		if n > 0 {
			i.batchSize = n
		}
	}
}

// WithBatchPause waits d between batches.
func WithBatchPause(d time.Duration) Option {
	return func(i *Indexer) { i.pause = d }
}

func New(embedder embeddings.Embedder, store Store, opts ...Option) *Indexer {
	i := &Indexer{
		embedder:  embedder,
		store:     store,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Build embeds chunks batch by batch and appends each batch to the store.
func (i *Indexer) Build(ctx context.Context, chunks []models.Chunk) (Result, error) {
	res := Result{Chunks: len(chunks)}
	total := (len(chunks) + i.batchSize - 1) / i.batchSize

	for start, batch := 0, 1; start < len(chunks); start, batch = start+i.batchSize, batch+1 {
		end := min(start+i.batchSize, len(chunks))
		part := chunks[start:end]

		if err := i.addBatch(ctx, part); err != nil {
			return res, &IndexingError{Batch: batch, Inserted: res.Inserted, Err: err}
		}
		res.Batches++
		res.Inserted += len(part)
		metrics.IndexedChunks.Add(float64(len(part)))
		log.Info().Msgf("Indexed batch %d/%d (%d/%d chunks)", batch, total, res.Inserted, res.Chunks)

		if i.pause > 0 && end < len(chunks) {
			select {
			case <-ctx.Done():
				return res, &IndexingError{Batch: batch + 1, Inserted: res.Inserted, Err: ctx.Err()}
			case <-time.After(i.pause):
			}
		}
	}
	return res, nil
}

func (i *Indexer) addBatch(ctx context.Context, part []models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	texts := make([]string, len(part))
	for j, c := range part {
		texts[j] = c.Content
	}
	vectors, err := i.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(part) {
		return fmt.Errorf("embedding: got %d vectors for %d chunks", len(vectors), len(part))
	}
	if err := i.store.AddChunks(ctx, part, vectors); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
