package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rag-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn int // 1-based call that fails, 0 never
	short  bool
}

func (e *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls == e.failOn {
		return nil, errors.New("quota exceeded")
	}
	n := len(texts)
	if e.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{1, float32(i)}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type memStore struct {
	chunks []models.Chunk
}

func (s *memStore) AddChunks(_ context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("mismatch")
	}
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func makeChunks(n int) []models.Chunk {
	out := make([]models.Chunk, n)
	for i := range out {
		out[i] = models.Chunk{ID: fmt.Sprint(i), Content: fmt.Sprintf("chunk %d", i)}
	}
	return out
}

func TestBuildBatches(t *testing.T) {
	emb := &countingEmbedder{}
	store := &memStore{}
	idx := New(emb, store, WithBatchSize(30))

	res, err := idx.Build(context.Background(), makeChunks(75))
	require.NoError(t, err)
	assert.Equal(t, Result{Chunks: 75, Batches: 3, Inserted: 75}, res)
	assert.Equal(t, 3, emb.calls)
	require.Len(t, store.chunks, 75)
	assert.Equal(t, "74", store.chunks[74].ID)
}

func TestBuildPartialFailure(t *testing.T) {
	emb := &countingEmbedder{failOn: 2}
	store := &memStore{}
	idx := New(emb, store, WithBatchSize(10))

	res, err := idx.Build(context.Background(), makeChunks(35))
	require.Error(t, err)

	var ie *IndexingError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Batch)
	assert.Equal(t, 10, ie.Inserted)
	assert.Equal(t, 10, res.Inserted)
	assert.Len(t, store.chunks, 10, "earlier batches stay in the store")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestBuildVectorCountMismatch(t *testing.T) {
	idx := New(&countingEmbedder{short: true}, &memStore{}, WithBatchSize(5))
	_, err := idx.Build(context.Background(), makeChunks(5))

	var ie *IndexingError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Batch)
}

func TestBuildEmpty(t *testing.T) {
	res, err := New(&countingEmbedder{}, &memStore{}).Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Batches)
}

func TestBuildCancelledDuringPause(t *testing.T) {
	store := &memStore{}
	idx := New(&countingEmbedder{}, store, WithBatchSize(1), WithBatchPause(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := idx.Build(ctx, makeChunks(3))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Inserted)
	assert.Len(t, store.chunks, 1)
}
