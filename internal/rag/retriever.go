package rag

import (
	"context"
	"fmt"

	"rag-chat/internal/models"

	"github.com/tmc/langchaingo/embeddings"
)

const DefaultK = 4

// Index is a queryable vector index.
type Index interface {
	Query(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
}

type Retriever struct {
	embedder embeddings.Embedder
	index    Index
	k        int
}

func NewRetriever(embedder embeddings.Embedder, index Index, k int) *Retriever {
	if k <= 0 {
		k = DefaultK
	}
	return &Retriever{embedder: embedder, index: index, k: k}
}

// Retrieve returns at most k chunks ranked by similarity to query. k <= 0
// uses the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = r.k
	}
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	res, err := r.index.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	if len(res) > k {
		res = res[:k]
	}
	return res, nil
}
