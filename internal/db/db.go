package db

import (
	"context"
	"database/sql"
	"fmt"

	"rag-chat/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// Chunk is the row layout of the pgvector index.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`
	ID            string            `bun:"id,pk"`
	Content       string            `bun:"content,notnull"`
	Source        string            `bun:"source"`
	PageNumber    int               `bun:"page_number"`
	ChunkID       int               `bun:"chunk_id"`
	Metadata      map[string]string `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector   `bun:"embedding,type:vector,notnull"`
	Distance      float64           `bun:"distance,scanonly"`
}

// NewDB opens a bun handle over the pgdriver connector.
func NewDB(dsn string, debug bool) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Store is the pgvector backed chunk index.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// InitDB enables the vector extension and creates the chunks table.
func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	return nil
}

func (s *Store) AddChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d embeddings", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = Chunk{
			ID:         c.ID,
			Content:    c.Content,
			Source:     c.Source,
			PageNumber: c.PageNumber,
			ChunkID:    c.ChunkID,
			Metadata:   c.Metadata,
			Embedding:  pgvector.NewVector(vectors[i]),
		}
	}
	if _, err := s.insertQuery(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

func (s *Store) insertQuery(rows *[]Chunk) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(rows).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding")
}

// Query returns the k nearest chunks by cosine distance, best first.
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	var rows []Chunk
	if err := s.searchQuery(&rows, embedding, k).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	out := make([]models.ScoredChunk, len(rows))
	for i, r := range rows {
		out[i] = models.ScoredChunk{
			Chunk: models.Chunk{
				ID:         r.ID,
				Content:    r.Content,
				Source:     r.Source,
				PageNumber: r.PageNumber,
				ChunkID:    r.ChunkID,
				Metadata:   r.Metadata,
			},
			Score: float32(1 - r.Distance),
		}
	}
	return out, nil
}

func (s *Store) searchQuery(rows *[]Chunk, embedding []float32, k int) *bun.SelectQuery {
	vec := pgvector.NewVector(embedding)
	return s.db.NewSelect().
		Model(rows).
		Column("c.id", "c.content", "c.source", "c.page_number", "c.chunk_id", "c.metadata").
		ColumnExpr("c.embedding <=> ? AS distance", vec).
		OrderExpr("c.embedding <=> ?", vec).
		Limit(k)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*Chunk)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Reset empties the chunks table.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.NewTruncateTable().Model((*Chunk)(nil)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to truncate chunks: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
