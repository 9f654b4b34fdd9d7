package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"rag-chat/internal/helper"
	"rag-chat/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

var errNoEmbedding = errors.New("chromemdb: embeddings must be computed by the caller")

// chunks are always inserted and queried with precomputed vectors
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

// VectorDBManager holds one in-memory chromem collection and can export it
// to, or import it from, a cache file.
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	compress       bool
	encryptionKey  string
}

type Option func(*VectorDBManager)

// WithCompression gzips exported cache files.
func WithCompression(compress bool) Option {
	return func(m *VectorDBManager) { m.compress = compress }
}

// WithEncryptionKey encrypts exported cache files with AES-GCM. The key must
// be 32 bytes.
func WithEncryptionKey(key string) Option {
	return func(m *VectorDBManager) { m.encryptionKey = key }
}

// NewVectorDBManager initializes an in-memory database with an empty collection.
func NewVectorDBManager(collectionName string, opts ...Option) (*VectorDBManager, error) {
	m := &VectorDBManager{
		db:             chromem.NewDB(),
		collectionName: collectionName,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.encryptionKey != "" && len(m.encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(m.encryptionKey))
	}
	if _, err := m.GetOrCreateCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection() (*chromem.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) current() *chromem.Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection
}

// AddChunks stores chunks with their precomputed embeddings.
func (m *VectorDBManager) AddChunks(ctx context.Context, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks but %d embeddings", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]string, len(c.Metadata)+3)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta[models.MetaSource] = c.Source
		meta[models.MetaPage] = strconv.Itoa(c.PageNumber)
		meta[models.MetaChunkID] = strconv.Itoa(c.ChunkID)
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  meta,
			Embedding: vectors[i],
		}
	}
	if err := m.current().AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Query returns the min(k, Count) chunks most similar to embedding, best first.
func (m *VectorDBManager) Query(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding is empty")
	}
	c := m.current()
	n := min(k, c.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := c.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	out := make([]models.ScoredChunk, len(results))
	for i, r := range results {
		out[i] = models.ScoredChunk{Chunk: toChunk(r), Score: r.Similarity}
	}
	return out, nil
}

func toChunk(r chromem.Result) models.Chunk {
	page, _ := strconv.Atoi(r.Metadata[models.MetaPage])
	chunkID, _ := strconv.Atoi(r.Metadata[models.MetaChunkID])
	return models.Chunk{
		ID:         r.ID,
		Content:    r.Content,
		Source:     r.Metadata[models.MetaSource],
		PageNumber: page,
		ChunkID:    chunkID,
		Metadata:   r.Metadata,
	}
}

func (m *VectorDBManager) Count(context.Context) (int, error) {
	return m.current().Count(), nil
}

// Reset drops the collection and starts an empty one.
func (m *VectorDBManager) Reset(context.Context) error {
	if err := m.DeleteCollection(); err != nil {
		return err
	}
	_, err := m.GetOrCreateCollection()
	return err
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// CacheFile is the export file name for a fingerprint.
func (m *VectorDBManager) CacheFile(dir, fingerprint string) string {
	name := m.collectionName + "-" + fingerprint + ".gob"
	if m.compress {
		name += ".gz"
	}
	if m.encryptionKey != "" {
		name += ".enc"
	}
	return filepath.Join(dir, name)
}

// export to file
func (m *VectorDBManager) Export(path string) error {
	log.Debug().Str("collection", m.collectionName).Str("file", path).Bool("compress", m.compress).Msg("Exporting collection")
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return err
	}
	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(path string) error {
	log.Debug().Str("collection", m.collectionName).Str("file", path).Msg("Importing collection")
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.ImportFromFile(path, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.collectionName, noEmbed)
	if c == nil {
		return fmt.Errorf("collection %s not found in %s", m.collectionName, path)
	}
	m.collection = c
	return nil
}

// LoadCache imports the cache file for fingerprint from dir. It reports false
// when no such file exists.
func (m *VectorDBManager) LoadCache(_ context.Context, dir, fingerprint string) (bool, error) {
	path := m.CacheFile(dir, fingerprint)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := m.Import(path); err != nil {
		return false, err
	}
	return true, nil
}

// SaveCache exports the collection under the fingerprint's file name in dir.
func (m *VectorDBManager) SaveCache(_ context.Context, dir, fingerprint string) error {
	return m.Export(m.CacheFile(dir, fingerprint))
}
