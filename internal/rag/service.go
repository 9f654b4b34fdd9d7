package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rag-chat/internal/indexer"
	"rag-chat/internal/metrics"
	"rag-chat/internal/models"
	"rag-chat/internal/parser"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

type State string

const (
	StateNotReady State = "NOT_READY"
	StateBuilding State = "BUILDING"
	StateReady    State = "READY"
	StateFailed   State = "FAILED"
)

var allStates = []string{string(StateNotReady), string(StateBuilding), string(StateReady), string(StateFailed)}

// Status is a snapshot of the service readiness. Reason holds the raw error
// text and is never sent to clients.
type Status struct {
	State     State  `json:"state"`
	Partial   bool   `json:"partial"`
	Chunks    int    `json:"chunks"`
	ErrorKind string `json:"error_kind,omitempty"`
	Reason    string `json:"-"`
}

// Store is a vector index the service can fill and query.
type Store interface {
	indexer.Store
	Index
	Reset(ctx context.Context) error
}

// Cache persists a built index between runs, keyed by Fingerprint.
type Cache interface {
	LoadCache(ctx context.Context, dir, fingerprint string) (bool, error)
	SaveCache(ctx context.Context, dir, fingerprint string) error
}

type Config struct {
	KnowledgePath  string
	ChunkParams    parser.ChunkParams
	K              int
	EmbeddingModel string
	BatchSize      int
	BatchPause     time.Duration
	CacheDir       string
}

type ServiceOption func(*Service)

// WithCache reuses an exported index when the fingerprint matches.
func WithCache(c Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// Service owns the knowledge index lifecycle and answers questions once the
// index is ready. READY is terminal.
type Service struct {
	cfg       Config
	store     Store
	cache     Cache
	indexer   *indexer.Indexer
	retriever *Retriever
	synth     *Synthesizer

	mu     sync.RWMutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(cfg Config, embedder embeddings.Embedder, store Store, synth *Synthesizer, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:       cfg,
		store:     store,
		indexer:   indexer.New(embedder, store, indexer.WithBatchSize(cfg.BatchSize), indexer.WithBatchPause(cfg.BatchPause)),
		retriever: NewRetriever(embedder, store, cfg.K),
		synth:     synth,
		status:    Status{State: StateNotReady},
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.SetState(string(StateNotReady), allStates)
	return s
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State == StateReady {
		return
	}
	s.status = st
	metrics.SetState(string(st.State), allStates)
}

// begin moves to BUILDING unless a build is running or already succeeded.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State == StateReady || s.status.State == StateBuilding {
		return false
	}
	s.status = Status{State: StateBuilding}
	metrics.SetState(string(StateBuilding), allStates)
	return true
}

func (s *Service) fail(state State, kind string, err error) error {
	log.Error().Err(err).Str("kind", kind).Str("state", string(state)).Msg("Knowledge index unavailable")
	s.setStatus(Status{State: state, ErrorKind: kind, Reason: err.Error()})
	return err
}

func (s *Service) ready(chunks int, partial bool, kind string, reason string) {
	metrics.IndexedChunks.Set(float64(chunks))
	s.setStatus(Status{State: StateReady, Chunks: chunks, Partial: partial, ErrorKind: kind, Reason: reason})
	log.Info().Int("chunks", chunks).Bool("partial", partial).Msg("Knowledge index ready")
}

// Start builds the index in the background. Later calls are no-ops.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.Build(ctx); err != nil {
			log.Warn().Err(err).Msg("Background index build finished with error")
		}
	}()
}

// Close cancels a running build and waits for it.
func (s *Service) Close() {
	s.mu.RLock()
	cancel, done := s.cancel, s.done
	s.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Build loads, chunks and indexes the knowledge source. A failure after at
// least one stored batch still makes the service READY, flagged partial, and
// the IndexingError is returned.
func (s *Service) Build(ctx context.Context) error {
	if !s.begin() {
		return nil
	}
	start := time.Now()
	log.Info().Str("path", s.cfg.KnowledgePath).Msg("Building knowledge index")

	docs, err := parser.Load(s.cfg.KnowledgePath)
	if err != nil {
		var nf *parser.NotFoundError
		if errors.As(err, &nf) {
			return s.fail(StateNotReady, "not_found", err)
		}
		return s.fail(StateFailed, "load", err)
	}
	chunks, err := parser.Split(docs, s.cfg.ChunkParams)
	if err != nil {
		return s.fail(StateFailed, "chunk", err)
	}
	if len(chunks) == 0 {
		return s.fail(StateFailed, "empty", fmt.Errorf("knowledge source %s has no content", s.cfg.KnowledgePath))
	}
	log.Info().Int("documents", len(docs)).Int("chunks", len(chunks)).Msg("Knowledge split into chunks")

	fingerprint := s.loadCache(ctx)
	if s.Status().State == StateReady {
		return nil
	}

	if err := s.store.Reset(ctx); err != nil {
		return s.fail(StateFailed, "store", err)
	}
	metrics.IndexedChunks.Set(0)

	res, err := s.indexer.Build(ctx, chunks)
	if err != nil {
		var ie *indexer.IndexingError
		if errors.As(err, &ie) && res.Inserted > 0 && ctx.Err() == nil {
			log.Error().Err(err).Msg("Knowledge index built partially")
			s.ready(res.Inserted, true, "indexing", err.Error())
			return err
		}
		return s.fail(StateFailed, "indexing", err)
	}
	s.ready(res.Inserted, false, "", "")
	log.Info().Dur("took", time.Since(start)).Msg("Knowledge index built")

	if fingerprint != "" {
		if err := s.cache.SaveCache(ctx, s.cfg.CacheDir, fingerprint); err != nil {
			log.Warn().Err(err).Msg("Failed to save index cache")
		}
	}
	return nil
}

// loadCache marks the service ready from a matching cache file and returns
// the fingerprint to save under after a fresh build.
func (s *Service) loadCache(ctx context.Context) string {
	if s.cache == nil || s.cfg.CacheDir == "" {
		return ""
	}
	fp, err := Fingerprint(s.cfg.KnowledgePath, s.cfg.ChunkParams, s.cfg.EmbeddingModel)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fingerprint knowledge source")
		return ""
	}
	hit, err := s.cache.LoadCache(ctx, s.cfg.CacheDir, fp)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load index cache, rebuilding")
		return fp
	}
	if !hit {
		return fp
	}
	n, err := s.store.Count(ctx)
	if err != nil || n == 0 {
		log.Warn().Err(err).Msg("Index cache is empty, rebuilding")
		return fp
	}
	log.Info().Str("fingerprint", fp).Msg("Loaded knowledge index from cache")
	s.ready(n, false, "", "")
	return fp
}

// Ask answers question from the indexed knowledge.
func (s *Service) Ask(ctx context.Context, question string) (models.PromptResponse, error) {
	if s.Status().State != StateReady {
		return models.PromptResponse{}, ErrNotReady
	}
	q := strings.TrimSpace(question)
	if q == "" {
		return models.PromptResponse{}, ErrEmptyQuestion
	}

	chunks, err := s.retriever.Retrieve(ctx, q, s.cfg.K)
	if err != nil {
		return models.PromptResponse{}, &SynthesisError{Stage: StageRetrieve, Err: err}
	}
	log.Debug().Str("question", q).Int("chunks", len(chunks)).Msg("Retrieved context")

	answer, err := s.synth.Answer(ctx, q, chunks)
	if err != nil {
		return models.PromptResponse{}, err
	}
	return models.PromptResponse{Query: q, Content: answer, Sources: sources(chunks)}, nil
}

func sources(chunks []models.ScoredChunk) []string {
	seen := make(map[string]bool, len(chunks))
	var out []string
	for _, c := range chunks {
		src := c.Source
		if section := c.Metadata[models.MetaSection]; section != "" {
			src += "#" + section
		}
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}
