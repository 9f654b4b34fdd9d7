package main

import (
	"context"
	"fmt"

	"rag-chat/internal/chromemdb"
	"rag-chat/internal/config"
	"rag-chat/internal/db"
	"rag-chat/internal/embedding"
	"rag-chat/internal/helper"
	"rag-chat/internal/llmservice"
	"rag-chat/internal/parser"
	"rag-chat/internal/rag"

	"github.com/rs/zerolog/log"
)

// app holds everything a command needs to build the index and answer.
type app struct {
	svc     *rag.Service
	closers []func() error
}

func (a *app) Close() {
	a.svc.Close()
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("Error closing resource")
		}
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	base, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	embedder := embedding.NewThrottled(base,
		embedding.WithRate(cfg.Index.Rate, cfg.Index.Burst),
		embedding.WithMaxTries(uint(cfg.Index.MaxRetries)),
	)

	model, err := llmservice.NewModel(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	synth := rag.NewSynthesizer(model, cfg.RAG.SystemPrompt,
		rag.WithTemperature(cfg.LLM.Temperature),
		rag.WithTimeout(cfg.LLM.Timeout),
		rag.WithMaxContextChars(cfg.RAG.MaxContextChars),
	)

	store, opts, closer, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	a.svc = rag.NewService(rag.Config{
		KnowledgePath: cfg.RAG.KnowledgeBasePath,
		ChunkParams: parser.ChunkParams{
			ChunkSize:    cfg.RAG.ChunkSize,
			ChunkOverlap: cfg.RAG.ChunkOverlap,
			Separators:   cfg.RAG.Separators,
		},
		K:              cfg.RAG.K,
		EmbeddingModel: cfg.Embedding.Model,
		BatchSize:      cfg.Index.BatchSize,
		BatchPause:     cfg.Index.BatchPause,
		CacheDir:       cfg.Index.CacheDir,
	}, embedder, store, synth, opts...)

	log.Info().
		Str("store", cfg.Index.Store).
		Str("model", cfg.LLM.Model).
		Str("embedding", cfg.Embedding.Model).
		Str("knowledge", cfg.RAG.KnowledgeBasePath).
		Msg("Service created")
	return a, nil
}

// newStore picks the chunk index: chromem in memory, with the export cache
// when index.cache_dir is set, or the pgvector table.
func newStore(ctx context.Context, cfg *config.Config) (rag.Store, []rag.ServiceOption, func() error, error) {
	if cfg.Index.Store == config.StorePgvector {
		pg := db.NewStore(db.NewDB(cfg.Database.DSN(), cfg.Database.Debug))
		if err := pg.InitDB(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, nil, err
		}
		return pg, nil, pg.Close, nil
	}

	mgr, err := chromemdb.NewVectorDBManager(cfg.Index.Collection,
		chromemdb.WithCompression(cfg.Index.Compress),
		chromemdb.WithEncryptionKey(cfg.Index.CacheKey),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Index.CacheDir == "" {
		return mgr, nil, nil, nil
	}
	if err := helper.CreateFolder(cfg.Index.CacheDir); err != nil {
		return nil, nil, nil, err
	}
	return mgr, []rag.ServiceOption{rag.WithCache(mgr)}, nil, nil
}
