package dictionary

import (
	"context"
	"fmt"
	"io"
	"strings"

	"rag-chat/internal/llmservice"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

const (
	DefaultSampleRows  = 3
	DefaultMaxValueLen = 100
)

// Describer writes a short functional description of a table from its sample.
type Describer interface {
	Describe(ctx context.Context, table, sample string) (string, error)
}

const describePrompt = `Analise os dados abaixo, amostra de uma tabela de banco de dados em YAML.

TABELA: '%s'

DADOS:
%s

TAREFA:
Responda APENAS um bloco Markdown com:
1. **Nome Funcional**: (Nome humanizado)
2. **Descrição**: (Resumo de 1 frase)
3. **Glossário**: (Tradução de siglas ex: CD_CLI -> Código Cliente)`

// LLMDescriber asks the chat model for the description.
type LLMDescriber struct {
	llm         llmservice.Generator
	temperature float64
}

func NewLLMDescriber(llm llmservice.Generator, temperature float64) *LLMDescriber {
	return &LLMDescriber{llm: llm, temperature: temperature}
}

func (d *LLMDescriber) Describe(ctx context.Context, table, sample string) (string, error) {
	prompt := fmt.Sprintf(describePrompt, table, sample)
	return llmservice.GenerateContent(ctx, d.llm, llmservice.HumanMessage(prompt), llms.WithTemperature(d.temperature))
}

type Stats struct {
	Tables    int
	Written   int
	Skipped   int
	Described int
}

type Generator struct {
	src         Source
	schema      string
	describer   Describer
	limiter     *rate.Limiter
	sampleRows  int
	maxValueLen int
}

type Option func(*Generator)

func WithDescriber(d Describer) Option {
	return func(g *Generator) { g.describer = d }
}

// WithRate spaces describer calls to rps per second.
func WithRate(rps float64) Option {
	return func(g *Generator) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

func WithSampleRows(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.sampleRows = n
		}
	}
}

func WithSchema(schema string) Option {
	return func(g *Generator) { g.schema = schema }
}

func NewGenerator(src Source, opts ...Option) *Generator {
	g := &Generator{
		src:         src,
		schema:      "public",
		sampleRows:  DefaultSampleRows,
		maxValueLen: DefaultMaxValueLen,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate writes the Markdown dictionary of every non-empty table to w.
// Tables that cannot be read are skipped; a failed description falls back to
// columns and sample only.
func (g *Generator) Generate(ctx context.Context, w io.Writer, dbName string) (Stats, error) {
	var stats Stats
	tables, err := g.src.Tables(ctx)
	if err != nil {
		return stats, err
	}
	stats.Tables = len(tables)
	log.Info().Msgf("Total de tabelas encontradas: %d", len(tables))

	if err := WriteHeader(w, dbName); err != nil {
		return stats, err
	}
	for i, table := range tables {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		log.Info().Msgf("[%d/%d] Processando: %s", i+1, len(tables), table)

		section, ok := g.section(ctx, table, &stats)
		if !ok {
			stats.Skipped++
			continue
		}
		if err := WriteSection(w, section); err != nil {
			return stats, fmt.Errorf("failed to write section %s: %w", table, err)
		}
		stats.Written++
	}
	return stats, nil
}

func (g *Generator) section(ctx context.Context, table string, stats *Stats) (Section, bool) {
	cols, err := g.src.Columns(ctx, table)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Skipping table")
		return Section{}, false
	}
	rows, err := g.src.Sample(ctx, table, g.sampleRows)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Skipping table")
		return Section{}, false
	}
	if len(rows) == 0 {
		log.Info().Str("table", table).Msg("Empty table, skipping")
		return Section{}, false
	}
	sample, err := EncodeSample(rows, g.maxValueLen)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Skipping table")
		return Section{}, false
	}

	s := Section{
		Table:   table,
		Columns: cols,
		Sample:  sample,
		Query:   SampleQuery(g.schema, table, 10),
	}
	if g.describer != nil {
		s.Description = g.describe(ctx, table, sample)
		if s.Description != "" {
			stats.Described++
		}
	}
	return s, true
}

func (g *Generator) describe(ctx context.Context, table, sample string) string {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return ""
		}
	}
	desc, err := g.describer.Describe(ctx, table, sample)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Description failed, writing columns only")
		return ""
	}
	return strings.TrimSpace(desc)
}
