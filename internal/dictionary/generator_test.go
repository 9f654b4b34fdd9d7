package dictionary

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rag-chat/internal/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeSource struct {
	tables  []string
	columns map[string][]Column
	rows    map[string][]map[string]interface{}
	failOn  string
}

func (f *fakeSource) Tables(context.Context) ([]string, error) { return f.tables, nil }

func (f *fakeSource) Columns(_ context.Context, table string) ([]Column, error) {
	if table == f.failOn {
		return nil, errors.New("permission denied")
	}
	return f.columns[table], nil
}

func (f *fakeSource) Sample(_ context.Context, table string, n int) ([]map[string]interface{}, error) {
	rows := f.rows[table]
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows, nil
}

type stubDescriber struct {
	err   error
	calls []string
}

func (s *stubDescriber) Describe(_ context.Context, table, sample string) (string, error) {
	s.calls = append(s.calls, table)
	if s.err != nil {
		return "", s.err
	}
	return "**Nome Funcional**: Cadastro de " + table, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tables: []string{"clientes", "logs", "pedidos", "segredos"},
		columns: map[string][]Column{
			"clientes": {{Name: "id", Type: "integer", Nullable: "NO"}, {Name: "nome", Type: "text", Nullable: "YES"}},
			"pedidos":  {{Name: "id", Type: "integer", Nullable: "NO"}},
		},
		rows: map[string][]map[string]interface{}{
			"clientes": {
				{"id": int64(1), "nome": strings.Repeat("a", 150)},
				{"id": int64(2), "nome": nil},
				{"id": int64(3), "nome": []byte("Maria")},
				{"id": int64(4), "nome": "extra"},
			},
			"pedidos": {{"id": int64(10)}},
		},
		failOn: "segredos",
	}
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	stats, err := NewGenerator(newFakeSource()).Generate(context.Background(), &buf, "erp")
	require.NoError(t, err)
	assert.Equal(t, Stats{Tables: 4, Written: 2, Skipped: 2}, stats)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# Dicionário de Dados: erp\n\n"))
	assert.Contains(t, out, "## clientes\n")
	assert.Contains(t, out, "## pedidos\n")
	assert.NotContains(t, out, "## logs", "empty tables are skipped")
	assert.NotContains(t, out, "## segredos", "unreadable tables are skipped")

	assert.Contains(t, out, "- `nome` (text, aceita nulo)")
	assert.Contains(t, out, strings.Repeat("a", 100)+"...")
	assert.NotContains(t, out, strings.Repeat("a", 101))
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "nome: Maria")
	assert.NotContains(t, out, "extra", "only the first rows are sampled")
	assert.Contains(t, out, `SELECT * FROM "public"."clientes" LIMIT 10`)
	assert.Equal(t, 2, strings.Count(out, "\n---\n"))
}

func TestGenerateWithDescriber(t *testing.T) {
	d := &stubDescriber{}
	var buf bytes.Buffer
	stats, err := NewGenerator(newFakeSource(), WithDescriber(d), WithRate(1000)).Generate(context.Background(), &buf, "erp")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Described)
	assert.Equal(t, []string{"clientes", "pedidos"}, d.calls)
	assert.Contains(t, buf.String(), "## clientes\n**Nome Funcional**: Cadastro de clientes\n\n**Colunas:**")
}

func TestGenerateDescriberFailureFallsBack(t *testing.T) {
	d := &stubDescriber{err: errors.New("429 quota")}
	var buf bytes.Buffer
	stats, err := NewGenerator(newFakeSource(), WithDescriber(d)).Generate(context.Background(), &buf, "erp")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Written)
	assert.Zero(t, stats.Described)
	assert.Contains(t, buf.String(), "## clientes\n**Colunas:**")
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGenerator(newFakeSource()).Generate(ctx, &bytes.Buffer{}, "erp")
	assert.ErrorIs(t, err, context.Canceled)
}

// the generated file must load back as one section per table
func TestGeneratedDictionaryLoads(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewGenerator(newFakeSource()).Generate(context.Background(), &buf, "erp")
	require.NoError(t, err)

	docs := parser.SplitSections("dicionario.md", buf.Bytes())
	require.Len(t, docs, 3)
	assert.Equal(t, "clientes", docs[1].Metadata["section"])
	assert.Equal(t, "pedidos", docs[2].Metadata["section"])
	assert.Equal(t, "Dicionário de Dados: erp", docs[2].Metadata["title"])
}

func TestSampleQueryQuotes(t *testing.T) {
	assert.Equal(t, `SELECT * FROM "public"."Pedidos ""2024""" LIMIT 3`, SampleQuery("public", `Pedidos "2024"`, 3))
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-05-01T10:00:00Z", formatValue(ts))
	assert.Equal(t, "3.5", formatValue(3.5))
	assert.Equal(t, "true", formatValue(true))
}

type stubLLM struct {
	prompt string
}

func (s *stubLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	s.prompt = messages[0].Parts[0].(llms.TextContent).Text
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "**Nome Funcional**: Clientes"}}}, nil
}

func TestLLMDescriber(t *testing.T) {
	llm := &stubLLM{}
	out, err := NewLLMDescriber(llm, 0).Describe(context.Background(), "CAD_CLI", "- id: \"1\"\n")
	require.NoError(t, err)
	assert.Equal(t, "**Nome Funcional**: Clientes", out)
	assert.Contains(t, llm.prompt, "TABELA: 'CAD_CLI'")
	assert.Contains(t, llm.prompt, "Glossário")
}
