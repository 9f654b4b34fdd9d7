package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rag-chat/internal/chromemdb"
	"rag-chat/internal/parser"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const dims = 256

// bagEmbedder hashes words into a normalized bag-of-words vector so texts
// sharing words are close.
type bagEmbedder struct {
	mu         sync.Mutex
	docCalls   int
	queryCalls int
	failOnDoc  int
}

func embedText(text string) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:?!#*|")))
		v[h.Sum32()%dims]++
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (e *bagEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.docCalls++
	call := e.docCalls
	e.mu.Unlock()
	if call == e.failOnDoc {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (e *bagEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queryCalls++
	e.mu.Unlock()
	return embedText(text), nil
}

func (e *bagEmbedder) calls() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.docCalls, e.queryCalls
}

type stubLLM struct {
	mu     sync.Mutex
	answer string
	err    error
	got    []llms.MessageContent
	opts   llms.CallOptions
}

func (s *stubLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = messages
	for _, o := range options {
		o(&s.opts)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.answer}}}, nil
}

func (s *stubLLM) prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, m := range s.got {
		for _, p := range m.Parts {
			if t, ok := p.(llms.TextContent); ok {
				b.WriteString(t.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

const knowledge = `# Dicionário de Dados: erp

## clientes
Tabela de cadastro de clientes. Colunas: id, nome, cpf, email.

## pedidos
Tabela de pedidos de venda. Colunas: id, cliente_id, valor_total, data_pedido.

## produtos
Tabela de produtos do estoque. Colunas: id, descricao, preco, quantidade.
`

func writeKnowledge(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "kb.md")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func newStore(t *testing.T) *chromemdb.VectorDBManager {
	t.Helper()
	m, err := chromemdb.NewVectorDBManager("test")
	require.NoError(t, err)
	return m
}

func testConfig(path string) Config {
	return Config{
		KnowledgePath: path,
		ChunkParams:   parser.ChunkParams{ChunkSize: 200, ChunkOverlap: 20},
		K:             2,
		BatchSize:     1,
	}
}
