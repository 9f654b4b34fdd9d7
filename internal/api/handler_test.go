package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"rag-chat/internal/chromemdb"
	"rag-chat/internal/models"
	"rag-chat/internal/parser"
	"rag-chat/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu     sync.Mutex
	status rag.Status
	answer string
	err    error
	asked  []string
}

func (f *fakeService) Ask(_ context.Context, q string) (models.PromptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, q)
	if f.err != nil {
		return models.PromptResponse{}, f.err
	}
	return models.PromptResponse{Query: q, Content: f.answer}, nil
}

func (f *fakeService) Status() rag.Status { return f.status }

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func newTestRouter(svc ChatService) *gin.Engine {
	return NewRouter(NewHandler(svc, "gemini-2.5-flash-lite", 0), []string{"*"})
}

func TestHome(t *testing.T) {
	r := newTestRouter(&fakeService{status: rag.Status{State: rag.StateBuilding}})
	w, body := do(t, r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "IA Online", body["status"])
	assert.Equal(t, "gemini-2.5-flash-lite", body["model"])
	assert.Equal(t, "BUILDING", body["state"])
}

func TestChatOK(t *testing.T) {
	svc := &fakeService{status: rag.Status{State: rag.StateReady}, answer: "A tabela clientes guarda o cadastro."}
	r := newTestRouter(svc)

	w, body := do(t, r, http.MethodPost, "/chat", `{"pergunta":"  O que tem na tabela clientes?  "}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A tabela clientes guarda o cadastro.", body["resposta"])
	assert.Equal(t, []string{"O que tem na tabela clientes?"}, svc.asked)
}

func TestChatRejectsBlankQuestion(t *testing.T) {
	for _, payload := range []string{
		`{"pergunta":""}`,
		`{"pergunta":"   \n\t"}`,
		`{}`,
		`not json`,
		``,
	} {
		svc := &fakeService{status: rag.Status{State: rag.StateReady}, answer: "x"}
		w, body := do(t, newTestRouter(svc), http.MethodPost, "/chat", payload)
		assert.Equal(t, http.StatusBadRequest, w.Code, payload)
		assert.Equal(t, "Pergunta vazia.", body["detail"], payload)
		assert.Empty(t, svc.asked, "service must not be called for %q", payload)
	}
}

func TestChatNotReady(t *testing.T) {
	svc := &fakeService{status: rag.Status{State: rag.StateNotReady}, err: rag.ErrNotReady}
	w, body := do(t, newTestRouter(svc), http.MethodPost, "/chat", `{"pergunta":"oi"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "A IA ainda não foi inicializada.", body["detail"])
}

func TestChatHidesInternalErrors(t *testing.T) {
	svc := &fakeService{
		status: rag.Status{State: rag.StateReady},
		err:    &rag.SynthesisError{Stage: rag.StageGenerate, Err: errors.New("googleapi: key AIza-secret invalid")},
	}
	w, body := do(t, newTestRouter(svc), http.MethodPost, "/chat", `{"pergunta":"oi"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Erro interno.", body["detail"])
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&fakeService{status: rag.Status{State: rag.StateReady, Partial: true, Chunks: 12, ErrorKind: "indexing", Reason: "quota exceeded"}})
	w, body := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, true, body["partial"])
	assert.Equal(t, float64(12), body["chunks"])
	assert.NotContains(t, w.Body.String(), "quota exceeded")

	r = newTestRouter(&fakeService{status: rag.Status{State: rag.StateFailed, ErrorKind: "indexing"}})
	w, body = do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "FAILED", body["state"])
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(&fakeService{})
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowList(t *testing.T) {
	r := NewRouter(NewHandler(&fakeService{}, "m", 0), []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&fakeService{})
	do(t, r, http.MethodGet, "/", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ragchat_http_requests_total")
}

// end to end through a real rag.Service

type wordEmbedder struct{}

func vectorFor(text string) []float32 {
	v := make([]float32, 4)
	lower := strings.ToLower(text)
	for i, w := range []string{"clientes", "pedidos", "produtos"} {
		if strings.Contains(lower, w) {
			v[i] = 1
		}
	}
	v[3] = 0.1
	return v
}

func (wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return vectorFor(text), nil
}

type echoLLM struct{}

// echoes the first context line so the answer shows what was retrieved
func (echoLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	system := messages[0].Parts[0].(llms.TextContent).Text
	line := strings.SplitN(strings.TrimSpace(system), "\n", 2)[0]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: line}}}, nil
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.md")
	require.NoError(t, os.WriteFile(path, []byte("## clientes\nCadastro de clientes.\n\n## pedidos\nPedidos de venda.\n"), 0o644))

	store, err := chromemdb.NewVectorDBManager("e2e")
	require.NoError(t, err)
	svc := rag.NewService(rag.Config{
		KnowledgePath: path,
		ChunkParams:   parser.DefaultChunkParams(),
		K:             1,
		BatchSize:     30,
	}, wordEmbedder{}, store, rag.NewSynthesizer(echoLLM{}, "{{.context}}"))
	r := newTestRouter(svc)

	// not ready yet
	w, body := do(t, r, http.MethodPost, "/chat", `{"pergunta":"pedidos?"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "A IA ainda não foi inicializada.", body["detail"])

	require.NoError(t, svc.Build(context.Background()))

	// blank question
	w, body = do(t, r, http.MethodPost, "/chat", `{"pergunta":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Pergunta vazia.", body["detail"])

	// answered from the pedidos section
	w, body = do(t, r, http.MethodPost, "/chat", `{"pergunta":"Onde ficam os pedidos?"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "## pedidos", body["resposta"])
}
