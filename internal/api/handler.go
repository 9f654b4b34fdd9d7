package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"rag-chat/internal/metrics"
	"rag-chat/internal/models"
	"rag-chat/internal/rag"

	"github.com/gin-gonic/gin"
)

// ChatService is what the handler needs from rag.Service.
type ChatService interface {
	Ask(ctx context.Context, question string) (models.PromptResponse, error)
	Status() rag.Status
}

type Handler struct {
	svc     ChatService
	model   string
	timeout time.Duration
}

func NewHandler(svc ChatService, model string, timeout time.Duration) *Handler {
	return &Handler{svc: svc, model: model, timeout: timeout}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.Home)
	r.GET("/healthz", h.Health)
	r.POST("/chat", h.Chat)
}

type homeResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
	State  string `json:"state"`
}

type ChatRequest struct {
	Pergunta string `json:"pergunta"`
}

type ChatResponse struct {
	Resposta string `json:"resposta"`
}

type healthResponse struct {
	State     string `json:"state"`
	Ready     bool   `json:"ready"`
	Partial   bool   `json:"partial"`
	Chunks    int    `json:"chunks"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func (h *Handler) Home(c *gin.Context) {
	c.JSON(http.StatusOK, homeResponse{
		Status: "IA Online",
		Model:  h.model,
		State:  string(h.svc.Status().State),
	})
}

// Health reports readiness; 503 until the index can be queried.
func (h *Handler) Health(c *gin.Context) {
	st := h.svc.Status()
	status := http.StatusOK
	if st.State != rag.StateReady {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, healthResponse{
		State:     string(st.State),
		Ready:     st.State == rag.StateReady,
		Partial:   st.Partial,
		Chunks:    st.Chunks,
		ErrorKind: st.ErrorKind,
	})
}

func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, &ValidationError{Field: "pergunta", Reason: err.Error()})
		return
	}
	question := strings.TrimSpace(req.Pergunta)
	if question == "" {
		sendError(c, &ValidationError{Field: "pergunta", Reason: "empty"})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := h.svc.Ask(ctx, question)
	if err != nil {
		sendError(c, err)
		return
	}
	metrics.ChatLatency.Observe(time.Since(start).Seconds())
	metrics.ChatAnswers.WithLabelValues("ok").Inc()

	c.JSON(http.StatusOK, ChatResponse{Resposta: resp.Content})
}
