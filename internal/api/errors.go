package api

import (
	"errors"
	"fmt"
	"net/http"

	"rag-chat/internal/metrics"
	"rag-chat/internal/rag"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	msgEmptyQuestion = "Pergunta vazia."
	msgNotReady      = "A IA ainda não foi inicializada."
	msgInternal      = "Erro interno."
)

// ValidationError rejects a request before any retrieval happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// sendError maps err to a status and a fixed client message. The raw error is
// only logged.
func sendError(c *gin.Context, err error) {
	var (
		status  int
		detail  string
		outcome string
		ve      *ValidationError
	)
	switch {
	case errors.As(err, &ve), errors.Is(err, rag.ErrEmptyQuestion):
		status, detail, outcome = http.StatusBadRequest, msgEmptyQuestion, "invalid"
	case errors.Is(err, rag.ErrNotReady):
		status, detail, outcome = http.StatusInternalServerError, msgNotReady, "not_ready"
	default:
		status, detail, outcome = http.StatusInternalServerError, msgInternal, "error"
	}
	metrics.ChatAnswers.WithLabelValues(outcome).Inc()

	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Int("status", status).Str("path", c.FullPath()).Msg("Request failed")

	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}
