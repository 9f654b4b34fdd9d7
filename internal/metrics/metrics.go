package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ragchat"

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	ChatAnswers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_answers_total",
		Help:      "Chat requests by outcome.",
	}, []string{"outcome"})

	ChatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chat_duration_seconds",
		Help:      "Time spent answering a chat question.",
		Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32, 64},
	})

	IndexedChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "indexed_chunks",
		Help:      "Chunks currently held by the vector index.",
	})

	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_requests_total",
		Help:      "Embedding provider calls by kind and result.",
	}, []string{"kind", "result"})

	EmbeddingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_retries_total",
		Help:      "Embedding calls retried after a transient error.",
	})

	State = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "state",
		Help:      "Readiness state of the service, 1 for the current state.",
	}, []string{"state"})
)

// SetState marks current as the only active readiness state.
func SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		State.WithLabelValues(s).Set(v)
	}
}
