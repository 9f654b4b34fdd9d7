package embedding

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"

	"rag-chat/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"
)

// Throttled wraps an embedder with a token bucket in front of every call and
// exponential backoff on transient provider errors (quota, 429, 5xx, timeouts).
type Throttled struct {
	next       embeddings.Embedder
	limiter    *rate.Limiter
	maxTries   uint
	newBackOff func() backoff.BackOff
}

var _ embeddings.Embedder = (*Throttled)(nil)

type ThrottleOption func(*Throttled)

// WithRate limits calls to rps per second with the given burst. rps <= 0
// disables the limiter.
func WithRate(rps float64, burst int) ThrottleOption {
	return func(t *Throttled) {
		if rps <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxTries sets the total number of attempts per call, including the first.
func WithMaxTries(n uint) ThrottleOption {
	return func(t *Throttled) {
		if n > 0 {
			t.maxTries = n
		}
	}
}

func WithBackOff(f func() backoff.BackOff) ThrottleOption {
	return func(t *Throttled) { t.newBackOff = f }
}

func NewThrottled(next embeddings.Embedder, opts ...ThrottleOption) *Throttled {
	t := &Throttled{
		next:     next,
		maxTries: 5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Throttled) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return retry(ctx, t, "documents", func(ctx context.Context) ([][]float32, error) {
		return t.next.EmbedDocuments(ctx, texts)
	})
}

func (t *Throttled) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return retry(ctx, t, "query", func(ctx context.Context) ([]float32, error) {
		return t.next.EmbedQuery(ctx, text)
	})
}

func retry[T any](ctx context.Context, t *Throttled, kind string, op func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		var zero T
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return zero, backoff.Permanent(err)
			}
		}
		attempt++
		if attempt > 1 {
			metrics.EmbeddingRetries.Inc()
		}
		res, err := op(ctx)
		if err == nil {
			metrics.EmbeddingRequests.WithLabelValues(kind, "ok").Inc()
			return res, nil
		}
		metrics.EmbeddingRequests.WithLabelValues(kind, "error").Inc()
		if !IsTransient(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	},
		backoff.WithBackOff(t.newBackOff()),
		backoff.WithMaxTries(t.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Str("kind", kind).Dur("wait", wait).Msg("Embedding call failed, retrying")
		}),
	)
}

var transientMarkers = []string{
	"quota",
	"rate limit",
	"resource_exhausted",
	"resource exhausted",
	"too many requests",
	"unavailable",
	"timeout",
	"connection reset",
}

// transientStatus matches a retryable HTTP status only where it is reported as
// a status, e.g. "status code: 503", "Error 429" or "502 Bad Gateway".
var transientStatus = regexp.MustCompile(`(?:status|code|http|error)\W{0,3}(?:429|500|502|503|504)\b|\b(?:429|500|502|503|504) (?:too many|internal server|bad gateway|service unavailable|gateway timeout)`)

// IsTransient reports whether an embedding error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	if transientStatus.MatchString(msg) {
		return true
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
