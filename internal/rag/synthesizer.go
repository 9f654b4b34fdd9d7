package rag

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"rag-chat/internal/llmservice"
	"rag-chat/internal/models"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

const DefaultMaxContextChars = 12000

// Synthesizer turns retrieved chunks and a question into an answer.
type Synthesizer struct {
	llm             llmservice.Generator
	prompt          prompts.ChatPromptTemplate
	temperature     float64
	timeout         time.Duration
	maxContextChars int
}

type SynthesizerOption func(*Synthesizer)

func WithTemperature(t float64) SynthesizerOption {
	return func(s *Synthesizer) { s.temperature = t }
}

// WithTimeout bounds every model call.
func WithTimeout(d time.Duration) SynthesizerOption {
	return func(s *Synthesizer) { s.timeout = d }
}

func WithMaxContextChars(n int) SynthesizerOption {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxContextChars = n
		}
	}
}

// NewSynthesizer builds the chat prompt from systemPrompt, a Go template that
// receives {{.context}}, and the user question.
func NewSynthesizer(llm llmservice.Generator, systemPrompt string, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		llm: llm,
		prompt: prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(systemPrompt, []string{"context"}),
			prompts.NewHumanMessagePromptTemplate(models.HumanPromptTemplate, []string{"question"}),
		}),
		maxContextChars: DefaultMaxContextChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synthesizer) Answer(ctx context.Context, question string, chunks []models.ScoredChunk) (string, error) {
	msgs, err := s.prompt.FormatMessages(map[string]any{
		"context":  BuildContext(chunks, s.maxContextChars),
		"question": question,
	})
	if err != nil {
		return "", &SynthesisError{Stage: StagePrompt, Err: err}
	}

	content := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		content = append(content, llms.MessageContent{
			Role:  m.GetType(),
			Parts: []llms.ContentPart{llms.TextContent{Text: m.GetContent()}},
		})
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	answer, err := llmservice.GenerateContent(ctx, s.llm, content, llms.WithTemperature(s.temperature))
	if err != nil {
		return "", &SynthesisError{Stage: StageGenerate, Err: err}
	}
	return answer, nil
}

// BuildContext joins chunk texts in rank order until maxChars runes are used.
// A first chunk longer than the budget is cut.
func BuildContext(chunks []models.ScoredChunk, maxChars int) string {
	var (
		b    strings.Builder
		used int
	)
	for _, c := range chunks {
		text := strings.TrimSpace(c.Content)
		if text == "" {
			continue
		}
		sep := ""
		if used > 0 {
			sep = models.ContextSeparator
		}
		need := utf8.RuneCountInString(sep) + utf8.RuneCountInString(text)
		if maxChars > 0 && used+need > maxChars {
			if used == 0 {
				b.WriteString(string([]rune(text)[:maxChars]))
			}
			break
		}
		b.WriteString(sep)
		b.WriteString(text)
		used += need
	}
	return b.String()
}
