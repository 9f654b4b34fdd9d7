package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"rag-chat/internal/config"
	"rag-chat/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator is the part of llms.Model used for answering.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

var ErrEmptyResponse = errors.New("llm returned no content")

var thinkRe = regexp.MustCompile(models.ThinkTag)

// NewModel creates the chat model for the configured provider.
func NewModel(ctx context.Context, cfg config.LLMConfig) (llms.Model, error) {
	log.Debug().Interface("llmConfig", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating chat model")

	switch strings.ToLower(cfg.Provider) {
	case "googleai", "":
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.Key),
			googleai.WithDefaultModel(cfg.Model),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// call llm and return the text of the first choice
func GenerateContent(ctx context.Context, llm Generator, messages []llms.MessageContent, options ...llms.CallOption) (string, error) {
	res, err := llm.GenerateContent(ctx, messages, options...)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 || res.Choices[0] == nil {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(StripThinking(res.Choices[0].Content))
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// StripThinking removes <think>...</think> reasoning blocks.
func StripThinking(s string) string {
	return thinkRe.ReplaceAllString(s, "")
}

// HumanMessage wraps a single user prompt.
func HumanMessage(prompt string) []llms.MessageContent {
	return []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
		},
	}
}
