// Package llm wraps the OpenAI chat completion API behind a small interface
// shared by intent classification, Q&A and summarization.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fumblebot/fumblebot/internal/config"
)

// Completer produces a completion for a prompt pair.
type Completer interface {
	Complete(ctx context.Context, userPrompt, systemPrompt string, maxTokens int) (string, error)
}

type openAICompleter struct {
	logger *zap.Logger
	client *openai.Client
	model  string
}

// NewCompleter creates a Completer backed by the configured OpenAI model.
func NewCompleter(logger *zap.Logger, cfg *config.Config, client *openai.Client) (Completer, error) {
	model := cfg.Voice.IntentModel
	if model == "" {
		if len(cfg.OpenAI.Models) == 0 {
			return nil, errors.New("no OpenAI models configured")
		}
		model = cfg.OpenAI.Models[0]
	}

	return &openAICompleter{
		logger: logger.Named("llm"),
		client: client,
		model:  model,
	}, nil
}

func (c *openAICompleter) Complete(ctx context.Context, userPrompt, systemPrompt string, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("Completion request failed", zap.Error(err))

		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
