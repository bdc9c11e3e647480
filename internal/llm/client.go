// Package llm implements the analysis.Client interface against any
// OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/itsvetkov1/Sentient-Inbox/internal/analysis"
	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
)

// Client calls an OpenAI-compatible API with two configured models: a fast
// one for quick classification and a reasoning one for deep analysis.
type Client struct {
	api        *openai.Client
	quickModel string
	deepModel  string
}

// NewClient creates a Client from the analysis config. The API key is read
// from the configured environment variable; BaseURL overrides the default
// OpenAI endpoint so self-hosted and alternative providers work unchanged.
func NewClient(cfg config.AnalysisConfig) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("api key environment variable %s is not set", cfg.APIKeyEnv)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		quickModel: cfg.QuickModel,
		deepModel:  cfg.DeepModel,
	}, nil
}

// QuickClassify asks the fast model for a JSON classification of the message.
func (c *Client) QuickClassify(ctx context.Context, subject, sender, body string) (string, error) {
	return c.complete(ctx, c.quickModel, quickSystemPrompt, quickUserPrompt(subject, sender, body))
}

// DeepAnalyze asks the reasoning model for a decision on a meeting message.
func (c *Client) DeepAnalyze(ctx context.Context, subject, sender, body string) (string, error) {
	return c.complete(ctx, c.deepModel, deepSystemPrompt, deepUserPrompt(subject, sender, body))
}

// complete performs one chat completion. An empty choice list is returned as
// empty content rather than an error, so response validation reports it with
// the same vocabulary as other malformed outputs.
func (c *Client) complete(ctx context.Context, model, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

var _ analysis.Client = (*Client)(nil)
