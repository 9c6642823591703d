package textproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/civicwatch/disruption-ingest/internal/observability"
)

// Client is the narrow contract to the text-understanding service: one
// prompt, one input text, one JSON document back. Failures are either
// transport errors or malformed output; both are recoverable at the
// source-document level.
type Client interface {
	Complete(ctx context.Context, prompt, input string) (json.RawMessage, error)
}

// OpenAIClient implements Client against an OpenAI-compatible chat API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// OpenAIConfig carries the settings for NewOpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NewOpenAIClient creates a text-understanding client. BaseURL may point at
// any OpenAI-compatible endpoint (a local model server works too).
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger, metrics *observability.Metrics) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("text-understanding API key is not set")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Complete sends one prompt+input pair and returns the model's JSON output.
func (c *OpenAIClient) Complete(ctx context.Context, prompt, input string) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("text-understanding request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("text-understanding service returned no choices")
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("text-understanding response received",
		"model", c.model,
		"finish_reason", resp.Choices[0].FinishReason,
		"bytes", len(content),
	)
	return json.RawMessage(content), nil
}
