// Package llm wraps the OpenAI chat completion API behind a small
// interface the pipeline stages depend on.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pressfeed/newspipe/internal/models"
)

// Result is one completion plus the usage the rate gate needs.
type Result struct {
	Text        string
	TotalTokens int64
}

// CompletionClient produces one completion per call. Implementations
// translate provider failures into classified CallErrors.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (Result, error)
}

// Client is the OpenAI-backed CompletionClient.
type Client struct {
	api   openai.Client
	model openai.ChatModel
}

var _ CompletionClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = openai.ChatModel(model)
		}
	}
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key not set")
	}
	c := &Client{
		api:   openai.NewClient(option.WithAPIKey(apiKey)),
		model: openai.ChatModelGPT4oMini,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete sends one chat completion request and returns the first
// choice. Provider errors come back as classified CallErrors.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (Result, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return Result{}, Classify(err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, models.NewCallError(models.ErrorKindGeneric, "no choices returned")
	}

	res := Result{
		Text:        strings.TrimSpace(resp.Choices[0].Message.Content),
		TotalTokens: resp.Usage.TotalTokens,
	}
	slog.Debug("Client.Complete: completion received", "model", c.model, "tokens", res.TotalTokens)
	return res, nil
}

// Classify maps a provider error onto the pipeline's error kinds.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return models.NewCallError(models.ErrorKindTooManyRequests, "%s", apiErr.Message)
		case apiErr.Code == "context_length_exceeded":
			return models.NewCallError(models.ErrorKindMaxTokenExceeded, "%s", apiErr.Message)
		}
		return models.NewCallError(models.ErrorKindGeneric, "openai %d: %s", apiErr.StatusCode, apiErr.Message)
	}

	// Fall back to string matching for wrapped transport errors.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return models.NewCallError(models.ErrorKindTooManyRequests, "%s", err.Error())
	case strings.Contains(msg, "maximum context length") || strings.Contains(msg, "context_length_exceeded"):
		return models.NewCallError(models.ErrorKindMaxTokenExceeded, "%s", err.Error())
	}
	return models.NewCallError(models.ErrorKindGeneric, "%s", err.Error())
}
