// Package ai is the collaborator contract for Tier 2 verification, Tier 3
// discovery, and schema generation. It defines the request/response shape,
// tolerant parsing of the tag-structured responses, validation of
// AI-sourced nodes and edges, and a bounded retry loop around the hosted
// model call.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is the model used when the config names none.
	DefaultModel = "claude-sonnet-4-5-20250929"

	// DefaultMaxOutputTokens bounds a single completion.
	DefaultMaxOutputTokens = 4096

	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries bounds the retry loop for one logical request.
	DefaultMaxRetries = 3

	retryBackoff = 500 * time.Millisecond
)

// Request is one prompt pair sent to the collaborator.
type Request struct {
	System string
	Prompt string
}

// Response is the collaborator's raw text answer plus token usage.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Usage accumulates call and token counts across collaborator requests.
type Usage struct {
	Calls        int
	InputTokens  int64
	OutputTokens int64
}

// Add folds one response into the running usage.
func (u *Usage) Add(resp *Response) {
	u.Calls++
	if resp != nil {
		u.InputTokens += resp.InputTokens
		u.OutputTokens += resp.OutputTokens
	}
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 { return u.InputTokens + u.OutputTokens }

// Collaborator is the hosted-model call. Implementations must be safe for
// concurrent use.
type Collaborator interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CallError classifies a collaborator failure. Transport, timeout, and
// rate-limit failures are retryable; auth and malformed-request failures
// are not.
type CallError struct {
	Retryable bool
	Err       error
}

func (e *CallError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("ai: retryable: %v", e.Err)
	}
	return fmt.Sprintf("ai: %v", e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a retryable collaborator failure.
func IsRetryable(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Retryable
	}
	return false
}

// ClientConfig configures the anthropic-backed collaborator.
type ClientConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
	Timeout         time.Duration
}

// Client calls the Anthropic Messages API.
type Client struct {
	anthropic       anthropic.Client
	model           string
	maxOutputTokens int64
	timeout         time.Duration
}

// NewClient creates the anthropic-backed collaborator. An empty APIKey
// falls through to the SDK's environment lookup.
func NewClient(cfg ClientConfig) *Client {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := int64(DefaultMaxOutputTokens)
	if cfg.MaxOutputTokens > 0 {
		maxTokens = int64(cfg.MaxOutputTokens)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		anthropic:       anthropic.NewClient(opts...),
		model:           model,
		maxOutputTokens: maxTokens,
		timeout:         timeout,
	}
}

// Complete sends one request and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxOutputTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := c.anthropic.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text:         text,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}

// classify maps SDK errors onto the retryable/fatal split: timeouts,
// rate limits, and server errors retry; everything else fails immediately.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Retryable: true, Err: err}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= http.StatusInternalServerError
		return &CallError{Retryable: retryable, Err: err}
	}

	return &CallError{Retryable: false, Err: err}
}

// completeWithRetry runs one logical request with doubling backoff.
// Non-retryable errors and context cancellation stop the loop immediately.
func completeWithRetry(ctx context.Context, c Collaborator, req Request, maxRetries int, logger *slog.Logger) (*Response, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err := c.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			break
		}
		logger.Warn("collaborator call failed, retrying", "attempt", attempt+1, "error", err)

		backoff := retryBackoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}
