// Package ai is a client for OpenAI-compatible chat completion endpoints.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"solana-signal-lab/internal/breaker"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/observability"
)

// Completer sends one system+user prompt and returns the assistant content.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Options configures Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Client calls POST {BaseURL}/chat/completions.
type Client struct {
	opts Options
	http *http.Client
	cb   *gobreaker.CircuitBreaker
	log  zerolog.Logger
}

var _ Completer = (*Client)(nil)

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		opts: opts,
		http: hc,
		cb:   breaker.New("ai"),
		log:  opts.Logger.With().Str("component", "ai").Logger(),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete implements Completer. The call is bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.opts.APIKey == "" {
		return "", fmt.Errorf("ai: %w: no api key configured", domain.ErrUpstreamUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	content, err := breaker.Execute(c.cb, func() (string, error) {
		return c.post(ctx, system, user)
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordUpstreamCall("ai", status, time.Since(start))
	return content, err
}

func (c *Client) post(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.opts.Model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    c.opts.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: %w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai: %w: read body: %v", domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &domain.RateLimitedError{Key: "ai", RetryAfter: time.Minute}
	case resp.StatusCode != http.StatusOK:
		c.log.Warn().Int("status", resp.StatusCode).Msg("chat completion failed")
		return "", fmt.Errorf("ai: %w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("ai: %w: %v", domain.ErrParse, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("ai: %w: %s", domain.ErrUpstreamUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("ai: %w: no choices", domain.ErrParse)
	}
	return parsed.Choices[0].Message.Content, nil
}
