// Package openrouter is a chat-completions provider for OpenAI-compatible
// APIs: OpenRouter itself, Groq and OpenAI differ only in base URL.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/llm"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
)

var defaultBaseURLs = map[llm.ProviderType]string{
	llm.ProviderOpenRouter: "https://openrouter.ai/api/v1",
	llm.ProviderGroq:       "https://api.groq.com/openai/v1",
	llm.ProviderOpenAI:     "https://api.openai.com/v1",
}

// Config holds configuration for the client.
type Config struct {
	Name       string
	APIKey     string
	BaseURL    string
	ModelName  string // used when the request names no model
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Client proxies chat completions to one OpenAI-compatible endpoint
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// upstreamError is a non-200 answer from the provider
type upstreamError struct {
	provider string
	status   int
	body     string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.provider, e.status, e.body)
}

// retryable reports whether another attempt could succeed. Transport
// failures, 429 and 5xx are transient; everything else is final.
func retryable(err error) bool {
	var ue *upstreamError
	if errors.As(err, &ue) {
		return ue.status == http.StatusTooManyRequests || ue.status >= 500
	}
	var te *transportError
	return errors.As(err, &te)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// NewClient creates a new client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = string(llm.ProviderOpenRouter)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURLs[llm.ProviderType(cfg.Name)]
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", cfg.Name)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	logger.Info("Chat completions client initialized",
		zap.String("provider", cfg.Name),
		zap.String("model", cfg.ModelName))

	return &Client{
		cfg:        cfg,
		endpoint:   cfg.BaseURL + "/chat/completions",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("provider", cfg.Name)),
	}, nil
}

// Factory builds a client from a provider entry of the config file
func Factory(cfg llm.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	return NewClient(Config{
		Name:       string(cfg.Type),
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		ModelName:  cfg.ModelName,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, logger)
}

// Complete forwards a chat completion. The caller's model wins over the
// configured default. Transient failures are retried with a fixed delay.
func (c *Client) Complete(ctx context.Context, in *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	req := *in
	if req.Model == "" {
		req.Model = c.cfg.ModelName
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.post(ctx, payload)
		if err == nil {
			return c.finish(resp, req.Model), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.logger.Warn("Chat completion attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !retryable(err) {
			break
		}
	}

	return nil, fmt.Errorf("%s failed: %w", c.cfg.Name, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte) (*models.ChatCompletionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "Annotation Console")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &upstreamError{provider: c.cfg.Name, status: resp.StatusCode, body: string(body)}
	}

	var out struct {
		models.ChatCompletionResponse
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	// some gateways report failures inside a 200
	if out.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", c.cfg.Name, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("no choices in %s response", c.cfg.Name)
	}
	return &out.ChatCompletionResponse, nil
}

func (c *Client) finish(resp *models.ChatCompletionResponse, model string) *models.ChatCompletionResponse {
	resp.Provider = c.cfg.Name
	if resp.Model == "" {
		resp.Model = model
	}
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	return resp
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GetModelInfo returns information about the model being used.
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider": c.cfg.Name,
		"model":    c.cfg.ModelName,
		"base_url": c.cfg.BaseURL,
	}
}
