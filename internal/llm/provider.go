package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOpenAI     ProviderType = "openai"
)

// ProviderConfig holds configuration for a single provider instance
type ProviderConfig struct {
	Type       ProviderType  `yaml:"type"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	ModelName  string        `yaml:"model_name"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Rate limiting per provider
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Provider is anything that can answer a chat completion
type Provider interface {
	Complete(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error)
	Close() error
	GetModelInfo() map[string]interface{}
}

// RateLimitedProvider wraps a provider with a token bucket
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewRateLimitedProvider wraps a provider with rate limiting
func NewRateLimitedProvider(provider Provider, requestsPerMinute int, logger *zap.Logger) *RateLimitedProvider {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 8
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute),
		logger:   logger,
	}
}

func (p *RateLimitedProvider) Complete(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	return p.provider.Complete(ctx, req)
}

func (p *RateLimitedProvider) Close() error {
	return p.provider.Close()
}

func (p *RateLimitedProvider) GetModelInfo() map[string]interface{} {
	return p.provider.GetModelInfo()
}
