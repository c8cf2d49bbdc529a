package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrNoProviders is returned when a multi-provider client has nothing to call
var ErrNoProviders = errors.New("no providers could be initialized")

var providerSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llm_provider_switches_total",
	Help: "Times the completion proxy moved on to the next provider.",
}, []string{"reason"})

// Factory builds a provider from its configuration. Concrete provider
// packages are registered from main.
type Factory func(cfg ProviderConfig, logger *zap.Logger) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[ProviderType]Factory{}
)

// RegisterFactory makes a provider type available to NewMultiProviderClient
func RegisterFactory(t ProviderType, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[t] = f
}

func lookupFactory(t ProviderType) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[t]
	return f, ok
}

// MultiProviderConfig holds configuration for multiple providers
type MultiProviderConfig struct {
	Providers   []ProviderConfig
	MaxFailures int // consecutive failures before the chain moves on
}

type slot struct {
	provider Provider
	failures int
}

// MultiProviderClient answers from one provider at a time and moves along
// the chain when the active one keeps failing or is rate limited.
type MultiProviderClient struct {
	logger      *zap.Logger
	maxFailures int

	mu     sync.Mutex
	slots  []slot
	active int
}

// NewMultiProviderClient builds every configured provider it can, wraps each
// in its own rate limiter and chains them in config order.
func NewMultiProviderClient(cfg MultiProviderConfig, logger *zap.Logger) (*MultiProviderClient, error) {
	var built []Provider
	for i, pc := range cfg.Providers {
		log := logger.With(zap.String("type", string(pc.Type)), zap.Int("index", i))

		factory, ok := lookupFactory(pc.Type)
		if !ok {
			log.Warn("Unknown provider type, skipping")
			continue
		}
		p, err := factory(pc, logger)
		if err != nil {
			log.Error("Failed to create provider", zap.Error(err))
			continue
		}
		built = append(built, NewRateLimitedProvider(p, pc.RequestsPerMinute, logger))
		log.Info("Provider initialized",
			zap.String("model", pc.ModelName),
			zap.Int("rate_limit", pc.RequestsPerMinute))
	}

	if len(built) == 0 {
		return nil, ErrNoProviders
	}
	return NewMultiProvider(built, cfg.MaxFailures, logger), nil
}

// NewMultiProvider chains already constructed providers
func NewMultiProvider(providers []Provider, maxFailures int, logger *zap.Logger) *MultiProviderClient {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	slots := make([]slot, len(providers))
	for i, p := range providers {
		slots[i] = slot{provider: p}
	}
	return &MultiProviderClient{logger: logger, maxFailures: maxFailures, slots: slots}
}

func (c *MultiProviderClient) current() (Provider, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[c.active].provider, c.active
}

// settle records the outcome of a call on slot i and advances the chain if
// needed. Only the slot that is still active can move it.
func (c *MultiProviderClient) settle(i int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.slots[i].failures = 0
		return
	}
	c.slots[i].failures++

	reason := ""
	switch {
	case isRateLimitError(err):
		reason = "rate_limited"
	case c.slots[i].failures >= c.maxFailures:
		reason = "failures"
	}
	if reason == "" || i != c.active {
		return
	}

	c.slots[i].failures = 0
	c.active = (c.active + 1) % len(c.slots)
	providerSwitches.WithLabelValues(reason).Inc()
	c.logger.Warn("Switching provider",
		zap.Int("from_index", i),
		zap.Int("to_index", c.active),
		zap.String("reason", reason))
}

// Complete asks each provider at most once, starting from the active one
func (c *MultiProviderClient) Complete(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < len(c.slots); attempt++ {
		p, i := c.current()

		resp, err := p.Complete(ctx, req)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.settle(i, err)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		c.logger.Error("Provider failed",
			zap.Int("provider_index", i),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "quota", "rate limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Close closes every provider and returns the first error
func (c *MultiProviderClient) Close() error {
	var errs []error
	for _, s := range c.slots {
		if err := s.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetModelInfo describes the active provider and its place in the chain
func (c *MultiProviderClient) GetModelInfo() map[string]interface{} {
	p, i := c.current()
	info := p.GetModelInfo()

	c.mu.Lock()
	defer c.mu.Unlock()
	info["provider_index"] = i
	info["total_providers"] = len(c.slots)
	info["failure_count"] = c.slots[i].failures
	return info
}
