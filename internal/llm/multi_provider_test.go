package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	name  string
	err   error
	calls int
}

func (s *stubProvider) Complete(context.Context, *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &models.ChatCompletionResponse{Provider: s.name}, nil
}

func (s *stubProvider) Close() error { return nil }

func (s *stubProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": s.name}
}

func TestMultiProvider_FallsBackOnFailure(t *testing.T) {
	bad := &stubProvider{name: "bad", err: errors.New("boom")}
	good := &stubProvider{name: "good"}
	c := NewMultiProvider([]Provider{bad, good}, 1, zap.NewNop())

	resp, err := c.Complete(context.Background(), &models.ChatCompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Provider)

	// switched for good after reaching the failure budget
	_, err = c.Complete(context.Background(), &models.ChatCompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, c.GetModelInfo()["provider_index"])
}

func TestMultiProvider_RateLimitSwitchesImmediately(t *testing.T) {
	limited := &stubProvider{name: "limited", err: errors.New("status 429: rate limit")}
	good := &stubProvider{name: "good"}
	c := NewMultiProvider([]Provider{limited, good}, 5, zap.NewNop())

	resp, err := c.Complete(context.Background(), &models.ChatCompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Provider)
}

func TestMultiProvider_AllFail(t *testing.T) {
	c := NewMultiProvider([]Provider{
		&stubProvider{err: errors.New("a")},
		&stubProvider{err: errors.New("b")},
	}, 3, zap.NewNop())

	_, err := c.Complete(context.Background(), &models.ChatCompletionRequest{})
	assert.ErrorContains(t, err, "all providers failed")
}

func TestNewMultiProviderClient_UsesFactories(t *testing.T) {
	RegisterFactory("stub", func(cfg ProviderConfig, _ *zap.Logger) (Provider, error) {
		return &stubProvider{name: cfg.ModelName}, nil
	})

	c, err := NewMultiProviderClient(MultiProviderConfig{Providers: []ProviderConfig{
		{Type: "unknown"},
		{Type: "stub", ModelName: "m1", RequestsPerMinute: 600},
	}}, zap.NewNop())
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &models.ChatCompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.Provider)

	_, err = NewMultiProviderClient(MultiProviderConfig{Providers: []ProviderConfig{{Type: "unknown"}}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestRateLimitedProvider_ContextCancel(t *testing.T) {
	p := NewRateLimitedProvider(&stubProvider{}, 1, zap.NewNop())
	_, err := p.Complete(context.Background(), &models.ChatCompletionRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Complete(ctx, &models.ChatCompletionRequest{})
	assert.Error(t, err)
}
