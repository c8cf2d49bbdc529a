package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req models.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "default-model", req.Model)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "cmpl-1",
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": "hi"}}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL, ModelName: "default-model"}, zap.NewNop())
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &models.ChatCompletionRequest{
		Messages: []models.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content())
	assert.Equal(t, "openrouter", resp.Provider)
	assert.Equal(t, "default-model", resp.Model)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL, RetryDelay: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &models.ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content())
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL, MaxRetries: 3, RetryDelay: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), &models.ChatCompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, zap.NewNop())
	assert.Error(t, err)
}
