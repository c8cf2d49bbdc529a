package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/llm"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config for Gemini client
type Config struct {
	APIKey     string
	ModelName  string // default "gemini-2.0-flash"; a "gemini*" model in the request wins
	MaxRetries int
	RetryDelay time.Duration
}

// Client answers OpenAI-style chat completions through the Gemini API
type Client struct {
	cfg    Config
	client *genai.Client
	logger *zap.Logger
}

// NewClient creates a new Gemini client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini client initialized", zap.String("model", cfg.ModelName))
	return &Client{cfg: cfg, client: client, logger: logger.With(zap.String("provider", "gemini"))}, nil
}

// Factory builds a client from a provider entry of the config file
func Factory(cfg llm.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	return NewClient(Config{
		APIKey:     cfg.APIKey,
		ModelName:  cfg.ModelName,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
	}, logger)
}

// Close closes the Gemini client
func (c *Client) Close() error {
	return c.client.Close()
}

// conversation splits chat messages into a system instruction, the history
// and the final user turn Gemini expects as the new message.
func conversation(msgs []models.Message) (system string, history []*genai.Content, last string, err error) {
	var sys []string
	var turns []models.Message
	for _, m := range msgs {
		if m.Role == "system" || m.Role == "developer" {
			sys = append(sys, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return "", nil, "", fmt.Errorf("no user message to send")
	}
	final := turns[len(turns)-1]
	if final.Role != "user" {
		return "", nil, "", fmt.Errorf("last message must come from the user, got %q", final.Role)
	}
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return strings.Join(sys, "\n\n"), history, final.Content, nil
}

func wantsJSON(format json.RawMessage) bool {
	if len(format) == 0 {
		return false
	}
	var f struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(format, &f); err != nil {
		return false
	}
	return f.Type == "json_object" || f.Type == "json_schema"
}

// model applies the request's generation settings to a Gemini model
func (c *Client) model(req *models.ChatCompletionRequest, system string) (*genai.GenerativeModel, string) {
	name := c.cfg.ModelName
	if strings.HasPrefix(req.Model, "gemini") {
		name = req.Model
	}
	m := c.client.GenerativeModel(name)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if wantsJSON(req.ResponseFormat) {
		m.ResponseMIMEType = "application/json"
	}
	if req.Temperature != nil {
		m.SetTemperature(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	return m, name
}

// toCompletion converts the first candidate into a chat completion
func toCompletion(resp *genai.GenerateContentResponse, modelName string) (*models.ChatCompletionResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}
	cand := resp.Candidates[0]

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := &models.ChatCompletionResponse{
		ID:       "gemini-" + uuid.NewString(),
		Object:   "chat.completion",
		Created:  time.Now().Unix(),
		Model:    modelName,
		Provider: "gemini",
		Choices: []models.ChatChoice{{
			Message:      models.Message{Role: "assistant", Content: text.String()},
			FinishReason: strings.ToLower(cand.FinishReason.String()),
		}},
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = models.ChatUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Complete answers a chat completion, retrying failed or empty answers
func (c *Client) Complete(ctx context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	system, history, last, err := conversation(req.Messages)
	if err != nil {
		return nil, err
	}
	model, modelName := c.model(req, system)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		cs := model.StartChat()
		cs.History = history
		resp, err := cs.SendMessage(ctx, genai.Text(last))
		if err == nil {
			var out *models.ChatCompletionResponse
			if out, err = toCompletion(resp, modelName); err == nil {
				return out, nil
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.logger.Warn("Gemini attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}

	return nil, fmt.Errorf("gemini failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":    "gemini",
		"model":       c.cfg.ModelName,
		"max_retries": c.cfg.MaxRetries,
	}
}
