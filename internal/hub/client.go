package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the hub rejects the write token
var ErrUnauthorized = errors.New("hub rejected the access token")

// Client pushes dataset files to a Hugging Face compatible hub
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a hub client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://huggingface.co"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Upload describes one file commit into a dataset repository
type Upload struct {
	Username string
	Token    string
	Repo     string // repository name without the owner
	Path     string // path of the file inside the repository
	Content  []byte
	Summary  string
}

// RepoID is the owner-qualified repository name
func (u Upload) RepoID() string {
	return u.Username + "/" + u.Repo
}

// Push creates the dataset repository if needed and commits the file to main
func (c *Client) Push(ctx context.Context, up Upload) error {
	if up.Username == "" || up.Token == "" {
		return ErrUnauthorized
	}
	if err := c.createRepo(ctx, up); err != nil {
		return err
	}
	if err := c.commit(ctx, up); err != nil {
		return err
	}
	c.logger.Info("Dataset pushed to hub",
		zap.String("repo", up.RepoID()),
		zap.String("path", up.Path),
		zap.Int("bytes", len(up.Content)))
	return nil
}

func (c *Client) createRepo(ctx context.Context, up Upload) error {
	body, err := json.Marshal(map[string]interface{}{
		"type":    "dataset",
		"name":    up.Repo,
		"private": true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal repo request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/repos/create", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+up.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// 409: the repository already exists
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	return checkStatus(resp, "create repository")
}

func (c *Client) commit(ctx context.Context, up Upload) error {
	summary := up.Summary
	if summary == "" {
		summary = "Upload " + up.Path
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	lines := []map[string]interface{}{
		{"key": "header", "value": map[string]string{"summary": summary, "description": ""}},
		{"key": "file", "value": map[string]string{
			"path":     up.Path,
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString(up.Content),
		}},
	}
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to encode commit: %w", err)
		}
	}

	url := fmt.Sprintf("%s/api/datasets/%s/commit/main", c.baseURL, up.RepoID())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Authorization", "Bearer "+up.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, "commit")
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("hub %s failed with status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
