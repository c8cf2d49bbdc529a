package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HashMessages returns the md5 of the messages encoded with sorted keys.
// Encoding through a generic value sorts map keys.
func HashMessages(messages []models.Message) (string, error) {
	raw, err := json.Marshal(messages)
	if err != nil {
		return "", err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ProjectForKey resolves a bearer call key
func (s *Service) ProjectForKey(ctx context.Context, secret string) (*models.CallKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrUnauthorized
	}
	key, err := s.repo.CallKey(ctx, secret)
	if err != nil {
		if errors.Is(mapRepo(err), ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if !key.IsActive {
		return nil, ErrForbidden
	}
	return key, nil
}

// Complete forwards a chat completion through the provider chain and records
// the request with its response as a new annotation target
func (s *Service) Complete(ctx context.Context, key *models.CallKey, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, invalid("messages must not be empty")
	}
	if s.provider == nil {
		completionsTotal.WithLabelValues("unavailable").Inc()
		return nil, ErrUnavailable
	}

	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		completionsTotal.WithLabelValues("provider_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := s.record(ctx, key, req, resp); err != nil {
		// the caller still gets its completion
		completionsTotal.WithLabelValues("record_error").Inc()
		s.logger.Error("Failed to record completion", zap.String("project_id", key.ProjectID), zap.Error(err))
		return resp, nil
	}

	completionsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

func (s *Service) record(ctx context.Context, key *models.CallKey, req *models.ChatCompletionRequest, resp *models.ChatCompletionResponse) error {
	messages, err := json.Marshal(req.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	hash, err := HashMessages(req.Messages)
	if err != nil {
		return fmt.Errorf("failed to hash messages: %w", err)
	}

	schema, err := s.activeValidator(ctx, key.ProjectID)
	if err != nil {
		return err
	}

	content := resp.Content()
	created := resp.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}

	reqRow := &repository.RequestRow{
		ID:             uuid.New().String(),
		ProjectID:      key.ProjectID,
		CallKeyID:      key.ID,
		Messages:       string(messages),
		MessagesHash:   hash,
		ModelName:      req.Model,
		ResponseFormat: string(req.ResponseFormat),
	}
	respRow := &repository.ResponseRow{
		ID:                 uuid.New().String(),
		ProviderResponseID: resp.ID,
		Content:            content,
		ModelName:          model,
		Created:            created,
		IsJSON:             isJSON(content),
		ObeysSchema:        compliance(schema, content),
	}
	if err := s.repo.CreateCompletion(ctx, reqRow, uuid.New().String(), respRow); err != nil {
		return err
	}

	s.logger.Info("Completion recorded",
		zap.String("project_id", key.ProjectID),
		zap.String("request_id", reqRow.ID),
		zap.String("provider", resp.Provider))
	return nil
}
