package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// targetFor loads a target and checks the caller may touch it
func (s *Service) targetFor(ctx context.Context, user *models.UserIdentity, targetID string) (*repository.TargetRow, error) {
	target, err := s.repo.GetTarget(ctx, targetID)
	if err != nil {
		return nil, mapRepo(err)
	}
	if err := s.authorize(ctx, user, target.ProjectID); err != nil {
		return nil, err
	}
	return target, nil
}

// CreateAnnotation attaches a binary reward to a target
func (s *Service) CreateAnnotation(ctx context.Context, user *models.UserIdentity, targetID string, reward int) (*models.Annotation, error) {
	if reward != 0 && reward != 1 {
		return nil, invalid("reward must be 0 or 1")
	}
	target, err := s.targetFor(ctx, user, targetID)
	if err != nil {
		return nil, err
	}

	row := &repository.AnnotationRow{
		ID:                 uuid.New().String(),
		AnnotationTargetID: target.ID,
		Reward:             reward,
		RaterID:            user.ID,
		ProjectID:          target.ProjectID,
	}
	if err := s.repo.CreateAnnotation(ctx, row); err != nil {
		return nil, err
	}

	mutationsTotal.WithLabelValues("annotation_created").Inc()
	s.logger.Info("Annotation created",
		zap.String("annotation_id", row.ID),
		zap.String("target_id", target.ID),
		zap.Int("reward", reward))
	a := row.Model()
	return &a, nil
}

// DeleteAnnotation removes one annotation
func (s *Service) DeleteAnnotation(ctx context.Context, user *models.UserIdentity, annotationID string) error {
	row, err := s.repo.GetAnnotation(ctx, annotationID)
	if err != nil {
		return mapRepo(err)
	}
	if err := s.authorize(ctx, user, row.ProjectID); err != nil {
		return err
	}
	if err := s.repo.DeleteAnnotation(ctx, annotationID); err != nil {
		return mapRepo(err)
	}
	mutationsTotal.WithLabelValues("annotation_deleted").Inc()
	s.logger.Info("Annotation deleted", zap.String("annotation_id", annotationID))
	return nil
}

// DeleteTarget removes a main or alternative response with its annotations
func (s *Service) DeleteTarget(ctx context.Context, user *models.UserIdentity, targetID string) error {
	target, err := s.targetFor(ctx, user, targetID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTarget(ctx, target.ID); err != nil {
		return mapRepo(err)
	}
	mutationsTotal.WithLabelValues("target_deleted").Inc()
	s.logger.Info("Annotation target deleted", zap.String("target_id", target.ID), zap.String("kind", target.Kind))
	return nil
}

// CreateAlternative stores a rater-written response for a request
func (s *Service) CreateAlternative(ctx context.Context, user *models.UserIdentity, requestID, content string) (*models.ResponseRecord, error) {
	if strings.TrimSpace(content) == "" {
		return nil, invalid("alternative_content must not be empty")
	}
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, mapRepo(err)
	}
	if err := s.authorize(ctx, user, req.ProjectID); err != nil {
		return nil, err
	}
	schema, err := s.activeValidator(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	target := &repository.TargetRow{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		RequestID: req.ID,
	}
	resp := &repository.ResponseRow{
		ID:          uuid.New().String(),
		Content:     content,
		ModelName:   "human",
		Created:     time.Now().Unix(),
		IsJSON:      isJSON(content),
		ObeysSchema: compliance(schema, content),
	}
	if err := s.repo.CreateAlternative(ctx, target, resp); err != nil {
		return nil, fmt.Errorf("failed to create alternative: %w", err)
	}

	mutationsTotal.WithLabelValues("alternative_created").Inc()
	s.logger.Info("Alternative created", zap.String("request_id", req.ID), zap.String("target_id", target.ID))
	rec := resp.Model(nil)
	return &rec, nil
}

// RequestDetail returns one request with its main response and alternatives
func (s *Service) RequestDetail(ctx context.Context, user *models.UserIdentity, projectID, requestID string) (*models.RequestDetail, error) {
	if err := s.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	bundles, err := s.repo.LoadBundles(ctx, projectID, requestID)
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, ErrNotFound
	}
	b := bundles[0]

	detail := &models.RequestDetail{
		Request:      b.Request.Model(),
		Alternatives: make([]models.ResponseRecord, 0, len(b.Alternatives)),
	}
	if b.Main != nil {
		main := b.Main.Model(b.AnnotationModels(b.Main.AnnotationTargetID))
		detail.MainResponse = &main
	}
	for _, alt := range b.Alternatives {
		detail.Alternatives = append(detail.Alternatives, alt.Model(b.AnnotationModels(alt.AnnotationTargetID)))
	}
	return detail, nil
}

// ListRequests returns the requests overview of a project, newest first
func (s *Service) ListRequests(ctx context.Context, user *models.UserIdentity, projectID string) (*models.RequestList, error) {
	if err := s.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	bundles, err := s.repo.LoadBundles(ctx, projectID, "")
	if err != nil {
		return nil, err
	}
	out := &models.RequestList{Requests: make([]models.RequestSummary, 0, len(bundles))}
	for _, b := range bundles {
		out.Requests = append(out.Requests, summarize(b))
	}
	return out, nil
}

const nameLength = 60

func summarize(b repository.Bundle) models.RequestSummary {
	req := b.Request.Model()
	question := lastUserMessage(req.Messages)
	name := question
	if r := []rune(name); len(r) > nameLength {
		name = string(r[:nameLength]) + "..."
	}

	score := scoreBundle(b)
	return models.RequestSummary{
		ID:                 req.ID,
		Name:               name,
		Question:           question,
		Model:              req.Model,
		TotalResponses:     len(b.Responses()),
		AnnotatedResponses: score.annotated,
		Timestamp:          req.Timestamp,
		SFTStatus:          score.sftStatus(),
		DPOStatus:          score.dpoStatus(),
	}
}

func lastUserMessage(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}
