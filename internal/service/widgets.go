package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pairs returns the request/main-response pairs shared under a viewing id.
// No membership is required: the viewing id is the capability.
func (s *Service) Pairs(ctx context.Context, viewingID string) (*models.PairList, error) {
	project, err := s.repo.ProjectByViewingID(ctx, viewingID)
	if err != nil {
		return nil, mapRepo(err)
	}
	bundles, err := s.repo.LoadBundles(ctx, project.ID, "")
	if err != nil {
		return nil, err
	}

	out := &models.PairList{ViewingID: viewingID, Pairs: make([]models.CompletionPair, 0, len(bundles))}
	for _, b := range bundles {
		pair := models.CompletionPair{Request: b.Request.Model()}
		if b.Main != nil {
			resp := b.Main.Model(b.AnnotationModels(b.Main.AnnotationTargetID))
			pair.Response = &resp
		}
		out.Pairs = append(out.Pairs, pair)
	}
	return out, nil
}

// CreateWidget registers an embeddable widget for an origin
func (s *Service) CreateWidget(ctx context.Context, req models.NewWidgetRequest) (*models.Widget, error) {
	origin := strings.TrimRight(strings.TrimSpace(req.Origin), "/")
	if origin == "" {
		return nil, invalid("origin is required")
	}
	w := &models.Widget{
		ID:     uuid.New().String(),
		UserID: req.UserID,
		Origin: origin,
		Tools:  req.Tools,
	}
	if err := s.repo.CreateWidget(ctx, w); err != nil {
		return nil, err
	}
	s.logger.Info("Agent widget created", zap.String("widget_id", w.ID), zap.String("origin", origin))
	return w, nil
}

// ActiveWidget returns a widget that may serve requests
func (s *Service) ActiveWidget(ctx context.Context, id string) (*models.Widget, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	w, err := s.repo.GetWidget(ctx, id)
	if err != nil {
		return nil, mapRepo(err)
	}
	if !w.IsActive {
		return nil, ErrNotFound
	}
	return w, nil
}

// RelayWidget answers a widget conversation through the provider chain after
// checking the calling page's origin
func (s *Service) RelayWidget(ctx context.Context, origin string, req models.WidgetRequest) (*models.ChatCompletionResponse, error) {
	w, err := s.ActiveWidget(ctx, req.WidgetID)
	if err != nil {
		return nil, fmt.Errorf("%w: Agent Widget with ID %s not found or is inactive", ErrNotFound, req.WidgetID)
	}
	if origin == "" {
		return nil, invalid("Origin header is required for this request")
	}
	if strings.TrimRight(origin, "/") != w.Origin {
		s.logger.Warn("Widget origin mismatch",
			zap.String("widget_id", w.ID),
			zap.String("allowed", w.Origin),
			zap.String("received", origin))
		return nil, fmt.Errorf("%w: Origin '%s' is not allowed for this widget", ErrForbidden, origin)
	}
	if len(req.Input) == 0 {
		return nil, invalid("input must not be empty")
	}
	if s.provider == nil {
		return nil, ErrUnavailable
	}

	resp, err := s.provider.Complete(ctx, &models.ChatCompletionRequest{
		Model:    req.Model,
		Messages: req.Input,
		Tools:    w.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return resp, nil
}
