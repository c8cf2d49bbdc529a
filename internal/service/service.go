package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kmrasmussen/intersebd-sub000/internal/hub"
	"github.com/kmrasmussen/intersebd-sub000/internal/llm"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("not authenticated")
	ErrValidation   = errors.New("invalid request")
	ErrUnavailable  = errors.New("no completion provider configured")
	ErrUpstream     = errors.New("upstream provider failed")
)

var (
	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_completions_total",
		Help: "Proxied chat completions by outcome.",
	}, []string{"outcome"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotation_mutations_total",
		Help: "Annotation, alternative and target mutations.",
	}, []string{"kind"})
)

// Pusher uploads dataset files to an external hub
type Pusher interface {
	Push(ctx context.Context, up hub.Upload) error
}

// Service holds the business rules behind the REST API
type Service struct {
	repo     *repository.Repository
	provider llm.Provider
	hub      Pusher
	logger   *zap.Logger
}

// New creates the service. provider may be nil, in which case proxied
// completions and widget requests answer ErrUnavailable.
func New(repo *repository.Repository, provider llm.Provider, pusher Pusher, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		hub:      pusher,
		logger:   logger,
	}
}

// GetUser exposes user lookup to the session middleware
func (s *Service) GetUser(ctx context.Context, id string) (*models.UserIdentity, error) {
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, mapRepo(err)
	}
	return user, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepo converts storage sentinels into service sentinels
func mapRepo(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
