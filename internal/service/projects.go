package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultProjectName = "Default Project"

// CreateGuest creates a credential-less user
func (s *Service) CreateGuest(ctx context.Context) (*models.UserIdentity, error) {
	user := &models.UserIdentity{
		ID:           uuid.New().String(),
		AuthProvider: "guest",
		IsGuest:      true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create guest: %w", err)
	}
	s.logger.Info("Guest created", zap.String("user_id", user.ID))
	return user, nil
}

// DevLogin returns the registered user with email, creating it on first use
func (s *Service) DevLogin(ctx context.Context, email, name string) (*models.UserIdentity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, invalid("a valid email is required")
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(mapRepo(err), ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = &models.UserIdentity{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		AuthProvider: "dev",
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.logger.Info("User registered", zap.String("user_id", user.ID))
	return user, nil
}

// DefaultProject returns the caller's default project, provisioning it with
// a call key on first use. created reports whether it was just made.
func (s *Service) DefaultProject(ctx context.Context, user *models.UserIdentity) (resp *models.DefaultProjectResponse, created bool, err error) {
	if user == nil {
		return nil, false, ErrUnauthorized
	}

	project, key, err := s.repo.DefaultProject(ctx, user.ID)
	if err == nil {
		return &models.DefaultProjectResponse{Project: *project, Key: key}, false, nil
	}
	if !errors.Is(mapRepo(err), ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load default project: %w", err)
	}

	secret, err := newCallKey()
	if err != nil {
		return nil, false, err
	}
	p := &models.Project{
		ID:          uuid.New().String(),
		Name:        defaultProjectName,
		Description: "Created automatically",
		ViewingID:   uuid.New().String(),
	}
	k := &models.CallKey{ID: uuid.New().String(), Key: secret}
	if err := s.repo.CreateProject(ctx, p, user.ID, true, k); err != nil {
		return nil, false, fmt.Errorf("failed to create default project: %w", err)
	}

	s.logger.Info("Default project created",
		zap.String("project_id", p.ID),
		zap.String("user_id", user.ID))
	return &models.DefaultProjectResponse{Project: *p, Key: k}, true, nil
}

// authorize checks that user belongs to projectID. Strangers get
// ErrNotFound so project ids do not leak.
func (s *Service) authorize(ctx context.Context, user *models.UserIdentity, projectID string) error {
	if user == nil {
		return ErrUnauthorized
	}
	ok, err := s.repo.IsMember(ctx, projectID, user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func newCallKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate call key: %w", err)
	}
	return "sk_" + hex.EncodeToString(b), nil
}
