// Package session resolves who the console acts as and which project it
// works in, and keeps that answer in an explicitly initialised Context.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/localstore"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
)

// API is the part of the REST client identity resolution needs
type API interface {
	LoginStatus(ctx context.Context) (*models.LoginStatus, error)
	CreateGuest(ctx context.Context) (*models.UserIdentity, error)
	DefaultProject(ctx context.Context, guestID string) (*models.DefaultProjectResponse, error)
	Logout(ctx context.Context) error
	SetGuestID(id string)
}

// Source records which resolution step produced the outcome
type Source string

const (
	SourceUser        Source = "user"
	SourceGuestCookie Source = "guest_cookie"
	SourceCachedGuest Source = "cached_guest"
	SourceNewGuest    Source = "new_guest"
)

// Outcome is a resolved identity with its default project
type Outcome struct {
	ProjectID string
	Project   models.Project
	User      *models.UserIdentity
	Source    Source
}

// InitError is a terminal identity bootstrap failure. Nothing works without
// a project, so callers render it full screen and suggest a refresh.
type InitError struct {
	Step string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialization failed at %s: %v", e.Step, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// Resolver decides between authenticated user, cookie guest, cached guest
// and brand-new guest, in that order.
type Resolver struct {
	api      API
	store    localstore.Store
	guestKey string
	logger   *zap.Logger
}

// NewResolver creates a resolver that caches the guest id under guestKey
func NewResolver(api API, store localstore.Store, guestKey string, logger *zap.Logger) *Resolver {
	return &Resolver{api: api, store: store, guestKey: guestKey, logger: logger}
}

// Resolve runs the bootstrap once. It never retries.
func (r *Resolver) Resolve(ctx context.Context) (*Outcome, error) {
	status, err := r.api.LoginStatus(ctx)
	if err != nil {
		return nil, &InitError{Step: "login_status", Err: err}
	}

	if status.IsLoggedIn && !status.IsGuest {
		if err := r.store.Delete(ctx, r.guestKey); err != nil {
			r.logger.Warn("Failed to discard cached guest id", zap.Error(err))
		}
		r.api.SetGuestID("")
		return r.project(ctx, "", status.UserInfo, SourceUser)
	}

	if status.IsGuest && status.UserInfo != nil && status.UserInfo.ID != "" {
		guestID := status.UserInfo.ID
		if cached, _ := r.cachedGuestID(ctx); cached != guestID {
			if err := r.store.Set(ctx, r.guestKey, guestID); err != nil {
				return nil, &InitError{Step: "cache_guest", Err: err}
			}
			r.logger.Info("Reconciled cached guest id with session cookie", zap.String("guest_id", guestID))
		}
		r.api.SetGuestID(guestID)
		return r.project(ctx, "", status.UserInfo, SourceGuestCookie)
	}

	if cached, ok := r.cachedGuestID(ctx); ok {
		out, err := r.project(ctx, cached, &models.UserIdentity{ID: cached, IsGuest: true}, SourceCachedGuest)
		if err == nil {
			r.api.SetGuestID(cached)
			return out, nil
		}
		if apiclient.StatusCode(err) == 0 {
			return nil, err
		}
		r.logger.Info("Cached guest id rejected, creating a new guest",
			zap.String("guest_id", cached),
			zap.Int("status", apiclient.StatusCode(err)))
		if err := r.store.Delete(ctx, r.guestKey); err != nil {
			r.logger.Warn("Failed to discard cached guest id", zap.Error(err))
		}
	}

	guest, err := r.api.CreateGuest(ctx)
	if err != nil {
		return nil, &InitError{Step: "create_guest", Err: err}
	}
	if err := r.store.Set(ctx, r.guestKey, guest.ID); err != nil {
		return nil, &InitError{Step: "cache_guest", Err: err}
	}
	r.api.SetGuestID(guest.ID)
	r.logger.Info("Guest identity created", zap.String("guest_id", guest.ID))

	return r.project(ctx, guest.ID, guest, SourceNewGuest)
}

func (r *Resolver) cachedGuestID(ctx context.Context) (string, bool) {
	v, err := r.store.Get(ctx, r.guestKey)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			r.logger.Warn("Failed to read cached guest id", zap.Error(err))
		}
		return "", false
	}
	return v, v != ""
}

func (r *Resolver) project(ctx context.Context, guestID string, user *models.UserIdentity, src Source) (*Outcome, error) {
	resp, err := r.api.DefaultProject(ctx, guestID)
	if err != nil {
		return nil, &InitError{Step: "default_project", Err: err}
	}
	return &Outcome{
		ProjectID: resp.Project.ID,
		Project:   resp.Project,
		User:      user,
		Source:    src,
	}, nil
}
