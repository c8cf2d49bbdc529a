// Package annotations holds the client-side state of one loaded request and
// applies annotation, alternative and deletion results after the API
// confirms them.
package annotations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
)

var (
	ErrInvalidReward = errors.New("reward must be 0 or 1")
	ErrEmptyContent  = errors.New("alternative content must not be empty")
	ErrUnknownTarget = errors.New("unknown annotation target")
	ErrNotLoaded     = errors.New("request not loaded")
	ErrClosed        = errors.New("store closed")
)

// API is the part of the REST client the store calls
type API interface {
	RequestDetail(ctx context.Context, projectID, requestID string) (*models.RequestDetail, error)
	CreateAnnotation(ctx context.Context, targetID string, reward int) (*models.Annotation, error)
	DeleteAnnotation(ctx context.Context, annotationID string) error
	DeleteTarget(ctx context.Context, targetID string) error
	CreateAlternative(ctx context.Context, requestID, content string) (*models.ResponseRecord, error)
}

// FormGate decides whether a response may be shown as a form
type FormGate interface {
	CanShowForm(r models.ResponseRecord) bool
}

// flags tracks in-flight calls and their last error by key
type flags struct {
	loading map[string]bool
	errors  map[string]string
}

func newFlags() flags {
	return flags{loading: map[string]bool{}, errors: map[string]string{}}
}

func (f flags) snapshot() Flags {
	out := Flags{Loading: make(map[string]bool, len(f.loading)), Errors: make(map[string]string, len(f.errors))}
	for k, v := range f.loading {
		out.Loading[k] = v
	}
	for k, v := range f.errors {
		out.Errors[k] = v
	}
	return out
}

// Store is the annotation state of one request. Calls on different keys run
// concurrently; the lock is only held while a result is applied.
type Store struct {
	api       API
	gate      FormGate
	projectID string
	requestID string
	logger    *zap.Logger

	life   context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	loaded     bool
	loading    bool
	loadErr    string
	state      state
	annotate   flags // by target id
	unannotate flags // by annotation id
	deleteResp flags // by target id
	altLoading bool
	altErr     string
}

// NewStore creates a store for one request. gate may be nil.
func NewStore(api API, gate FormGate, projectID, requestID string, logger *zap.Logger) *Store {
	life, cancel := context.WithCancel(context.Background())
	return &Store{
		api:        api,
		gate:       gate,
		projectID:  projectID,
		requestID:  requestID,
		logger:     logger.With(zap.String("request_id", requestID)),
		life:       life,
		cancel:     cancel,
		annotate:   newFlags(),
		unannotate: newFlags(),
		deleteResp: newFlags(),
	}
}

// Close cancels in-flight calls. Results arriving afterwards are dropped.
func (s *Store) Close() {
	s.cancel()
}

// scope ties ctx to the store lifetime
func (s *Store) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// apply runs fn under the lock unless the store has been closed
func (s *Store) apply(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.life.Err() != nil {
		return ErrClosed
	}
	fn()
	return nil
}

// Load fetches the request detail and replaces the state
func (s *Store) Load(ctx context.Context) error {
	if err := s.apply(func() { s.loading = true; s.loadErr = "" }); err != nil {
		return err
	}

	ctx, done := s.scope(ctx)
	defer done()

	detail, err := s.api.RequestDetail(ctx, s.projectID, s.requestID)

	applyErr := s.apply(func() {
		s.loading = false
		if err != nil {
			s.loadErr = apiclient.Message(err)
			return
		}
		s.state = newState(detail)
		s.loaded = true
	})
	if applyErr != nil {
		return applyErr
	}
	if err != nil {
		return fmt.Errorf("failed to load request: %w", err)
	}
	return nil
}

func (s *Store) checkTarget(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	if !s.state.has(targetID) {
		return ErrUnknownTarget
	}
	return nil
}

// AddAnnotation records a reward on a target once the API accepts it
func (s *Store) AddAnnotation(ctx context.Context, targetID string, reward int) (*models.Annotation, error) {
	if reward != 0 && reward != 1 {
		return nil, ErrInvalidReward
	}
	if err := s.checkTarget(targetID); err != nil {
		return nil, err
	}
	if err := s.apply(func() { s.annotate.loading[targetID] = true; delete(s.annotate.errors, targetID) }); err != nil {
		return nil, err
	}

	ctx, done := s.scope(ctx)
	defer done()

	a, err := s.api.CreateAnnotation(ctx, targetID, reward)

	applyErr := s.apply(func() {
		delete(s.annotate.loading, targetID)
		if err != nil {
			s.annotate.errors[targetID] = apiclient.Message(err)
			return
		}
		s.state = withAnnotation(s.state, targetID, *a)
	})
	if applyErr != nil {
		return nil, applyErr
	}
	if err != nil {
		s.logger.Warn("Failed to create annotation", zap.String("target_id", targetID), zap.Error(err))
		return nil, fmt.Errorf("failed to create annotation: %w", err)
	}
	return a, nil
}

// DeleteAnnotation removes an annotation once the API confirms it. Errors
// are keyed by annotation id.
func (s *Store) DeleteAnnotation(ctx context.Context, targetID, annotationID string) error {
	if err := s.checkTarget(targetID); err != nil {
		return err
	}
	if err := s.apply(func() { s.unannotate.loading[annotationID] = true; delete(s.unannotate.errors, annotationID) }); err != nil {
		return err
	}

	ctx, done := s.scope(ctx)
	defer done()

	err := s.api.DeleteAnnotation(ctx, annotationID)

	applyErr := s.apply(func() {
		delete(s.unannotate.loading, annotationID)
		if err != nil {
			s.unannotate.errors[annotationID] = apiclient.Message(err)
			return
		}
		s.state = withoutAnnotation(s.state, targetID, annotationID)
	})
	if applyErr != nil {
		return applyErr
	}
	if err != nil {
		s.logger.Warn("Failed to delete annotation", zap.String("annotation_id", annotationID), zap.Error(err))
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	return nil
}

// DeleteResponse removes the response behind targetID. Deleting the main
// response leaves a "main response missing" marker and is not re-fetched.
func (s *Store) DeleteResponse(ctx context.Context, targetID string) error {
	if err := s.checkTarget(targetID); err != nil {
		return err
	}
	if err := s.apply(func() { s.deleteResp.loading[targetID] = true; delete(s.deleteResp.errors, targetID) }); err != nil {
		return err
	}

	ctx, done := s.scope(ctx)
	defer done()

	err := s.api.DeleteTarget(ctx, targetID)

	applyErr := s.apply(func() {
		delete(s.deleteResp.loading, targetID)
		if err != nil {
			s.deleteResp.errors[targetID] = apiclient.Message(err)
			return
		}
		s.state = withoutResponse(s.state, targetID)
	})
	if applyErr != nil {
		return applyErr
	}
	if err != nil {
		s.logger.Warn("Failed to delete response", zap.String("target_id", targetID), zap.Error(err))
		return fmt.Errorf("failed to delete response: %w", err)
	}
	return nil
}

// AddAlternative stores rater-written content as a new alternative
func (s *Store) AddAlternative(ctx context.Context, content string) (*models.ResponseRecord, error) {
	if strings.TrimSpace(content) == "" {
		_ = s.apply(func() { s.altErr = ErrEmptyContent.Error() })
		return nil, ErrEmptyContent
	}
	if err := s.apply(func() { s.altLoading = true; s.altErr = "" }); err != nil {
		return nil, err
	}

	ctx, done := s.scope(ctx)
	defer done()

	r, err := s.api.CreateAlternative(ctx, s.requestID, content)

	applyErr := s.apply(func() {
		s.altLoading = false
		if err != nil {
			s.altErr = apiclient.Message(err)
			return
		}
		s.state = withAlternative(s.state, *r)
	})
	if applyErr != nil {
		return nil, applyErr
	}
	if err != nil {
		s.logger.Warn("Failed to create alternative", zap.Error(err))
		return nil, fmt.Errorf("failed to create alternative: %w", err)
	}
	return r, nil
}
