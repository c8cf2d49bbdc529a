package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"
)

// fakeAPI records calls and answers from its fields
type fakeAPI struct {
	mu sync.Mutex

	status       *models.LoginStatus
	statusErr    error
	validGuests  map[string]bool
	newGuestID   string
	projectErr   error
	guestErr     error
	block        chan struct{}
	guestCalls   int
	projectCalls []string
	logoutCalls  int
	headerGuest  string
}

func (f *fakeAPI) LoginStatus(ctx context.Context) (*models.LoginStatus, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status == nil {
		return &models.LoginStatus{}, nil
	}
	return f.status, nil
}

func (f *fakeAPI) CreateGuest(context.Context) (*models.UserIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guestCalls++
	if f.guestErr != nil {
		return nil, f.guestErr
	}
	if f.validGuests == nil {
		f.validGuests = map[string]bool{}
	}
	f.validGuests[f.newGuestID] = true
	return &models.UserIdentity{ID: f.newGuestID, IsGuest: true}, nil
}

func (f *fakeAPI) DefaultProject(_ context.Context, guestID string) (*models.DefaultProjectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projectCalls = append(f.projectCalls, guestID)
	if f.projectErr != nil {
		return nil, f.projectErr
	}
	if guestID != "" && !f.validGuests[guestID] {
		return nil, &apiclient.StatusError{StatusCode: http.StatusUnauthorized, Detail: "Unknown guest"}
	}
	return &models.DefaultProjectResponse{Project: models.Project{ID: "proj-" + guestID}}, nil
}

func (f *fakeAPI) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return nil
}

func (f *fakeAPI) SetGuestID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerGuest = id
}
