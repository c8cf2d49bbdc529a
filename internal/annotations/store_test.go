package annotations

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAPI keeps the authoritative annotation lists the way the backend does
type fakeAPI struct {
	mu        sync.Mutex
	detail    *models.RequestDetail
	byTarget  map[string][]models.Annotation
	nextID    int
	calls     int
	deleteErr map[string]error
	targetErr error
	gate      map[string]chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		detail:    sampleDetail(),
		byTarget:  map[string][]models.Annotation{"t-main": {{ID: "a1", Reward: 1}}},
		deleteErr: map[string]error{},
		gate:      map[string]chan struct{}{},
	}
}

func (f *fakeAPI) wait(ctx context.Context, key string) error {
	f.mu.Lock()
	ch := f.gate[key]
	f.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeAPI) RequestDetail(context.Context, string, string) (*models.RequestDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.detail, nil
}

func (f *fakeAPI) CreateAnnotation(ctx context.Context, targetID string, reward int) (*models.Annotation, error) {
	if err := f.wait(ctx, targetID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.nextID++
	a := models.Annotation{ID: targetID + "-" + string(rune('a'+f.nextID)), Reward: reward}
	f.byTarget[targetID] = append(f.byTarget[targetID], a)
	return &a, nil
}

func (f *fakeAPI) DeleteAnnotation(ctx context.Context, annotationID string) error {
	if err := f.wait(ctx, annotationID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.deleteErr[annotationID]; err != nil {
		return err
	}
	for t, list := range f.byTarget {
		kept := list[:0:0]
		for _, a := range list {
			if a.ID != annotationID {
				kept = append(kept, a)
			}
		}
		f.byTarget[t] = kept
	}
	return nil
}

func (f *fakeAPI) DeleteTarget(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.targetErr
}

func (f *fakeAPI) CreateAlternative(_ context.Context, _ string, content string) (*models.ResponseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &models.ResponseRecord{ID: "alt-new", AnnotationTargetID: "t-new", Content: content}, nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type gateFunc func(models.ResponseRecord) bool

func (g gateFunc) CanShowForm(r models.ResponseRecord) bool { return g(r) }

func loadedStore(t *testing.T, api *fakeAPI) *Store {
	t.Helper()
	s := NewStore(api, nil, "p1", "r1", zap.NewNop())
	t.Cleanup(s.Close)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestAddAnnotation(t *testing.T) {
	api := newFakeAPI()
	s := loadedStore(t, api)

	a, err := s.AddAnnotation(context.Background(), "t-alt1", 0)
	require.NoError(t, err)

	assert.Equal(t, []models.Annotation{*a}, s.Annotations("t-alt1"))
	v := s.View()
	assert.Empty(t, v.Annotate.Loading)
	assert.Empty(t, v.Annotate.Errors)
}

func TestAddAnnotation_RejectsBadRewardWithoutNetwork(t *testing.T) {
	api := newFakeAPI()
	s := loadedStore(t, api)
	before := api.callCount()

	_, err := s.AddAnnotation(context.Background(), "t-alt1", 2)
	assert.ErrorIs(t, err, ErrInvalidReward)
	assert.Equal(t, before, api.callCount())
}

func TestDeleteAnnotation_NotFoundLeavesStateAndKeysError(t *testing.T) {
	api := newFakeAPI()
	api.deleteErr["a1"] = &apiclient.StatusError{StatusCode: http.StatusNotFound, Detail: "Annotation not found"}
	s := NewStore(api, nil, "p1", "r1", zap.NewNop())
	defer s.Close()

	api.detail.MainResponse.AnnotationTargetID = "t1"
	require.NoError(t, s.Load(context.Background()))

	err := s.DeleteAnnotation(context.Background(), "t1", "a1")
	require.Error(t, err)
	assert.True(t, apiclient.IsNotFound(err))

	assert.Equal(t, []models.Annotation{{ID: "a1", Reward: 1}}, s.Annotations("t1"))
	v := s.View()
	assert.Equal(t, "Annotation not found", v.DeleteAnnotation.Errors["a1"])
	assert.Empty(t, v.DeleteAnnotation.Loading)
}

func TestDeleteResponse_MainMarksMissing(t *testing.T) {
	api := newFakeAPI()
	s := loadedStore(t, api)

	require.NoError(t, s.DeleteResponse(context.Background(), "t-main"))

	v := s.View()
	assert.True(t, v.MainMissing)
	assert.Nil(t, v.Main)
	assert.Len(t, v.Alternatives, 2)
}

func TestDeleteResponse_AlternativeKeepsMain(t *testing.T) {
	api := newFakeAPI()
	s := loadedStore(t, api)

	require.NoError(t, s.DeleteResponse(context.Background(), "t-alt2"))

	v := s.View()
	require.NotNil(t, v.Main)
	assert.False(t, v.MainMissing)
	require.Len(t, v.Alternatives, 1)
	assert.Equal(t, "t-alt1", v.Alternatives[0].AnnotationTargetID)
}

func TestDeleteResponse_FailureKeyedByTarget(t *testing.T) {
	api := newFakeAPI()
	api.targetErr = &apiclient.StatusError{StatusCode: http.StatusForbidden, Detail: "Forbidden"}
	s := loadedStore(t, api)

	require.Error(t, s.DeleteResponse(context.Background(), "t-alt1"))
	v := s.View()
	assert.Equal(t, "Forbidden", v.DeleteResponse.Errors["t-alt1"])
	assert.Len(t, v.Alternatives, 2)
}

func TestAddAlternative(t *testing.T) {
	api := newFakeAPI()
	s := loadedStore(t, api)
	before := api.callCount()

	_, err := s.AddAlternative(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, before, api.callCount())
	assert.NotEmpty(t, s.View().AltError)

	r, err := s.AddAlternative(context.Background(), "better answer")
	require.NoError(t, err)
	assert.Equal(t, "t-new", r.AnnotationTargetID)

	v := s.View()
	assert.Empty(t, v.AltError)
	require.Len(t, v.Alternatives, 3)
	assert.Equal(t, "t-new", v.Alternatives[2].AnnotationTargetID)
}

func TestIndependentTargetsMatchBackend(t *testing.T) {
	api := newFakeAPI()
	s := loadedStore(t, api)

	var wg sync.WaitGroup
	for _, target := range []string{"t-main", "t-alt1", "t-alt2"} {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(target string, reward int) {
				defer wg.Done()
				_, err := s.AddAnnotation(context.Background(), target, reward)
				assert.NoError(t, err)
			}(target, i%2)
		}
	}
	wg.Wait()

	require.NoError(t, s.DeleteAnnotation(context.Background(), "t-main", "a1"))

	for _, target := range []string{"t-main", "t-alt1", "t-alt2"} {
		assert.ElementsMatch(t, api.byTarget[target], s.Annotations(target), target)
	}
}

func TestSlowDeleteDoesNotBlockAdd(t *testing.T) {
	api := newFakeAPI()
	api.gate["a1"] = make(chan struct{})
	s := loadedStore(t, api)

	errCh := make(chan error, 1)
	go func() { errCh <- s.DeleteAnnotation(context.Background(), "t-main", "a1") }()

	require.Eventually(t, func() bool {
		return s.View().DeleteAnnotation.Loading["a1"]
	}, time.Second, time.Millisecond)

	_, err := s.AddAnnotation(context.Background(), "t-alt1", 1)
	require.NoError(t, err)
	assert.Len(t, s.Annotations("t-alt1"), 1)

	close(api.gate["a1"])
	require.NoError(t, <-errCh)
	assert.Empty(t, s.Annotations("t-main"))
}

func TestCloseDropsLateResult(t *testing.T) {
	api := newFakeAPI()
	api.gate["t-alt1"] = make(chan struct{})
	s := loadedStore(t, api)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.AddAnnotation(context.Background(), "t-alt1", 1)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		return s.View().Annotate.Loading["t-alt1"]
	}, time.Second, time.Millisecond)

	s.Close()
	assert.ErrorIs(t, <-errCh, ErrClosed)
	assert.Empty(t, s.Annotations("t-alt1"))
}

func TestViewFormFlag(t *testing.T) {
	api := newFakeAPI()
	s := NewStore(api, gateFunc(func(r models.ResponseRecord) bool {
		return r.AnnotationTargetID == "t-alt2"
	}), "p1", "r1", zap.NewNop())
	defer s.Close()
	require.NoError(t, s.Load(context.Background()))

	v := s.View()
	assert.False(t, v.Main.FormView)
	assert.False(t, v.Alternatives[0].FormView)
	assert.True(t, v.Alternatives[1].FormView)
}

func TestOperationsBeforeLoad(t *testing.T) {
	s := NewStore(newFakeAPI(), nil, "p1", "r1", zap.NewNop())
	defer s.Close()

	_, err := s.AddAnnotation(context.Background(), "t-main", 1)
	assert.ErrorIs(t, err, ErrNotLoaded)
}
