package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUsers map[string]*models.UserIdentity

func (f fakeUsers) GetUser(_ context.Context, id string) (*models.UserIdentity, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, assert.AnError
}

func newRouter(s *Sessions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(s.Identify())
	r.POST("/login/:id", func(c *gin.Context) {
		user, _ := fakeUsersFrom(s).GetUser(c, c.Param("id"))
		if err := s.Issue(c, user); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})
	r.GET("/me", RequireIdentity(), func(c *gin.Context) {
		id, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"id": id.User.ID, "cookie": id.FromCookie})
	})
	return r
}

func fakeUsersFrom(s *Sessions) fakeUsers {
	return s.users.(fakeUsers)
}

func testUsers() fakeUsers {
	return fakeUsers{
		"guest-1": {ID: "guest-1", IsGuest: true},
		"user-1":  {ID: "user-1", Email: "a@example.com"},
	}
}

func TestRequireIdentityRejectsAnonymous(t *testing.T) {
	s := NewSessions("secret", "", false, testUsers(), zap.NewNop())
	r := newRouter(s)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"detail":"Not authenticated"}`, w.Body.String())
}

func TestSessionCookieRoundTrip(t *testing.T) {
	s := NewSessions("secret", "sess", false, testUsers(), zap.NewNop())
	r := newRouter(s)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login/user-1", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sess", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"user-1","cookie":true}`, w.Body.String())
}

func TestForgedCookieIgnored(t *testing.T) {
	other := NewSessions("other-secret", "session", false, testUsers(), zap.NewNop())
	s := NewSessions("secret", "session", false, testUsers(), zap.NewNop())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	require.NoError(t, other.Issue(c, &models.UserIdentity{ID: "user-1"}))
	forged := w.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(forged)
	w = httptest.NewRecorder()
	newRouter(s).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGuestHeader(t *testing.T) {
	s := NewSessions("secret", "", false, testUsers(), zap.NewNop())
	r := newRouter(s)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"known guest", "guest-1", http.StatusOK},
		{"unknown id", "stale", http.StatusUnauthorized},
		{"registered user cannot be claimed by header", "user-1", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			req.Header.Set(GuestHeader, tt.header)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
