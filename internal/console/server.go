// Package console is the HTTP surface a browser front end of the annotation
// console talks to. Every route runs behind the identity bootstrap.
package console

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/annotations"
	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/datasets"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/poller"
	"github.com/kmrasmussen/intersebd-sub000/internal/schemagate"
	"github.com/kmrasmussen/intersebd-sub000/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configure the console server
type Options struct {
	RequiredThreshold int
	DownloadDir       string
	PollInterval      time.Duration
	ViewingID         string
}

// workspace holds the per-project components
type workspace struct {
	projectID string
	gate      *schemagate.Gate
	counter   *datasets.Counter
	exporter  *datasets.Exporter
	pairs     *poller.PairViewer

	mu     sync.Mutex
	stores map[string]*annotations.Store // by request id
}

func (w *workspace) close() {
	w.pairs.Stop()
	w.dropStores()
}

// dropStores forgets every cached request view. The next use of a request
// loads it again, so obeys_schema reflects the schema stored at that time.
func (w *workspace) dropStores() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.stores {
		s.Close()
	}
	w.stores = map[string]*annotations.Store{}
}

// Server serves the console routes
type Server struct {
	api    *apiclient.Client
	sess   *session.Context
	opts   Options
	logger *zap.Logger

	mu sync.Mutex
	ws *workspace
}

// NewServer creates a console server on top of an initialised session context
func NewServer(api *apiclient.Client, sess *session.Context, opts Options, logger *zap.Logger) *Server {
	if opts.RequiredThreshold <= 0 {
		opts.RequiredThreshold = datasets.DefaultThreshold
	}
	return &Server{api: api, sess: sess, opts: opts, logger: logger}
}

// RegisterRoutes registers all console routes
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(s.requireSession)

	r.GET("/", s.redirectToProject)
	r.POST("/logout", s.Logout)
	r.GET("/whoami", s.WhoAmI)

	p := r.Group("/projects/:pid", s.requireProject)
	{
		p.GET("/requests", s.ListRequests)
		p.GET("/requests/:rid", s.RequestDetail)
		p.POST("/requests/:rid/targets/:tid/annotations", s.AddAnnotation)
		p.DELETE("/requests/:rid/targets/:tid/annotations/:aid", s.DeleteAnnotation)
		p.DELETE("/requests/:rid/targets/:tid", s.DeleteResponse)
		p.POST("/requests/:rid/alternatives", s.AddAlternative)

		p.GET("/schema", s.GetSchema)
		p.PUT("/schema", s.SaveSchema)
		p.DELETE("/schema", s.DeleteSchema)

		p.GET("/datasets", s.Readiness)
		p.PUT("/datasets/threshold", s.SetThreshold)
		p.POST("/datasets/:kind/download", s.Download)
		p.POST("/datasets/:kind/push", s.Push)

		p.GET("/pairs", s.Pairs)
		p.DELETE("/pairs", s.StopPairs)
	}

	r.NoRoute(s.redirectToProject)
}

// Close releases all project components
func (s *Server) Close() {
	s.mu.Lock()
	ws := s.ws
	s.ws = nil
	s.mu.Unlock()
	if ws != nil {
		ws.close()
	}
}

func (s *Server) workspace(ctx context.Context, projectID string) *workspace {
	s.mu.Lock()
	if s.ws != nil && s.ws.projectID == projectID {
		ws := s.ws
		s.mu.Unlock()
		return ws
	}
	old := s.ws
	ws := &workspace{
		projectID: projectID,
		gate:      schemagate.New(s.api, projectID, s.logger),
		counter:   datasets.NewCounter(s.api, projectID, s.opts.RequiredThreshold, s.logger),
		exporter:  datasets.NewExporter(s.api, projectID, s.logger),
		pairs:     poller.NewPairViewer(s.api, s.opts.PollInterval, s.logger),
		stores:    map[string]*annotations.Store{},
	}
	s.ws = ws
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	if _, err := ws.gate.FetchCurrent(ctx); err != nil {
		s.logger.Warn("Initial schema fetch failed", zap.String("project_id", projectID), zap.Error(err))
	}
	return ws
}

func (w *workspace) store(api annotations.API, requestID string, logger *zap.Logger) *annotations.Store {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.stores[requestID]; ok {
		return st
	}
	st := annotations.NewStore(api, w.gate, w.projectID, requestID, logger)
	w.stores[requestID] = st
	return st
}

// requireSession runs the identity bootstrap. Its failure is the one error
// that replaces the whole screen; the next request starts a new bootstrap.
func (s *Server) requireSession(c *gin.Context) {
	s.sess.Retry()
	st, err := s.sess.Init(c.Request.Context())
	if err != nil || st.Phase != session.PhaseReady {
		if err == nil {
			err = errors.New("identity not resolved")
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": apiclient.Message(err),
			"hint":  "refresh the page",
		})
		return
	}
	c.Set("session", st)
	c.Next()
}

func sessionState(c *gin.Context) session.State {
	st, _ := c.Get("session")
	s, _ := st.(session.State)
	return s
}

// requireProject keeps the console on the caller's own project
func (s *Server) requireProject(c *gin.Context) {
	st := sessionState(c)
	if c.Param("pid") != st.ProjectID {
		target, _ := session.ProjectPath(c.Request.URL.Path, st.ProjectID)
		c.Redirect(http.StatusFound, target)
		c.Abort()
		return
	}
	c.Set("workspace", s.workspace(c.Request.Context(), st.ProjectID))
	c.Next()
}

func currentWorkspace(c *gin.Context) *workspace {
	ws, _ := c.Get("workspace")
	w, _ := ws.(*workspace)
	return w
}

func (s *Server) redirectToProject(c *gin.Context) {
	st := sessionState(c)
	target, redirect := session.ProjectPath(c.Request.URL.Path, st.ProjectID)
	if !redirect {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Health reports liveness without touching the session
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "annotation-console",
		"phase":   s.sess.State().Phase.String(),
	})
}

// WhoAmI returns the resolved identity
func (s *Server) WhoAmI(c *gin.Context) {
	st := sessionState(c)
	c.JSON(http.StatusOK, gin.H{
		"project_id": st.ProjectID,
		"user":       st.User,
		"source":     st.Source,
	})
}

// Logout clears the session and all project state
func (s *Server) Logout(c *gin.Context) {
	s.Close()
	if err := s.sess.Clear(c.Request.Context()); err != nil {
		s.logger.Warn("Logout incomplete", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"logged_out": true, "warning": apiclient.Message(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

// fail renders an error next to the control that caused it
func fail(c *gin.Context, key string, err error) {
	status := apiclient.StatusCode(err)
	switch {
	case errors.Is(err, annotations.ErrInvalidReward),
		errors.Is(err, annotations.ErrEmptyContent),
		errors.Is(err, schemagate.ErrInvalidJSON),
		errors.Is(err, datasets.ErrMissingCredentials),
		errors.Is(err, datasets.ErrUnknownKind):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, annotations.ErrUnknownTarget):
		status = http.StatusNotFound
	case errors.Is(err, annotations.ErrClosed), errors.Is(err, annotations.ErrNotLoaded):
		status = http.StatusConflict
	case status == 0:
		status = http.StatusBadGateway
	}
	body := gin.H{"error": apiclient.Message(err)}
	if key != "" {
		body["key"] = key
	}
	c.JSON(status, body)
}

func datasetKind(c *gin.Context) (models.DatasetKind, bool) {
	kind := models.DatasetKind(c.Param("kind"))
	if !kind.Valid() {
		fail(c, c.Param("kind"), datasets.ErrUnknownKind)
		return "", false
	}
	return kind, true
}
