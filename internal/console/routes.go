package console

import (
	"context"
	"errors"
	"net/http"

	"github.com/kmrasmussen/intersebd-sub000/internal/annotations"
	"github.com/kmrasmussen/intersebd-sub000/internal/datasets"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListRequests returns the requests overview
func (s *Server) ListRequests(c *gin.Context) {
	ws := currentWorkspace(c)
	reqs, err := s.api.ListRequests(c.Request.Context(), ws.projectID)
	if err != nil {
		fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// RequestDetail (re)loads one request into its store
func (s *Server) RequestDetail(c *gin.Context) {
	ws := currentWorkspace(c)
	st := ws.store(s.api, c.Param("rid"), s.logger)
	if err := st.Load(c.Request.Context()); err != nil {
		fail(c, c.Param("rid"), err)
		return
	}
	c.JSON(http.StatusOK, st.View())
}

// loadedStore returns the request's store, loading it on first use
func (s *Server) loadedStore(c *gin.Context) (*annotations.Store, bool) {
	ws := currentWorkspace(c)
	st := ws.store(s.api, c.Param("rid"), s.logger)
	if !st.View().Loaded {
		if err := st.Load(c.Request.Context()); err != nil {
			fail(c, c.Param("rid"), err)
			return nil, false
		}
	}
	return st, true
}

type rewardBody struct {
	Reward *int `json:"reward" binding:"required"`
}

// AddAnnotation attaches a reward to a response
func (s *Server) AddAnnotation(c *gin.Context) {
	var body rewardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, ok := s.loadedStore(c)
	if !ok {
		return
	}
	tid := c.Param("tid")
	a, err := st.AddAnnotation(c.Request.Context(), tid, *body.Reward)
	if err != nil {
		fail(c, tid, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"annotation": a, "view": st.View()})
}

// DeleteAnnotation removes one annotation
func (s *Server) DeleteAnnotation(c *gin.Context) {
	st, ok := s.loadedStore(c)
	if !ok {
		return
	}
	aid := c.Param("aid")
	if err := st.DeleteAnnotation(c.Request.Context(), c.Param("tid"), aid); err != nil {
		fail(c, aid, err)
		return
	}
	c.JSON(http.StatusOK, st.View())
}

// DeleteResponse removes a main or alternative response
func (s *Server) DeleteResponse(c *gin.Context) {
	st, ok := s.loadedStore(c)
	if !ok {
		return
	}
	tid := c.Param("tid")
	if err := st.DeleteResponse(c.Request.Context(), tid); err != nil {
		fail(c, tid, err)
		return
	}
	c.JSON(http.StatusOK, st.View())
}

type alternativeBody struct {
	Content string `json:"content"`
}

// AddAlternative stores a rater-written response
func (s *Server) AddAlternative(c *gin.Context) {
	var body alternativeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, ok := s.loadedStore(c)
	if !ok {
		return
	}
	r, err := st.AddAlternative(c.Request.Context(), body.Content)
	if err != nil {
		fail(c, "alternative", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alternative": r, "view": st.View()})
}

// GetSchema refetches and returns the schema editor state
func (s *Server) GetSchema(c *gin.Context) {
	ws := currentWorkspace(c)
	if _, err := ws.gate.FetchCurrent(c.Request.Context()); err != nil {
		fail(c, "schema", err)
		return
	}
	c.JSON(http.StatusOK, ws.gate.Status())
}

type schemaBody struct {
	SchemaContent string `json:"schema_content"`
}

// SaveSchema replaces the active schema with the raw editor text
func (s *Server) SaveSchema(c *gin.Context) {
	var body schemaBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ws := currentWorkspace(c)
	if _, err := ws.gate.Save(c.Request.Context(), body.SchemaContent); err != nil {
		fail(c, "schema", err)
		return
	}
	// saving rewrote every response's obeys_schema
	ws.dropStores()
	c.JSON(http.StatusOK, ws.gate.Status())
}

// DeleteSchema removes the active schema
func (s *Server) DeleteSchema(c *gin.Context) {
	ws := currentWorkspace(c)
	if err := ws.gate.Remove(c.Request.Context()); err != nil {
		fail(c, "schema", err)
		return
	}
	ws.dropStores()
	c.JSON(http.StatusOK, ws.gate.Status())
}

// Readiness refreshes both counts and reports which exports are enabled
func (s *Server) Readiness(c *gin.Context) {
	ws := currentWorkspace(c)
	if c.Query("refresh") != "false" {
		if err := ws.counter.Refresh(c.Request.Context()); err != nil {
			s.logger.Debug("Readiness refresh incomplete", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, readinessBody(ws.counter))
}

func readinessBody(counter *datasets.Counter) gin.H {
	return gin.H{
		"readiness": counter.Readiness(),
		"sft_ready": counter.IsSFTReady(),
		"dpo_ready": counter.IsDPOReady(),
		"errors":    counter.Errors(),
	}
}

type thresholdBody struct {
	Threshold *int `json:"threshold" binding:"required"`
}

// SetThreshold changes the required row count locally
func (s *Server) SetThreshold(c *gin.Context) {
	var body thresholdBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ws := currentWorkspace(c)
	ws.counter.SetThreshold(*body.Threshold)
	c.JSON(http.StatusOK, readinessBody(ws.counter))
}

// Download saves a dataset into the download directory
func (s *Server) Download(c *gin.Context) {
	kind, ok := datasetKind(c)
	if !ok {
		return
	}
	ws := currentWorkspace(c)
	path, err := ws.exporter.Download(c.Request.Context(), kind, s.opts.DownloadDir)
	if errors.Is(err, datasets.ErrNothingToExport) {
		c.JSON(http.StatusOK, gin.H{"saved": false, "message": err.Error()})
		return
	}
	if err != nil {
		fail(c, string(kind), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true, "path": path})
}

type pushBody struct {
	HFUsername         string `json:"hf_username"`
	HFWriteAccessToken string `json:"hf_write_access_token"`
	DoPush             *bool  `json:"do_push"`
}

// Push forwards one-off hub credentials with the push call
func (s *Server) Push(c *gin.Context) {
	kind, ok := datasetKind(c)
	if !ok {
		return
	}
	var body pushBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doPush := true
	if body.DoPush != nil {
		doPush = *body.DoPush
	}

	ws := currentWorkspace(c)
	res, err := ws.exporter.Push(c.Request.Context(), kind, datasets.Credentials{
		Username:   body.HFUsername,
		WriteToken: body.HFWriteAccessToken,
	}, doPush)
	if err != nil {
		fail(c, string(kind), err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Pairs starts polling the requested viewing id and returns the latest snapshot
func (s *Server) Pairs(c *gin.Context) {
	ws := currentWorkspace(c)
	viewingID := c.DefaultQuery("viewing_id", s.opts.ViewingID)
	if viewingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "viewing_id is required"})
		return
	}
	snap := ws.pairs.Snapshot()
	if !snap.Running || snap.ViewingID != viewingID {
		// the poll loop outlives this request
		ws.pairs.Restart(context.WithoutCancel(c.Request.Context()), viewingID)
	}
	c.JSON(http.StatusOK, ws.pairs.Snapshot())
}

// StopPairs ends polling
func (s *Server) StopPairs(c *gin.Context) {
	ws := currentWorkspace(c)
	ws.pairs.Stop()
	c.JSON(http.StatusOK, ws.pairs.Snapshot())
}
