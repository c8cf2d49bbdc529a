package handler

import (
	"net/http"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/gin-gonic/gin"
)

// ListRequests returns the requests overview
func (h *Handler) ListRequests(c *gin.Context) {
	list, err := h.svc.ListRequests(c.Request.Context(), user(c), c.Param("pid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// RequestDetail returns one request with its responses
func (h *Handler) RequestDetail(c *gin.Context) {
	detail, err := h.svc.RequestDetail(c.Request.Context(), user(c), c.Param("pid"), c.Param("rid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// CreateAnnotation attaches a reward to a target
func (h *Handler) CreateAnnotation(c *gin.Context) {
	var req models.CreateAnnotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.svc.CreateAnnotation(c.Request.Context(), user(c), c.Param("tid"), *req.Reward)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// DeleteAnnotation removes an annotation
func (h *Handler) DeleteAnnotation(c *gin.Context) {
	if err := h.svc.DeleteAnnotation(c.Request.Context(), user(c), c.Param("aid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteTarget removes a response with its annotations
func (h *Handler) DeleteTarget(c *gin.Context) {
	if err := h.svc.DeleteTarget(c.Request.Context(), user(c), c.Param("tid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateAlternative stores a rater-written response
func (h *Handler) CreateAlternative(c *gin.Context) {
	var req models.CreateAlternativeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.svc.CreateAlternative(c.Request.Context(), user(c), req.CompletionRequestID, req.AlternativeContent)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// CurrentSchema returns the active schema, 404 when there is none
func (h *Handler) CurrentSchema(c *gin.Context) {
	rec, err := h.svc.CurrentSchema(c.Request.Context(), user(c), c.Param("pid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// SaveSchema replaces the active schema
func (h *Handler) SaveSchema(c *gin.Context) {
	var req models.SaveSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.SaveSchema(c.Request.Context(), user(c), c.Param("pid"), req.SchemaContent)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteSchema removes the active schema
func (h *Handler) DeleteSchema(c *gin.Context) {
	if err := h.svc.DeleteSchema(c.Request.Context(), user(c), c.Param("pid")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Pairs returns the pairs shared under a viewing id
func (h *Handler) Pairs(c *gin.Context) {
	pairs, err := h.svc.Pairs(c.Request.Context(), c.Param("viewing_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pairs)
}
