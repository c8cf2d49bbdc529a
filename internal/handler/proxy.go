package handler

import (
	"net/http"
	"strings"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/widget"

	"github.com/gin-gonic/gin"
)

// ChatCompletions proxies an OpenAI-compatible completion and records it
func (h *Handler) ChatCompletions(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Authorization header format must be Bearer <key>"})
		return
	}

	key, err := h.svc.ProjectForKey(c.Request.Context(), parts[1])
	if err != nil {
		h.fail(c, err)
		return
	}

	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.svc.Complete(c.Request.Context(), key, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateWidget registers an agent widget
func (h *Handler) CreateWidget(c *gin.Context) {
	var req models.NewWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := h.svc.CreateWidget(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"widget_id": w.ID,
		"origin":    w.Origin,
		"tools":     w.Tools,
		"user_id":   w.UserID,
		"message":   "Agent Widget created successfully.",
	})
}

// WidgetScript serves the embeddable script of an active widget
func (h *Handler) WidgetScript(c *gin.Context) {
	w, err := h.svc.ActiveWidget(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/javascript", []byte(widget.Script(w.ID, h.opts.PublicBaseURL)))
}

// WidgetRelay answers a widget conversation for the page that embeds it
func (h *Handler) WidgetRelay(c *gin.Context) {
	var req models.WidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := h.svc.RelayWidget(c.Request.Context(), c.GetHeader("Origin"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
