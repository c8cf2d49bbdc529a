package handler

import (
	"net/http"

	"github.com/kmrasmussen/intersebd-sub000/internal/middleware"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoginStatus reports who the session cookie identifies. The guest header
// alone does not count as being logged in.
func (h *Handler) LoginStatus(c *gin.Context) {
	id, ok := middleware.FromContext(c)
	if !ok || !id.FromCookie {
		c.JSON(http.StatusOK, models.LoginStatus{})
		return
	}
	c.JSON(http.StatusOK, models.LoginStatus{
		IsLoggedIn: true,
		IsGuest:    id.User.IsGuest,
		UserInfo:   id.User,
	})
}

// CreateGuest creates a guest and starts a guest session
func (h *Handler) CreateGuest(c *gin.Context) {
	guest, err := h.svc.CreateGuest(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.sessions.Issue(c, guest); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, guest)
}

// DevLogin signs in by email on development servers
func (h *Handler) DevLogin(c *gin.Context) {
	if !h.opts.AllowDevLogin {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
		return
	}
	var req models.DevLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.svc.DevLogin(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.sessions.Issue(c, u); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("User logged in", zap.String("user_id", u.ID))
	c.JSON(http.StatusOK, u)
}

// Logout clears the session cookie
func (h *Handler) Logout(c *gin.Context) {
	h.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

// DefaultProject returns or provisions the caller's default project
func (h *Handler) DefaultProject(c *gin.Context) {
	resp, created, err := h.svc.DefaultProject(c.Request.Context(), user(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}
