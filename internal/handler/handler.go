package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/middleware"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/service"
	"github.com/kmrasmussen/intersebd-sub000/internal/widget"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the HTTP surface
type Options struct {
	FrontendOrigins []string
	PublicBaseURL   string
	AllowDevLogin   bool
}

// Handler handles HTTP requests
type Handler struct {
	svc      *service.Service
	sessions *middleware.Sessions
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc *service.Service, sessions *middleware.Sessions, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(h.corsByPath())

	// Health check
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Proxy, authenticated by call key
	r.POST("/v1/chat/completions", h.ChatCompletions)

	// Shared viewer, the viewing id is the capability
	r.GET("/completion-pairs/view/:viewing_id", h.Pairs)

	// Widgets
	r.POST("/api/agent-widgets/new_widget", h.CreateWidget)
	r.GET("/api/agent-widgets/:id/widget.js", h.WidgetScript)
	r.POST(widget.RelayPath, h.WidgetRelay)

	identified := r.Group("/")
	identified.Use(h.sessions.Identify())
	{
		auth := identified.Group("/auth")
		auth.GET("/login_status", h.LoginStatus)
		auth.POST("/guests", h.CreateGuest)
		auth.POST("/dev-login", h.DevLogin)
		auth.POST("/logout", h.Logout)

		api := identified.Group("/")
		api.Use(middleware.RequireIdentity())

		api.POST("/completion-projects/default", h.DefaultProject)

		project := api.Group("/completion-projects/:pid")
		project.GET("/requests", h.ListRequests)
		project.GET("/requests/:rid", h.RequestDetail)
		project.GET("/schemas/current", h.CurrentSchema)
		project.PUT("/schemas/current", h.SaveSchema)
		project.DELETE("/schemas/current", h.DeleteSchema)
		project.GET("/datasets/:kind/count", h.DatasetCount)
		project.POST("/datasets/:kind/push", h.PushDataset)
		project.GET("/sft-dataset.jsonl", h.downloadDataset(models.DatasetSFT))
		project.GET("/dpo-dataset.jsonl", h.downloadDataset(models.DatasetDPO))

		api.POST("/annotation-targets/:tid/annotations", h.CreateAnnotation)
		api.DELETE("/annotation-targets/:tid", h.DeleteTarget)
		api.DELETE("/annotations/:aid", h.DeleteAnnotation)
		api.POST("/completion-alternatives", h.CreateAlternative)
	}
}

// isPublicPath reports whether a route is called from third-party pages
func isPublicPath(path string) bool {
	return strings.HasPrefix(path, "/api/cors-anywhere/") ||
		(strings.HasPrefix(path, "/api/agent-widgets/") && strings.HasSuffix(path, "/widget.js"))
}

// corsByPath applies the credentialed front-end policy everywhere except
// the widget routes, which any origin may call
func (h *Handler) corsByPath() gin.HandlerFunc {
	origins := h.opts.FrontendOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	strict := cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.GuestHeader},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
	open := cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	})
	return func(c *gin.Context) {
		if isPublicPath(c.Request.URL.Path) {
			open(c)
			return
		}
		strict(c)
	}
}

// user returns the identified caller or nil
func user(c *gin.Context) *models.UserIdentity {
	id, ok := middleware.FromContext(c)
	if !ok {
		return nil
	}
	return id.User
}

// fail maps service errors onto status codes with a {detail} body
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	detail := "Internal server error"
	switch {
	case errors.Is(err, service.ErrValidation):
		status, detail = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, service.ErrNotFound):
		status, detail = http.StatusNotFound, capitalize(err.Error())
	case errors.Is(err, service.ErrForbidden):
		status, detail = http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrUnauthorized):
		status, detail = http.StatusUnauthorized, "Not authenticated"
	case errors.Is(err, service.ErrUnavailable):
		status, detail = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, service.ErrUpstream):
		status, detail = http.StatusBadGateway, err.Error()
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"detail": detail})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "annotation-api",
	})
}
