package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DatasetCount returns the eligible row count of a dataset
func (h *Handler) DatasetCount(c *gin.Context) {
	kind := models.DatasetKind(c.Param("kind"))
	count, err := h.svc.DatasetCount(c.Request.Context(), user(c), c.Param("pid"), kind)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, models.CountResponse{Count: count})
}

// downloadDataset serves a dataset as a JSONL attachment. An empty dataset
// is an empty body.
func (h *Handler) downloadDataset(kind models.DatasetKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var buf bytes.Buffer
		rows, err := h.svc.WriteDataset(c.Request.Context(), user(c), c.Param("pid"), kind, &buf)
		if err != nil {
			h.fail(c, err)
			return
		}

		h.logger.Info("Dataset exported",
			zap.String("project_id", c.Param("pid")),
			zap.String("kind", string(kind)),
			zap.Int("rows", rows))

		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-dataset.jsonl"`, kind))
		c.Data(http.StatusOK, "application/jsonl", buf.Bytes())
	}
}

// PushDataset uploads a dataset to the hub
func (h *Handler) PushDataset(c *gin.Context) {
	var req models.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	kind := models.DatasetKind(c.Param("kind"))
	result, err := h.svc.PushDataset(c.Request.Context(), user(c), c.Param("pid"), kind, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
