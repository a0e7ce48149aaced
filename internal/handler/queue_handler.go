package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/pkg/response"
)

type queueService interface {
	Overview(ctx context.Context) (models.QueueSnapshot, error)
	CancelAll(ctx context.Context) (int, error)
}

// QueueHandler exposes queue occupancy and the admin cancel-all surface.
type QueueHandler struct {
	service queueService
}

// NewQueueHandler builds a new handler.
func NewQueueHandler(service queueService) *QueueHandler {
	return &QueueHandler{service: service}
}

// Overview returns active/pending counts and pool occupancy.
func (h *QueueHandler) Overview(c *gin.Context) {
	snap, err := h.service.Overview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snap)
}

// CancelAll aborts every pending and active transfer. Admin only.
func (h *QueueHandler) CancelAll(c *gin.Context) {
	count, err := h.service.CancelAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"cancelled": count})
}
