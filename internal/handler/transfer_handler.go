package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/internal/service"
	appErrors "github.com/oskarpl/media-relay/pkg/errors"
	"github.com/oskarpl/media-relay/pkg/response"
)

type relayService interface {
	Submit(ctx context.Context, req service.SubmitTransferRequest) (*service.SubmitTransferResponse, error)
	Status(ctx context.Context, taskID string) (models.TransferTask, int, error)
	Cancel(ctx context.Context, taskID string) error
	ArtifactToken(ctx context.Context, taskID string) (string, time.Time, error)
	ResolveArtifact(token string) (string, string, error)
}

// TransferHandler exposes the transfer submission surface.
type TransferHandler struct {
	service relayService
}

// NewTransferHandler builds a new handler.
func NewTransferHandler(service relayService) *TransferHandler {
	return &TransferHandler{service: service}
}

type taskStatusResponse struct {
	Task     models.TransferTask `json:"task"`
	Position int                 `json:"position"`
}

// Submit admits a new transfer.
func (h *TransferHandler) Submit(c *gin.Context) {
	var req service.SubmitTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid transfer payload"))
		return
	}

	resp, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// Status returns the task state and queue position.
func (h *TransferHandler) Status(c *gin.Context) {
	task, position, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, taskStatusResponse{Task: task, Position: position})
}

// Cancel aborts a queued or active transfer.
func (h *TransferHandler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type artifactTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Artifact issues a signed download token for a completed transfer.
func (h *TransferHandler) Artifact(c *gin.Context) {
	token, expiresAt, err := h.service.ArtifactToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, artifactTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// Download streams the artifact referenced by a signed token.
func (h *TransferHandler) Download(c *gin.Context) {
	path, name, err := h.service.ResolveArtifact(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.FileAttachment(path, name)
}
