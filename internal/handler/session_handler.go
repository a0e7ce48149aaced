package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "github.com/oskarpl/media-relay/pkg/errors"
	"github.com/oskarpl/media-relay/pkg/response"
)

type sessionService interface {
	Logout(ctx context.Context, userID int64) error
}

// SessionHandler exposes session lifecycle endpoints.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler builds a new handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Logout revokes the user's pooled session and stored credential.
func (h *SessionHandler) Logout(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid user id"))
		return
	}
	if err := h.service.Logout(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
