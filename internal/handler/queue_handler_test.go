package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/oskarpl/media-relay/internal/models"
)

type queueServiceMock struct {
	snapshot  models.QueueSnapshot
	cancelled int
}

func (m *queueServiceMock) Overview(ctx context.Context) (models.QueueSnapshot, error) {
	return m.snapshot, nil
}

func (m *queueServiceMock) CancelAll(ctx context.Context) (int, error) {
	return m.cancelled, nil
}

func TestQueueHandlerOverview(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewQueueHandler(&queueServiceMock{snapshot: models.QueueSnapshot{Active: 3, MaxActive: 3, Pending: 5}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/queue", nil)
	c.Request = req

	handler.Overview(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":3`)
}

func TestQueueHandlerCancelAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewQueueHandler(&queueServiceMock{cancelled: 4})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/admin/queue/cancel-all", nil)
	c.Request = req

	handler.CancelAll(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":4`)
}
