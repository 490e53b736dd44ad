package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/fleetmirror/fleetmirror/internal/mirror"
)

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) TriggerPass() error {
	f.calls++
	return f.err
}

func postSyncNow(h *SyncHandler) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/sync/now", h.Now)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/now", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSyncNow_Accepted(t *testing.T) {
	trigger := &fakeTrigger{}
	w := postSyncNow(NewSyncHandler(trigger))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), CodeAccepted)
	assert.Equal(t, 1, trigger.calls)
}

func TestSyncNow_ConflictWhilePassRunning(t *testing.T) {
	trigger := &fakeTrigger{err: mirror.ErrPassInProgress}
	w := postSyncNow(NewSyncHandler(trigger))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), ErrCodePassInProgress)
}

func TestSyncNow_UnexpectedError(t *testing.T) {
	trigger := &fakeTrigger{err: errors.New("boom")}
	w := postSyncNow(NewSyncHandler(trigger))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSyncNow_NotReady(t *testing.T) {
	w := postSyncNow(NewSyncHandler(nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
