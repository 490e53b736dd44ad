package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetmirror/fleetmirror/internal/mirror"
)

// PassTrigger kicks off an immediate sync pass. The daemon implements it.
type PassTrigger interface {
	TriggerPass() error
}

// SyncHandler exposes the manual pass trigger.
type SyncHandler struct {
	trigger PassTrigger
}

func NewSyncHandler(trigger PassTrigger) *SyncHandler {
	return &SyncHandler{
		trigger: trigger,
	}
}

// Now starts a pass right away. The pass runs detached from the request;
// callers poll /v1/status or /v1/history for the result.
func (h *SyncHandler) Now(c *gin.Context) {
	if h.trigger == nil {
		c.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeNotReady,
			Error:     "sync trigger not initialized",
		})
		return
	}

	if err := h.trigger.TriggerPass(); err != nil {
		if errors.Is(err, mirror.ErrPassInProgress) {
			c.PureJSON(http.StatusConflict, &ControlPlaneError{
				ErrorCode: ErrCodePassInProgress,
				Error:     err.Error(),
			})
			return
		}
		AbortWithError(c, http.StatusInternalServerError, ErrCodeUnknownError, err)
		return
	}

	c.PureJSON(http.StatusAccepted, &ControlPlaneResponse{Code: CodeAccepted})
}
