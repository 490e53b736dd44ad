package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetmirror/fleetmirror/internal/status"
)

// StatusHandler serves the daemon snapshot.
type StatusHandler struct {
	reporter *status.Reporter
}

func NewStatusHandler(reporter *status.Reporter) *StatusHandler {
	return &StatusHandler{
		reporter: reporter,
	}
}

func (h *StatusHandler) Status(c *gin.Context) {
	// this is unlikely to happen, but just in case
	if h.reporter == nil {
		c.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeNotReady,
			Error:     "status reporter not initialized",
		})
		return
	}

	c.PureJSON(http.StatusOK, h.reporter.Snapshot(c.Request.Context()))
}
