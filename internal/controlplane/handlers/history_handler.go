package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetmirror/fleetmirror/internal/history"
)

// HistoryHandler serves recorded passes.
type HistoryHandler struct {
	store *history.Store
}

func NewHistoryHandler(store *history.Store) *HistoryHandler {
	return &HistoryHandler{
		store: store,
	}
}

// HistoryRequest represents the query parameters for retrieving pass history.
type HistoryRequest struct {
	// The maximum number of passes to return, newest first.
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// HistoryResponse represents the response for retrieving pass history.
type HistoryResponse struct {
	Passes []history.Pass `json:"passes"`
}

func (h *HistoryHandler) Recent(c *gin.Context) {
	if h.store == nil {
		c.PureJSON(http.StatusServiceUnavailable, &ControlPlaneError{
			ErrorCode: ErrCodeNotReady,
			Error:     "history store not initialized",
		})
		return
	}

	var params HistoryRequest
	if err := c.ShouldBindQuery(&params); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	passes, err := h.store.RecentPasses(c.Request.Context(), params.Limit)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeHistoryRetrieve, err)
		return
	}

	c.PureJSON(http.StatusOK, &HistoryResponse{Passes: passes})
}
