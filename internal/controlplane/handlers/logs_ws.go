package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
)

const (
	followPollInterval = 500 * time.Millisecond
	followWriteTimeout = 20 * time.Second
)

// Follow upgrades to a websocket and streams activity-log lines as they are
// written. Only lines appended after the connection opens are sent.
func (h *LogsHandler) Follow(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		c.PureJSON(http.StatusBadRequest, &ControlPlaneError{
			ErrorCode: ErrCodeBadRequest,
			Error:     "websocket accept failed: " + err.Error(),
		})
		return
	}
	defer conn.CloseNow()

	err = h.streamLogs(c.Request.Context(), conn)
	if err != nil && !isConnGone(err) {
		slog.Warn("log follow stream", "error", err)
	}
	conn.Close(websocket.StatusNormalClosure, "bye")
}

func (h *LogsHandler) streamLogs(ctx context.Context, conn *websocket.Conn) error {
	// Start past what is already on disk; GetLogs serves the backlog.
	offset := int64(0)
	if info, err := os.Stat(h.logFilePath); err == nil {
		offset = info.Size()
	}

	ticker := time.NewTicker(followPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		entries, next, _, err := ReadLogPage(h.logFilePath, offset, defaultMaxResults)
		if err != nil {
			return err
		}
		offset = next

		for _, entry := range entries {
			writeCtx, cancel := context.WithTimeout(ctx, followWriteTimeout)
			err := wsjson.Write(writeCtx, conn, entry)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func isConnGone(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}
