package handlers

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

const defaultMaxResults = 100

// LogsHandler serves the activity log. The daemon writes it as JSON lines,
// one slog record per line.
type LogsHandler struct {
	logFilePath string
}

func NewLogsHandler(logFilePath string) *LogsHandler {
	return &LogsHandler{
		logFilePath: logFilePath,
	}
}

// GetLogs returns a page of parsed log lines. startingToken is a byte offset
// into the file from a previous response.
func (h *LogsHandler) GetLogs(c *gin.Context) {
	var params LogsRequest
	if err := c.ShouldBindQuery(&params); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	if params.MaxResults == 0 {
		params.MaxResults = defaultMaxResults
	}

	logs, nextToken, hasMore, err := ReadLogPage(h.logFilePath, params.StartingToken, params.MaxResults)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeLogsRetrieval, err)
		return
	}

	c.PureJSON(http.StatusOK, &LogsResponse{
		Logs:      logs,
		NextToken: nextToken,
		HasMore:   hasMore,
	})
}

// ReadLogPage reads up to maxResults parsed lines from path starting at the
// given byte offset. The returned token sits just past the last line the page
// consumed, so a half-written trailing line is picked up whole next time.
func ReadLogPage(path string, offset int64, maxResults int) ([]LogEntry, int64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, offset, false, nil
		}
		return nil, 0, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, false, err
	}
	// The file shrank under the offset: it was rotated, start over.
	if info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, false, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, false, err
	}

	entries := []LogEntry{}
	pos := offset
	nextToken := offset
	hasMore := false
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			// Partial trailing line, leave it for the next page.
			break
		}
		line := data[:i]
		data = data[i+1:]
		pos += int64(i + 1)

		entry, ok := parseLogLine(line)
		if !ok {
			// Unparseable lines are consumed with the page they fall in.
			if len(entries) < maxResults {
				nextToken = pos
			}
			continue
		}
		if len(entries) == maxResults {
			hasMore = true
			break
		}
		entries = append(entries, entry)
		nextToken = pos
	}

	return entries, nextToken, hasMore, nil
}

// parseLogLine decodes one slog JSON record. Attributes beyond time, level
// and msg are folded into the message, sorted for stable output.
func parseLogLine(line []byte) (LogEntry, bool) {
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		return LogEntry{}, false
	}

	timestamp, _ := record[slog.TimeKey].(string)
	level, _ := record[slog.LevelKey].(string)
	message, _ := record[slog.MessageKey].(string)
	if timestamp == "" || level == "" || message == "" {
		return LogEntry{}, false
	}

	delete(record, slog.TimeKey)
	delete(record, slog.LevelKey)
	delete(record, slog.MessageKey)
	if len(record) > 0 {
		keys := slices.Sorted(maps.Keys(record))
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, record[k]))
		}
		message += " " + strings.Join(parts, " ")
	}

	return LogEntry{
		Timestamp: timestamp,
		Level:     strings.ToLower(level),
		Message:   message,
	}, true
}
