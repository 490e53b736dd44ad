package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLine(msg string, attrs map[string]any) string {
	record := map[string]any{
		"time":  "2026-08-23T10:30:00.000Z",
		"level": "INFO",
		"msg":   msg,
	}
	for k, v := range attrs {
		record[k] = v
	}
	data, _ := json.Marshal(record)
	return string(data) + "\n"
}

func writeLogFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetmirror.log")
	var content string
	for _, l := range lines {
		content += l
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func getLogs(t *testing.T, h *LogsHandler, query string) (*LogsResponse, int) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1/logs", h.GetLogs)

	req := httptest.NewRequest(http.MethodGet, "/v1/logs"+query, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		return nil, w.Code
	}
	var resp LogsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp, w.Code
}

func TestGetLogs_ReturnsParsedEntries(t *testing.T) {
	path := writeLogFile(t,
		logLine("pass finished", map[string]any{"outcome": "all_ok", "took": "1.2s"}),
		logLine("sleeping", nil),
	)
	h := NewLogsHandler(path)

	resp, code := getLogs(t, h, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Logs, 2)
	assert.False(t, resp.HasMore)

	first := resp.Logs[0]
	assert.Equal(t, "info", first.Level)
	assert.Equal(t, "2026-08-23T10:30:00.000Z", first.Timestamp)
	// Extra attributes fold into the message, sorted by key.
	assert.Equal(t, "pass finished outcome=all_ok took=1.2s", first.Message)
	assert.Equal(t, "sleeping", resp.Logs[1].Message)
}

func TestGetLogs_Paginates(t *testing.T) {
	path := writeLogFile(t,
		logLine("one", nil),
		logLine("two", nil),
		logLine("three", nil),
	)
	h := NewLogsHandler(path)

	page1, code := getLogs(t, h, "?maxResults=2")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page1.Logs, 2)
	assert.True(t, page1.HasMore)
	assert.Equal(t, "one", page1.Logs[0].Message)
	assert.Equal(t, "two", page1.Logs[1].Message)

	page2, code := getLogs(t, h, fmt.Sprintf("?maxResults=2&startingToken=%d", page1.NextToken))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page2.Logs, 1)
	assert.False(t, page2.HasMore)
	assert.Equal(t, "three", page2.Logs[0].Message)
}

func TestGetLogs_SkipsUnparseableLines(t *testing.T) {
	path := writeLogFile(t,
		logLine("good", nil),
		"not json at all\n",
		logLine("also good", nil),
	)
	h := NewLogsHandler(path)

	resp, code := getLogs(t, h, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Logs, 2)
	assert.Equal(t, "good", resp.Logs[0].Message)
	assert.Equal(t, "also good", resp.Logs[1].Message)
}

func TestGetLogs_MissingFileIsEmpty(t *testing.T) {
	h := NewLogsHandler(filepath.Join(t.TempDir(), "absent.log"))

	resp, code := getLogs(t, h, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp.Logs)
	assert.False(t, resp.HasMore)
}

func TestGetLogs_RejectsNegativeToken(t *testing.T) {
	h := NewLogsHandler(filepath.Join(t.TempDir(), "absent.log"))

	_, code := getLogs(t, h, "?startingToken=-5")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReadLogPage_PartialTrailingLineWaits(t *testing.T) {
	full := logLine("complete", nil)
	path := writeLogFile(t, full, `{"time":"2026-08-23T10:`)

	entries, next, hasMore, err := ReadLogPage(path, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, hasMore)
	// The token stops before the half-written line.
	assert.EqualValues(t, len(full), next)

	// Completing the line makes it visible from the same token.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	rest := `30:01.000Z","level":"INFO","msg":"finished"}` + "\n"
	_, err = f.WriteString(rest)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, _, _, err = ReadLogPage(path, next, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "finished", entries[0].Message)
}

func TestReadLogPage_RotationResetsOffset(t *testing.T) {
	path := writeLogFile(t, logLine("fresh after rotation", nil))

	// An offset beyond EOF means the file rotated underneath the reader.
	entries, _, _, err := ReadLogPage(path, 100000, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh after rotation", entries[0].Message)
}

func TestParseLogLine_RejectsIncompleteRecords(t *testing.T) {
	_, ok := parseLogLine([]byte(`{"level":"INFO","msg":"no time"}`))
	assert.False(t, ok)

	_, ok = parseLogLine([]byte(`[1,2,3]`))
	assert.False(t, ok)

	entry, ok := parseLogLine([]byte(`{"time":"t","level":"WARN","msg":"m"}`))
	require.True(t, ok)
	assert.Equal(t, "warn", entry.Level)
}
