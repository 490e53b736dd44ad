// Package cpclient is the CLI side of the daemon's loopback control plane:
// status, history, log retrieval and streaming, and manual pass triggers.
package cpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/imroc/req/v3"

	"github.com/fleetmirror/fleetmirror/internal/controlplane/handlers"
	"github.com/fleetmirror/fleetmirror/internal/history"
	"github.com/fleetmirror/fleetmirror/internal/status"
	"github.com/fleetmirror/fleetmirror/internal/version"
)

// DefaultTimeout bounds each control plane call. The daemon is local, so
// anything slower than this means it is wedged.
const DefaultTimeout = 5 * time.Second

var userAgent = fmt.Sprintf("FleetMirror/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// ErrPassInProgress mirrors the daemon's refusal to start a second pass.
var ErrPassInProgress = errors.New("a sync pass is already in progress")

const errCodePassInProgress = "ERR_PASS_IN_PROGRESS"

// Client talks to one daemon's control plane.
type Client struct {
	client  *req.Client
	baseURL string
	token   string
}

// New builds a client for the control plane at addr (host:port, as
// configured for the daemon).
func New(addr, token string) (*Client, error) {
	baseURL, err := addrToURL(addr)
	if err != nil {
		return nil, err
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetUserAgent(userAgent).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
	if token != "" {
		client.SetCommonBearerAuthToken(token)
	}

	return &Client{
		client:  client,
		baseURL: baseURL,
		token:   token,
	}, nil
}

// Alive reports whether a daemon answers on the control plane address.
func (c *Client) Alive(ctx context.Context) bool {
	resp, err := c.client.R().SetContext(ctx).Get("/")
	return err == nil && resp.IsSuccessState()
}

// Status fetches the live daemon snapshot.
func (c *Client) Status(ctx context.Context) (*status.Snapshot, error) {
	var snap status.Snapshot
	var apiErr apiError

	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&snap).
		SetErrorResult(&apiErr).
		Get("/v1/status")
	if err := handleAPIError(resp, err, "status"); err != nil {
		return nil, err
	}
	return &snap, nil
}

// History returns the most recent passes, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]history.Pass, error) {
	var result struct {
		Passes []history.Pass `json:"passes"`
	}
	var apiErr apiError

	r := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr)
	if limit > 0 {
		r.SetQueryParam("limit", strconv.Itoa(limit))
	}

	resp, err := r.Get("/v1/history")
	if err := handleAPIError(resp, err, "history"); err != nil {
		return nil, err
	}
	return result.Passes, nil
}

// Logs fetches one page of the activity log. Pass the previous response's
// NextToken to continue.
func (c *Client) Logs(ctx context.Context, startingToken int64, maxResults int) (*handlers.LogsResponse, error) {
	var page handlers.LogsResponse
	var apiErr apiError

	r := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&page).
		SetErrorResult(&apiErr).
		SetQueryParam("startingToken", strconv.FormatInt(startingToken, 10))
	if maxResults > 0 {
		r.SetQueryParam("maxResults", strconv.Itoa(maxResults))
	}

	resp, err := r.Get("/v1/logs")
	if err := handleAPIError(resp, err, "logs"); err != nil {
		return nil, err
	}
	return &page, nil
}

// SyncNow asks the daemon to run a pass outside the schedule. The pass runs
// detached; poll Status or History for its result.
func (c *Client) SyncNow(ctx context.Context) error {
	var apiErr apiError

	resp, err := c.client.R().
		SetContext(ctx).
		SetErrorResult(&apiErr).
		Post("/v1/sync/now")
	if apiErr.Code == errCodePassInProgress {
		return ErrPassInProgress
	}
	return handleAPIError(resp, err, "sync now")
}

// FollowLogs streams activity-log entries written after the connection is
// made, invoking fn for each. It returns nil when the daemon closes the
// stream and ctx's error when canceled; fn returning an error stops the
// stream with that error.
func (c *Client) FollowLogs(ctx context.Context, fn func(handlers.LogEntry) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/logs/ws"
	if c.token != "" {
		wsURL += "?token=" + url.QueryEscape(c.token)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial log stream: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	for {
		var entry handlers.LogEntry
		if err := wsjson.Read(ctx, conn, &entry); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("log stream: %w", err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

// apiError is the control plane's error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("control plane %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*apiError); ok && apiErr.Code != "" {
			return fmt.Errorf("control plane %s: %w", operation, apiErr)
		}
		return fmt.Errorf("control plane %s: %s", operation, resp.Status)
	}

	return nil
}

// addrToURL turns a listen address into a base URL. Only host:port forms are
// accepted; an empty host means the wildcard address.
func addrToURL(addr string) (string, error) {
	if addr == "" {
		return "", fmt.Errorf("control plane address is empty")
	}
	if strings.Contains(addr, "://") {
		return "", fmt.Errorf("control plane address %q must be host:port, not a URL", addr)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("control plane address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("control plane address %q: missing port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("http://%s:%s", host, port), nil
}
