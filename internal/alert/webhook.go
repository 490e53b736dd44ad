// Package alert delivers operational notifications to an external webhook.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/imroc/req/v3"

	"github.com/fleetmirror/fleetmirror/internal/utils"
	"github.com/fleetmirror/fleetmirror/internal/version"
)

const DefaultTimeout = 10 * time.Second

var userAgent = fmt.Sprintf("FleetMirror/%s (%s; %s; %s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// CooldownEvent is the payload posted when a host enters extended cooldown
// after repeated all-failed passes.
type CooldownEvent struct {
	Event               string    `json:"event"`
	Hostname            string    `json:"hostname"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CooldownSeconds     int       `json:"cooldownSeconds"`
	Timestamp           time.Time `json:"timestamp"`
}

// Webhook posts alert events as JSON to a single configured URL.
// A Webhook with an empty URL is a no-op, so callers never need a nil check.
type Webhook struct {
	client *req.Client
	url    string
}

func NewWebhook(url string) *Webhook {
	client := req.C().
		SetTimeout(DefaultTimeout).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(1 * time.Second).
		SetUserAgent(userAgent).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Webhook{client: client, url: url}
}

func (w *Webhook) Enabled() bool {
	return w != nil && w.url != ""
}

// CooldownEntered notifies the webhook that all targets have been failing
// long enough to trip the extended cooldown. Delivery failures are logged,
// never returned; an alert must not disturb the sync loop.
func (w *Webhook) CooldownEntered(ctx context.Context, consecutive int, cooldown time.Duration) {
	if !w.Enabled() {
		return
	}

	hostname, _ := os.Hostname()
	event := &CooldownEvent{
		Event:               "cooldown_entered",
		Hostname:            hostname,
		ConsecutiveFailures: consecutive,
		CooldownSeconds:     int(cooldown.Seconds()),
		Timestamp:           time.Now().UTC(),
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(w.url)
	if err != nil {
		// Webhook URLs routinely embed a secret in the path, mask them.
		slog.Error("alert webhook delivery failed", "url", utils.MaskSecret(w.url), "error", err)
		return
	}
	if resp.IsErrorState() {
		slog.Error("alert webhook rejected event", "url", utils.MaskSecret(w.url), "status", resp.StatusCode)
		return
	}

	slog.Info("alert webhook notified", "event", event.Event, "consecutiveFailures", consecutive)
}
