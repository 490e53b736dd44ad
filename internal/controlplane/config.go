package controlplane

import (
	"log/slog"

	"github.com/fleetmirror/fleetmirror/internal/utils"
)

// DefaultAddr binds the control plane to loopback only. Exposing it wider is
// an explicit operator decision.
const DefaultAddr = "127.0.0.1:6477"

// Config contains configuration for the control plane server.
type Config struct {
	Addr  string `json:"addr" mapstructure:"addr"`
	Token string `json:"-" mapstructure:"token"`
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Addr),
		slog.String("token", utils.MaskSecret(c.Token)),
	)
}
