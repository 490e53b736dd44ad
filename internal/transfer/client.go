// Package transfer provides the remote copy clients behind a mirror pass:
// an rsync-over-ssh transport (the default) and a native SFTP fallback for
// hosts without rsync installed.
package transfer

import (
	"context"
	"fmt"
	"time"
)

const (
	KindRsync = "rsync"
	KindSFTP  = "sftp"

	DefaultConnectTimeout = 10 * time.Second
)

// Client mirrors remote trees into local directories.
type Client interface {
	// Mirror replicates the remote tree rooted at remote into local,
	// excluding paths matching the given patterns. Extraneous local entries
	// are removed.
	Mirror(ctx context.Context, remote, local string, excludes []string) error
	// Exists reports whether the remote path exists.
	Exists(ctx context.Context, remote string) (bool, error)
}

// Config selects and parameterizes the transport.
type Config struct {
	Kind           string        `json:"kind" mapstructure:"kind"`
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	User           string        `json:"user" mapstructure:"user"`
	KeyFile        string        `json:"keyFile" mapstructure:"key_file"`
	Password       string        `json:"-" mapstructure:"password"`
	StrictHostKey  bool          `json:"strictHostKey" mapstructure:"strict_host_key"`
	KnownHostsFile string        `json:"knownHostsFile" mapstructure:"known_hosts_file"`
	ConnectTimeout time.Duration `json:"connectTimeout" mapstructure:"connect_timeout"`
	RsyncPath      string        `json:"rsyncPath" mapstructure:"rsync_path"`
	BandwidthKBps  int           `json:"bandwidthKbps" mapstructure:"bandwidth_kbps"`
}

func (c *Config) Timeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("transport host cannot be empty")
	}
	switch c.Kind {
	case "", KindRsync, KindSFTP:
	default:
		return fmt.Errorf("unknown transport kind %q", c.Kind)
	}
	if c.Kind == KindSFTP && c.KeyFile == "" && c.Password == "" {
		return fmt.Errorf("sftp transport needs key_file or password")
	}
	return nil
}

// New builds the transfer client selected by cfg.Kind.
func New(cfg Config) (Client, error) {
	switch cfg.Kind {
	case KindRsync, "":
		return NewRsyncClient(cfg)
	case KindSFTP:
		return NewSFTPClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}
