// Package config loads and validates the daemon configuration. Values come
// from the YAML config file, FLEETMIRROR_* environment variables and bound
// flags, in ascending precedence, all through a single viper instance owned
// by the CLI layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fleetmirror/fleetmirror/internal/controlplane"
	"github.com/fleetmirror/fleetmirror/internal/history"
	"github.com/fleetmirror/fleetmirror/internal/logging"
	"github.com/fleetmirror/fleetmirror/internal/mirror"
	"github.com/fleetmirror/fleetmirror/internal/transfer"
	"github.com/fleetmirror/fleetmirror/internal/utils"
)

const (
	// DefaultStopGrace is how long `stop` waits after SIGTERM before
	// escalating to SIGKILL.
	DefaultStopGrace = 2 * time.Second

	// DefaultRestartSettle is the pause between stop and start on restart,
	// giving the old process time to release the PID file.
	DefaultRestartSettle = 500 * time.Millisecond

	pidFileName    = "fleetmirror.pid"
	logFileName    = "fleetmirror.log"
	historyDBName  = "history.db"
	ignoreFileName = ".mirrorignore"
)

var (
	home, _          = os.UserHomeDir()
	DefaultStateDir  = filepath.Join(home, ".fleetmirror")
	DefaultConfigDir = DefaultStateDir
)

// Config is the full daemon configuration.
type Config struct {
	StateDir         string          `json:"stateDir" mapstructure:"state_dir"`
	Interval         time.Duration   `json:"interval" mapstructure:"interval"`
	FailureCeiling   int             `json:"failureCeiling" mapstructure:"failure_ceiling"`
	ExtendedCooldown time.Duration   `json:"extendedCooldown" mapstructure:"extended_cooldown"`
	Parallelism      int             `json:"parallelism" mapstructure:"parallelism"`
	ProbeCacheTTL    time.Duration   `json:"probeCacheTtl" mapstructure:"probe_cache_ttl"`
	Targets          []mirror.Target `json:"targets" mapstructure:"targets"`
	TargetsFile      string          `json:"targetsFile" mapstructure:"targets_file"`
	Excludes         []string        `json:"excludes" mapstructure:"excludes"`
	IgnoreFile       string          `json:"ignoreFile" mapstructure:"ignore_file"`
	AlertWebhookURL  string          `json:"alertWebhookUrl" mapstructure:"alert_webhook_url"`
	HistoryKeep      int             `json:"historyKeep" mapstructure:"history_keep"`
	StopGrace        time.Duration   `json:"stopGrace" mapstructure:"stop_grace"`
	RestartSettle    time.Duration   `json:"restartSettle" mapstructure:"restart_settle"`
	PIDFile          string          `json:"pidFile" mapstructure:"pid_file"`
	HistoryDB        string          `json:"historyDb" mapstructure:"history_db"`

	Transport    transfer.Config     `json:"transport" mapstructure:"transport"`
	Log          logging.Config      `json:"log" mapstructure:"log"`
	ControlPlane controlplane.Config `json:"controlPlane" mapstructure:"control_plane"`

	// Path is the config file the values came from, if any.
	Path string `json:"-" mapstructure:"-"`
}

// SetDefaults registers every default value on v. Call before ReadInConfig so
// file values override them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("interval", mirror.DefaultInterval)
	v.SetDefault("failure_ceiling", mirror.DefaultFailureCeiling)
	v.SetDefault("extended_cooldown", mirror.DefaultExtendedCooldown)
	v.SetDefault("parallelism", mirror.DefaultParallelism)
	v.SetDefault("probe_cache_ttl", transfer.DefaultProbeCacheTTL)
	v.SetDefault("history_keep", history.DefaultKeep)
	v.SetDefault("stop_grace", DefaultStopGrace)
	v.SetDefault("restart_settle", DefaultRestartSettle)

	v.SetDefault("transport.kind", transfer.KindRsync)
	v.SetDefault("transport.port", 22)
	v.SetDefault("transport.connect_timeout", transfer.DefaultConnectTimeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("control_plane.addr", controlplane.DefaultAddr)

	// Empty defaults so these keys exist for Unmarshal; viper only consults
	// FLEETMIRROR_* env vars for keys it already knows about.
	v.SetDefault("transport.host", "")
	v.SetDefault("transport.user", "")
	v.SetDefault("transport.key_file", "")
	v.SetDefault("transport.password", "")
	v.SetDefault("control_plane.token", "")
	v.SetDefault("alert_webhook_url", "")
	v.SetDefault("targets_file", "")
}

// Load unmarshals the viper state into a Config, resolves all paths and
// merges the optional targets file. It does not validate: commands that only
// inspect the daemon (status, stop, logs) must work even when the sync
// config is incomplete.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.mergeTargetsFile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths expands and absolutizes all configured paths, filling in
// state-dir-relative defaults for the ones left empty. Target local roots
// only get tilde expansion; a relative local root is a config mistake and is
// left for Validate to reject.
func (c *Config) resolvePaths() error {
	stateDir, err := utils.ResolvePath(c.StateDir)
	if err != nil {
		return fmt.Errorf("resolve state_dir: %w", err)
	}
	c.StateDir = stateDir

	stateFile := func(name, configured string) (string, error) {
		if configured == "" {
			return filepath.Join(c.StateDir, name), nil
		}
		return utils.ResolvePath(configured)
	}

	if c.PIDFile, err = stateFile(pidFileName, c.PIDFile); err != nil {
		return fmt.Errorf("resolve pid_file: %w", err)
	}
	if c.Log.File, err = stateFile(logFileName, c.Log.File); err != nil {
		return fmt.Errorf("resolve log.file: %w", err)
	}
	if c.HistoryDB, err = stateFile(historyDBName, c.HistoryDB); err != nil {
		return fmt.Errorf("resolve history_db: %w", err)
	}
	if c.IgnoreFile, err = stateFile(ignoreFileName, c.IgnoreFile); err != nil {
		return fmt.Errorf("resolve ignore_file: %w", err)
	}

	if c.TargetsFile != "" {
		if c.TargetsFile, err = utils.ResolvePath(c.TargetsFile); err != nil {
			return fmt.Errorf("resolve targets_file: %w", err)
		}
	}
	if c.Transport.KeyFile != "" {
		if c.Transport.KeyFile, err = utils.ResolvePath(c.Transport.KeyFile); err != nil {
			return fmt.Errorf("resolve transport.key_file: %w", err)
		}
	}
	if c.Transport.KnownHostsFile != "" {
		if c.Transport.KnownHostsFile, err = utils.ResolvePath(c.Transport.KnownHostsFile); err != nil {
			return fmt.Errorf("resolve transport.known_hosts_file: %w", err)
		}
	}

	for i := range c.Targets {
		t := &c.Targets[i]
		if t.LocalLogRoot, err = expandHome(t.LocalLogRoot); err != nil {
			return fmt.Errorf("target %q: %w", t.Label, err)
		}
		if t.LocalDataRoot, err = expandHome(t.LocalDataRoot); err != nil {
			return fmt.Errorf("target %q: %w", t.Label, err)
		}
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	return utils.ResolvePath(path)
}

// mergeTargetsFile appends targets from the standalone YAML file, when one is
// configured. Provisioning tooling typically owns that file while the main
// config stays hand-edited; inline targets keep their position ahead of the
// merged ones.
func (c *Config) mergeTargetsFile() error {
	if c.TargetsFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.TargetsFile)
	if err != nil {
		return fmt.Errorf("read targets_file: %w", err)
	}

	var doc struct {
		Targets []mirror.Target `yaml:"targets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse targets_file %s: %w", c.TargetsFile, err)
	}

	for i := range doc.Targets {
		t := &doc.Targets[i]
		if t.LocalLogRoot, err = expandHome(t.LocalLogRoot); err != nil {
			return fmt.Errorf("target %q: %w", t.Label, err)
		}
		if t.LocalDataRoot, err = expandHome(t.LocalDataRoot); err != nil {
			return fmt.Errorf("target %q: %w", t.Label, err)
		}
	}
	c.Targets = append(c.Targets, doc.Targets...)
	return nil
}

// Validate checks everything the sync loop depends on. Call it on the start
// path, after Load.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.FailureCeiling <= 0 {
		return fmt.Errorf("failure_ceiling must be positive, got %d", c.FailureCeiling)
	}
	if c.ExtendedCooldown <= 0 {
		return fmt.Errorf("extended_cooldown must be positive, got %s", c.ExtendedCooldown)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("no sync targets configured")
	}

	labels := mapset.NewSet[string]()
	for i := range c.Targets {
		t := &c.Targets[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		if !labels.Add(t.Label) {
			return fmt.Errorf("duplicate target label %q", t.Label)
		}
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	// Surface bad exclude globs at startup rather than mid-pass.
	if _, err := c.ExcludePatterns(); err != nil {
		return err
	}
	return nil
}

// StateFiles returns the basenames of the daemon's own state files. They are
// excluded from every mirror so a pass can never clobber the daemon. Exact
// names only; a broad pattern like *.log would silently drop remote service
// logs from the mirror.
func (c *Config) StateFiles() []string {
	db := filepath.Base(c.HistoryDB)
	return []string{
		filepath.Base(c.PIDFile),
		filepath.Base(c.Log.File),
		db,
		db + "-wal",
		db + "-shm",
	}
}

// ExcludePatterns assembles the final exclude list: state files, built-in
// transient patterns, configured patterns, then the ignore file.
func (c *Config) ExcludePatterns() ([]string, error) {
	configured := make([]string, 0, len(mirror.DefaultExcludes)+len(c.Excludes))
	configured = append(configured, mirror.DefaultExcludes...)
	configured = append(configured, c.Excludes...)
	return mirror.BuildExcludes(c.StateFiles(), configured, c.IgnoreFile)
}
