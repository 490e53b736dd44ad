package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmirror/fleetmirror/internal/config"
	"github.com/fleetmirror/fleetmirror/internal/controlplane"
	"github.com/fleetmirror/fleetmirror/internal/logging"
	"github.com/fleetmirror/fleetmirror/internal/mirror"
	"github.com/fleetmirror/fleetmirror/internal/transfer"
	"github.com/fleetmirror/fleetmirror/internal/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	stateDir := t.TempDir()
	local := t.TempDir()
	return &config.Config{
		StateDir:         stateDir,
		Interval:         30 * time.Second,
		FailureCeiling:   10,
		ExtendedCooldown: 300 * time.Second,
		Parallelism:      2,
		HistoryKeep:      100,
		StopGrace:        time.Second,
		PIDFile:          filepath.Join(stateDir, "fleetmirror.pid"),
		HistoryDB:        filepath.Join(stateDir, "history.db"),
		IgnoreFile:       filepath.Join(stateDir, ".mirrorignore"),
		Transport: transfer.Config{
			Kind: transfer.KindRsync,
			Host: "logs.example.net",
			User: "mirror",
			Port: 22,
		},
		Log: logging.Config{
			Level: "info",
			File:  filepath.Join(stateDir, "fleetmirror.log"),
		},
		ControlPlane: controlplane.Config{Addr: "127.0.0.1:0"},
		Targets: []mirror.Target{{
			Label:          "alpha",
			RemoteLogRoot:  "/srv/logs/alpha",
			RemoteDataRoot: "/srv/data/alpha",
			LocalLogRoot:   filepath.Join(local, "logs"),
			LocalDataRoot:  filepath.Join(local, "data"),
		}},
	}
}

func TestNew_WiresFromConfig(t *testing.T) {
	d, err := New(testConfig(t))
	require.NoError(t, err)
	defer d.Close()

	require.NotNil(t, d.orch)
	assert.Len(t, d.orch.Targets(), 1)
	assert.Equal(t, 30*time.Second, d.policy.Interval())
}

func TestNew_RejectsBadExcludePattern(t *testing.T) {
	cfg := testConfig(t)
	cfg.Excludes = []string{"[oops"}

	_, err := New(cfg)
	require.ErrorContains(t, err, "invalid exclude pattern")
}

func TestNew_RejectsUnknownTransport(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport.Kind = "carrier-pigeon"

	_, err := New(cfg)
	require.ErrorContains(t, err, "transport")
}

// The lifecycle test runs with zero targets so no transfer is attempted; the
// loop, PID guard and control plane are what is under test.
func TestRun_CleanLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = nil

	port, err := utils.GetFreePort()
	require.NoError(t, err)
	cfg.ControlPlane.Addr = fmt.Sprintf("127.0.0.1:%d", port)

	d, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	pidFile := NewPIDFile(cfg.PIDFile)
	require.Eventually(t, func() bool {
		pid, alive := pidFile.Alive()
		return alive && pid > 0
	}, 5*time.Second, 20*time.Millisecond, "daemon never claimed the pid file")

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond, "control plane never came up")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	assert.NoFileExists(t, cfg.PIDFile)
}

func TestRun_RefusesWhenAnotherDaemonOwnsTree(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets = nil

	// The test runner's parent stands in for a live daemon we do not own.
	other := strconv.Itoa(os.Getppid())
	require.NoError(t, os.WriteFile(cfg.PIDFile, []byte(other), 0o644))

	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Close()

	err = d.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// The conflicting file is left alone.
	data, readErr := os.ReadFile(cfg.PIDFile)
	require.NoError(t, readErr)
	assert.Equal(t, other, string(data))
}
