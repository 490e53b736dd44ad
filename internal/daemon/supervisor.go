package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/fleetmirror/fleetmirror/internal/config"
	"github.com/fleetmirror/fleetmirror/internal/utils"
)

const checkInterval = 100 * time.Millisecond

// Supervisor is the CLI side of daemon process management: spawning the
// detached process, waiting for it to come up and taking it down again. It
// never runs inside the daemon itself.
type Supervisor struct {
	cfg *config.Config
	pid *PIDFile
}

func NewSupervisor(cfg *config.Config) *Supervisor {
	return &Supervisor{
		cfg: cfg,
		pid: NewPIDFile(cfg.PIDFile),
	}
}

// Check returns the live daemon PID. A PID file pointing at a dead process
// is removed on the way through, so one crashed run never wedges start.
func (s *Supervisor) Check() (int32, bool) {
	pid, ok := s.pid.Read()
	if !ok {
		return 0, false
	}
	if alive, _ := process.PidExists(pid); alive {
		return pid, true
	}

	slog.Warn("removing stale pid file", "path", s.pid.Path(), "pid", pid)
	if err := s.pid.Remove(); err != nil {
		slog.Warn("remove stale pid file", "error", err)
	}
	return 0, false
}

// Spawn re-executes the current binary as the detached daemon and returns
// its PID without waiting for startup; pair with WaitReady. The child gets
// its own process group so terminal signals for the CLI never reach it, and
// its stdout/stderr land in the activity log so a panic is not lost.
func (s *Supervisor) Spawn() (int32, error) {
	if pid, alive := s.Check(); alive {
		return pid, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}

	if err := utils.EnsureParent(s.cfg.Log.File); err != nil {
		return 0, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(s.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"run"}
	if s.cfg.Path != "" {
		args = append(args, "--config", s.cfg.Path)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachSysProcAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}

	// Reap the child if it exits while this CLI process is still around.
	go func() { _ = cmd.Wait() }()

	return int32(cmd.Process.Pid), nil
}

// WaitReady polls until the spawned process has claimed the PID file. It
// fails fast when the process dies during startup instead of waiting out
// the deadline.
func (s *Supervisor) WaitReady(ctx context.Context, spawned int32) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		if pid, alive := s.Check(); alive && pid == spawned {
			return nil
		}
		if exists, _ := process.PidExists(spawned); !exists {
			return fmt.Errorf("daemon exited during startup, see %s", s.cfg.Log.File)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop terminates the running daemon: SIGTERM, the configured grace period,
// then SIGKILL. Returns ErrNotRunning when there is nothing to stop.
func (s *Supervisor) Stop(ctx context.Context) error {
	pid, alive := s.Check()
	if !alive {
		return ErrNotRunning
	}

	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ErrNotRunning
	}

	slog.Info("stopping daemon", "pid", pid)
	if err := proc.TerminateWithContext(ctx); err != nil {
		if exists, _ := process.PidExists(pid); !exists {
			s.cleanupAfterExit()
			return nil
		}
		return fmt.Errorf("signal daemon: %w", err)
	}

	deadline := time.Now().Add(s.cfg.StopGrace)
	for time.Now().Before(deadline) {
		if !Sleep(ctx, checkInterval) {
			return ctx.Err()
		}
		if exists, _ := process.PidExists(pid); !exists {
			s.cleanupAfterExit()
			return nil
		}
	}

	slog.Warn("daemon ignored SIGTERM, killing", "pid", pid)
	if err := proc.KillWithContext(ctx); err != nil {
		if exists, _ := process.PidExists(pid); exists {
			return fmt.Errorf("kill daemon: %w", err)
		}
	}
	s.cleanupAfterExit()
	return nil
}

// cleanupAfterExit removes what a dead daemon left behind. The daemon cleans
// up after itself on SIGTERM; this covers SIGKILL and crashes.
func (s *Supervisor) cleanupAfterExit() {
	if err := s.pid.Remove(); err != nil {
		slog.Warn("remove pid file", "error", err)
	}
}
