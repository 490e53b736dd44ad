// Package daemon runs the long-lived mirror process: the pass loop with its
// retry policy, the singleton PID guard and the loopback control plane,
// composed under one errgroup. The CLI side of process management (spawning
// and stopping the detached daemon) lives in Supervisor.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetmirror/fleetmirror/internal/alert"
	"github.com/fleetmirror/fleetmirror/internal/config"
	"github.com/fleetmirror/fleetmirror/internal/controlplane"
	"github.com/fleetmirror/fleetmirror/internal/history"
	"github.com/fleetmirror/fleetmirror/internal/mirror"
	"github.com/fleetmirror/fleetmirror/internal/status"
	"github.com/fleetmirror/fleetmirror/internal/transfer"
	"github.com/fleetmirror/fleetmirror/internal/utils"
)

const (
	// shutdownTimeout bounds the control plane drain on exit.
	shutdownTimeout = 10 * time.Second

	// pruneEvery is how many passes run between history prunes.
	pruneEvery = 50
)

// Daemon owns every long-lived component of the mirror process.
type Daemon struct {
	cfg     *config.Config
	pid     *PIDFile
	orch    *mirror.Orchestrator
	policy  *mirror.RetryPolicy
	store   *history.Store
	webhook *alert.Webhook
	cps     *controlplane.Server

	runMu  sync.RWMutex
	runCtx context.Context
}

// New wires the daemon from config. The history store is opened here;
// callers that do not proceed to Run must Close the daemon.
func New(cfg *config.Config) (*Daemon, error) {
	client, err := transfer.New(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("transfer client: %w", err)
	}

	excludes, err := cfg.ExcludePatterns()
	if err != nil {
		return nil, err
	}

	if err := utils.EnsureDir(cfg.StateDir); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	d := &Daemon{
		cfg: cfg,
		pid: NewPIDFile(cfg.PIDFile),
		orch: mirror.NewOrchestrator(mirror.Options{
			Targets:     cfg.Targets,
			Transfer:    transfer.NewCachingProber(client, cfg.ProbeCacheTTL),
			Excludes:    excludes,
			Parallelism: cfg.Parallelism,
			History:     store,
		}),
		policy:  mirror.NewRetryPolicy(cfg.Interval, cfg.ExtendedCooldown, cfg.FailureCeiling),
		store:   store,
		webhook: alert.NewWebhook(cfg.AlertWebhookURL),
	}
	d.policy.OnCooldown(d.onCooldown)

	reporter := status.NewReporter(cfg.PIDFile, cfg.Interval, cfg.Targets).
		WithHistory(store).
		WithFailureCount(d.policy.ConsecutiveFailures)

	d.cps = controlplane.NewServer(&cfg.ControlPlane, controlplane.Sources{
		Status:  reporter,
		History: store,
		Trigger: d,
		LogFile: cfg.Log.File,
	})

	return d, nil
}

// Close releases the history store. Only needed when the daemon is discarded
// without Run, like after the start command's initial foreground pass.
func (d *Daemon) Close() error {
	return d.store.Close()
}

// Run claims the PID file and drives the daemon until ctx is canceled. It
// returns nil on a clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.pid.Claim(); err != nil {
		return err
	}
	defer func() {
		if err := d.pid.Remove(); err != nil {
			slog.Warn("remove pid file", "error", err)
		}
	}()
	defer d.store.Close()

	d.setRunContext(ctx)
	slog.Info("daemon started",
		"pid", os.Getpid(),
		"interval", d.cfg.Interval,
		"targets", len(d.orch.Targets()),
		"control_plane", d.cfg.ControlPlane)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return d.loop(egCtx)
	})

	eg.Go(func() error {
		if err := d.cps.Start(egCtx); err != nil {
			return fmt.Errorf("control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// loop runs scheduled passes until ctx is canceled. Pass outcomes feed the
// retry policy, which owns the delay until the next pass.
func (d *Daemon) loop(ctx context.Context) error {
	passes := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := d.policy.Interval()
		report, err := d.orch.RunPass(ctx, time.Now())
		switch {
		case errors.Is(err, mirror.ErrPassInProgress):
			// A manually triggered pass holds the slot; check back after
			// the normal interval.
			slog.Debug("scheduled pass skipped, one already running")
		case err != nil:
			slog.Error("sync pass", "error", err)
		default:
			delay = d.policy.Observe(report.Outcome)
			passes++
			if passes%pruneEvery == 0 {
				d.prune(ctx)
			}
		}

		if !Sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (d *Daemon) prune(ctx context.Context) {
	removed, err := d.store.Prune(ctx, d.cfg.HistoryKeep)
	if err != nil {
		slog.Warn("history prune", "error", err)
		return
	}
	if removed > 0 {
		slog.Debug("history pruned", "removed", removed, "keep", d.cfg.HistoryKeep)
	}
}

// RunOnce executes a single pass and returns its report. The start command
// uses it for the operator-visible initial sync before detaching.
func (d *Daemon) RunOnce(ctx context.Context) (*mirror.PassReport, error) {
	return d.orch.RunPass(ctx, time.Now())
}

// TriggerPass starts an unscheduled pass in the background. It reports
// mirror.ErrPassInProgress when one is already running. Manual passes record
// history like scheduled ones but never feed the retry policy.
func (d *Daemon) TriggerPass() error {
	if d.orch.Busy() {
		return mirror.ErrPassInProgress
	}

	ctx := d.runContext()
	go func() {
		slog.Info("manual sync pass requested")
		if _, err := d.orch.RunPass(ctx, time.Now()); err != nil {
			// Busy above is advisory; the scheduled loop may have won the
			// slot in between. Its pass serves the caller's purpose.
			if !errors.Is(err, mirror.ErrPassInProgress) {
				slog.Error("manual sync pass", "error", err)
			}
		}
	}()
	return nil
}

// Stop shuts down the components that need draining. The pass loop stops via
// context cancellation.
func (d *Daemon) Stop(ctx context.Context) error {
	if err := d.cps.Stop(ctx); err != nil {
		return fmt.Errorf("stop control plane: %w", err)
	}
	return nil
}

// onCooldown runs when the failure ceiling trips. The webhook call blocks
// the loop goroutine, which is about to sleep out the cooldown anyway.
func (d *Daemon) onCooldown(consecutive int) {
	if !d.webhook.Enabled() {
		return
	}
	d.webhook.CooldownEntered(d.runContext(), consecutive, d.cfg.ExtendedCooldown)
}

func (d *Daemon) setRunContext(ctx context.Context) {
	d.runMu.Lock()
	d.runCtx = ctx
	d.runMu.Unlock()
}

func (d *Daemon) runContext() context.Context {
	d.runMu.RLock()
	defer d.runMu.RUnlock()
	if d.runCtx != nil {
		return d.runCtx
	}
	return context.Background()
}
