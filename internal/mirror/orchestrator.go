package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultParallelism = 4
	logDateLayout      = "2006-01-02"
)

// ErrPassInProgress is returned when a pass is requested while another one is
// still running.
var ErrPassInProgress = errors.New("sync pass already in progress")

// CopyClient is the remote transfer surface the orchestrator needs. The
// transfer package provides the real implementations.
type CopyClient interface {
	// Mirror replicates the remote tree rooted at remote into local,
	// excluding paths matching the given patterns.
	Mirror(ctx context.Context, remote, local string, excludes []string) error
	// Exists reports whether the remote path exists.
	Exists(ctx context.Context, remote string) (bool, error)
}

// Recorder persists finished passes. The history store implements it.
type Recorder interface {
	RecordPass(ctx context.Context, report *PassReport) error
}

type Options struct {
	Targets     []Target
	Transfer    CopyClient
	Excludes    []string
	Parallelism int
	History     Recorder
}

// Orchestrator drives one synchronization pass across all targets. Targets
// are independent: one failing never aborts the others, and the pass outcome
// is derived only after every target has finished.
type Orchestrator struct {
	targets     []Target
	transfer    CopyClient
	excludes    []string
	parallelism int
	history     Recorder

	muPass sync.Mutex
}

func NewOrchestrator(opts Options) *Orchestrator {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Orchestrator{
		targets:     opts.Targets,
		transfer:    opts.Transfer,
		excludes:    opts.Excludes,
		parallelism: parallelism,
		history:     opts.History,
	}
}

func (o *Orchestrator) Targets() []Target {
	return o.targets
}

// Busy reports whether a pass is currently running. Best-effort: the answer
// can be stale by the time the caller acts on it, so RunPass still guards
// itself with ErrPassInProgress.
func (o *Orchestrator) Busy() bool {
	if o.muPass.TryLock() {
		o.muPass.Unlock()
		return false
	}
	return true
}

// RunPass executes one full pass over all targets and returns its report.
// now anchors the log date window. Only one pass runs at a time; a second
// caller gets ErrPassInProgress instead of queueing up.
func (o *Orchestrator) RunPass(ctx context.Context, now time.Time) (*PassReport, error) {
	if !o.muPass.TryLock() {
		return nil, ErrPassInProgress
	}
	defer o.muPass.Unlock()

	report := &PassReport{
		ID:        uuid.NewString(),
		StartedAt: now,
		Targets:   make([]TargetReport, len(o.targets)),
	}

	slog.Info("sync pass started", "pass", report.ID, "targets", len(o.targets))

	g := new(errgroup.Group)
	g.SetLimit(o.parallelism)
	for i, target := range o.targets {
		g.Go(func() error {
			report.Targets[i] = o.syncTarget(ctx, target, now)
			return nil
		})
	}
	g.Wait()

	report.FinishedAt = time.Now()
	report.Outcome = DerivePassOutcome(report.Targets)

	slog.Info("sync pass finished",
		"pass", report.ID,
		"outcome", report.Outcome,
		"took", report.Duration().Round(time.Millisecond))

	if o.history != nil {
		if err := o.history.RecordPass(ctx, report); err != nil {
			slog.Error("record pass", "pass", report.ID, "error", err)
		}
	}

	return report, nil
}

func (o *Orchestrator) syncTarget(ctx context.Context, t Target, now time.Time) TargetReport {
	start := time.Now()
	tr := TargetReport{Label: t.Label}
	tr.Logs = o.syncLogs(ctx, t, now)
	tr.Data = o.syncData(ctx, t)
	tr.Outcome = DeriveTargetOutcome(tr.Logs, tr.Data)

	took := time.Since(start).Round(time.Millisecond)
	switch tr.Outcome {
	case TargetOK:
		slog.Info("target synced",
			"target", t.Label, "logs", tr.Logs.Status, "data", tr.Data.Status, "took", took)
	case TargetPartial:
		slog.Warn("target partially synced",
			"target", t.Label, "logs", tr.Logs.Status, "data", tr.Data.Status,
			"error", firstError(tr.Logs, tr.Data), "took", took)
	case TargetFailed:
		slog.Error("target sync failed",
			"target", t.Label, "logs", tr.Logs.Status, "data", tr.Data.Status,
			"error", firstError(tr.Logs, tr.Data), "took", took)
	}
	return tr
}

// syncLogs mirrors the remote per-day log folders inside the current date
// window. A date folder missing on the remote is skipped silently; only when
// the whole window is absent does the subtree report Skipped.
func (o *Orchestrator) syncLogs(ctx context.Context, t Target, now time.Time) SyncResult {
	var synced int
	var errs []error

	for _, day := range logWindow(now) {
		remote := path.Join(t.RemoteLogRoot, day)
		local := filepath.Join(t.LocalLogRoot, day)

		exists, err := o.transfer.Exists(ctx, remote)
		if err != nil {
			errs = append(errs, fmt.Errorf("probe %s: %w", remote, err))
			continue
		}
		if !exists {
			continue
		}

		if err := o.transfer.Mirror(ctx, remote, local, o.excludes); err != nil {
			errs = append(errs, fmt.Errorf("mirror %s: %w", remote, err))
			continue
		}
		synced++
	}

	switch {
	case len(errs) > 0:
		return FailedResult(errors.Join(errs...))
	case synced == 0:
		return SkippedResult(ReasonNoLogWindow)
	default:
		return SuccessResult()
	}
}

// syncData mirrors the remote data root when it exists. Services without one
// are skipped, which is an expected condition for every target alike.
func (o *Orchestrator) syncData(ctx context.Context, t Target) SyncResult {
	exists, err := o.transfer.Exists(ctx, t.RemoteDataRoot)
	if err != nil {
		return FailedResult(fmt.Errorf("probe %s: %w", t.RemoteDataRoot, err))
	}
	if !exists {
		return SkippedResult(ReasonNoRemoteData)
	}

	if err := o.transfer.Mirror(ctx, t.RemoteDataRoot, t.LocalDataRoot, o.excludes); err != nil {
		return FailedResult(fmt.Errorf("mirror %s: %w", t.RemoteDataRoot, err))
	}
	return SuccessResult()
}

// logWindow returns the date folder names covered by a pass: the day of the
// pass and the day before, so a pass shortly after midnight still picks up
// yesterday's still-growing logs.
func logWindow(now time.Time) []string {
	return []string{
		now.AddDate(0, 0, -1).Format(logDateLayout),
		now.Format(logDateLayout),
	}
}

func firstError(results ...SyncResult) string {
	for _, r := range results {
		if r.Error != "" {
			return r.Error
		}
	}
	return ""
}
