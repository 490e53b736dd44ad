// Package status assembles the operator-facing view of the daemon: process
// liveness, recent pass history, and local mirror tree totals per target.
package status

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/fleetmirror/fleetmirror/internal/history"
	"github.com/fleetmirror/fleetmirror/internal/mirror"
	"github.com/fleetmirror/fleetmirror/internal/version"
)

// TargetStatus is the per-target slice of a snapshot.
type TargetStatus struct {
	Label       string               `json:"label"`
	LastOutcome mirror.TargetOutcome `json:"lastOutcome,omitempty"`
	LastPassAt  *time.Time           `json:"lastPassAt,omitempty"`
	LastOKAt    *time.Time           `json:"lastOkAt,omitempty"`
	LogBytes    int64                `json:"logBytes"`
	DataBytes   int64                `json:"dataBytes"`
	LastWrite   *time.Time           `json:"lastWrite,omitempty"`
}

// Snapshot is one point-in-time view of the daemon. Served verbatim on the
// control plane and by `status --json`.
type Snapshot struct {
	Running             bool           `json:"running"`
	PID                 int32          `json:"pid,omitempty"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	Version             string         `json:"version"`
	Revision            string         `json:"revision"`
	IntervalSeconds     int            `json:"intervalSeconds"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
	LastPass            *history.Pass  `json:"lastPass,omitempty"`
	Targets             []TargetStatus `json:"targets"`
	Timestamp           time.Time      `json:"timestamp"`
}

// Reporter builds snapshots. It reads the PID file directly so the `status`
// command can answer even when the daemon is down.
type Reporter struct {
	pidPath  string
	interval time.Duration
	targets  []mirror.Target

	store    *history.Store
	failures func() int
}

func NewReporter(pidPath string, interval time.Duration, targets []mirror.Target) *Reporter {
	return &Reporter{
		pidPath:  pidPath,
		interval: interval,
		targets:  targets,
	}
}

// WithHistory adds pass history to snapshots.
func (r *Reporter) WithHistory(store *history.Store) *Reporter {
	r.store = store
	return r
}

// WithFailureCount wires the live consecutive-failure counter. Only the
// running daemon has one; offline snapshots report zero.
func (r *Reporter) WithFailureCount(fn func() int) *Reporter {
	r.failures = fn
	return r
}

func (r *Reporter) Snapshot(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Version:         version.Version,
		Revision:        version.Revision,
		IntervalSeconds: int(r.interval.Seconds()),
		Timestamp:       time.Now().UTC(),
	}

	if pid, ok := readPID(r.pidPath); ok {
		if alive, _ := process.PidExists(pid); alive {
			snap.Running = true
			snap.PID = pid
			if proc, err := process.NewProcessWithContext(ctx, pid); err == nil {
				if createdMs, err := proc.CreateTimeWithContext(ctx); err == nil {
					started := time.UnixMilli(createdMs).UTC()
					snap.StartedAt = &started
				}
			}
		}
	}

	if r.failures != nil {
		snap.ConsecutiveFailures = r.failures()
	}

	var summaries map[string]history.TargetSummary
	if r.store != nil {
		if last, err := r.store.LastPass(ctx); err == nil {
			snap.LastPass = last
		}
		if list, err := r.store.TargetSummaries(ctx); err == nil {
			summaries = make(map[string]history.TargetSummary, len(list))
			for _, s := range list {
				summaries[s.Label] = s
			}
		}
	}

	snap.Targets = make([]TargetStatus, 0, len(r.targets))
	for _, t := range r.targets {
		ts := TargetStatus{Label: t.Label}
		if s, ok := summaries[t.Label]; ok {
			ts.LastOutcome = s.LastOutcome
			at := s.LastPassAt
			ts.LastPassAt = &at
			ts.LastOKAt = s.LastOKAt
		}

		var logWrite, dataWrite time.Time
		ts.LogBytes, logWrite = treeStats(t.LocalLogRoot)
		ts.DataBytes, dataWrite = treeStats(t.LocalDataRoot)
		if newest := latest(logWrite, dataWrite); !newest.IsZero() {
			w := newest.UTC()
			ts.LastWrite = &w
		}

		snap.Targets = append(snap.Targets, ts)
	}

	return snap
}

func readPID(path string) (int32, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return int32(pid), true
}

// treeStats totals regular file sizes under root and finds the newest mod
// time. A missing root reports zero; the first sync creates it.
func treeStats(root string) (int64, time.Time) {
	var total int64
	var newest time.Time
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		if mt := info.ModTime(); mt.After(newest) {
			newest = mt
		}
		return nil
	})
	return total, newest
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
