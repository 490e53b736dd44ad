// Package mirror implements the synchronization pass: per-target log and data
// mirroring, outcome classification, and the retry policy driving the pass
// cadence.
package mirror

import (
	"time"
)

// SyncStatus is the result of syncing one subtree (logs or data) of a target.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
	SyncSkipped SyncStatus = "skipped"
)

// Skip reasons surfaced in results and logs.
const (
	ReasonNoLogWindow  = "no log folders in window"
	ReasonNoRemoteData = "no remote data root"
)

// SyncResult captures the outcome of one subtree sync. Skipped is an expected
// condition, not a failure.
type SyncResult struct {
	Status SyncStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func SuccessResult() SyncResult {
	return SyncResult{Status: SyncSuccess}
}

func SkippedResult(reason string) SyncResult {
	return SyncResult{Status: SyncSkipped, Reason: reason}
}

func FailedResult(err error) SyncResult {
	r := SyncResult{Status: SyncFailed}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// TargetOutcome classifies one target within a pass.
type TargetOutcome string

const (
	TargetOK      TargetOutcome = "ok"
	TargetPartial TargetOutcome = "partial"
	TargetFailed  TargetOutcome = "failed"
)

// DeriveTargetOutcome folds the two subtree results of a target into one
// outcome. Skips never count against the target: a target whose only
// applicable subtree was skipped is OK, and one whose only applicable subtree
// failed is Failed, not Partial.
func DeriveTargetOutcome(logs, data SyncResult) TargetOutcome {
	var failures, successes int
	for _, r := range [...]SyncResult{logs, data} {
		switch r.Status {
		case SyncFailed:
			failures++
		case SyncSuccess:
			successes++
		}
	}

	switch {
	case failures == 0:
		return TargetOK
	case successes > 0:
		return TargetPartial
	default:
		return TargetFailed
	}
}

// PassOutcome classifies a whole pass across all targets.
type PassOutcome string

const (
	PassAllOk        PassOutcome = "all_ok"
	PassSomeDegraded PassOutcome = "some_degraded"
	PassAllFailed    PassOutcome = "all_failed"
)

// DerivePassOutcome aggregates target outcomes. AllFailed requires every
// single target to have failed; one reachable target is enough to keep the
// pass at SomeDegraded.
func DerivePassOutcome(targets []TargetReport) PassOutcome {
	if len(targets) == 0 {
		return PassAllOk
	}

	allOK, allFailed := true, true
	for _, t := range targets {
		if t.Outcome != TargetOK {
			allOK = false
		}
		if t.Outcome != TargetFailed {
			allFailed = false
		}
	}

	switch {
	case allOK:
		return PassAllOk
	case allFailed:
		return PassAllFailed
	default:
		return PassSomeDegraded
	}
}

// TargetReport is the per-target record of one pass.
type TargetReport struct {
	Label   string        `json:"label"`
	Logs    SyncResult    `json:"logs"`
	Data    SyncResult    `json:"data"`
	Outcome TargetOutcome `json:"outcome"`
}

// PassReport is the full record of one pass.
type PassReport struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Outcome    PassOutcome    `json:"outcome"`
	Targets    []TargetReport `json:"targets"`
}

func (r *PassReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
