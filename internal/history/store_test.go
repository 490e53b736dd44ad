package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmirror/fleetmirror/internal/mirror"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeReport(id string, startedAt time.Time, outcome mirror.PassOutcome, targets ...mirror.TargetReport) *mirror.PassReport {
	return &mirror.PassReport{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(3 * time.Second),
		Outcome:    outcome,
		Targets:    targets,
	}
}

var baseTime = time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)

func TestStore_RecordAndLastPass(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := makeReport("pass-1", baseTime, mirror.PassSomeDegraded,
		mirror.TargetReport{
			Label:   "alpha",
			Logs:    mirror.SuccessResult(),
			Data:    mirror.SkippedResult(mirror.ReasonNoRemoteData),
			Outcome: mirror.TargetOK,
		},
		mirror.TargetReport{
			Label:   "bravo",
			Logs:    mirror.FailedResult(errors.New("connection refused")),
			Data:    mirror.FailedResult(errors.New("connection refused")),
			Outcome: mirror.TargetFailed,
		},
	)
	require.NoError(t, s.RecordPass(ctx, report))

	last, err := s.LastPass(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "pass-1", last.ID)
	assert.Equal(t, mirror.PassSomeDegraded, last.Outcome)
	assert.Equal(t, baseTime, last.StartedAt)

	require.Len(t, last.Targets, 2)
	alpha, bravo := last.Targets[0], last.Targets[1]
	assert.Equal(t, "alpha", alpha.Label)
	assert.Equal(t, mirror.ReasonNoRemoteData, alpha.DataDetail)
	assert.Equal(t, "bravo", bravo.Label)
	assert.Equal(t, "connection refused", bravo.LogsDetail)
}

func TestStore_LastPassEmpty(t *testing.T) {
	s := openTestStore(t)

	last, err := s.LastPass(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestStore_RecentPassesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		report := makeReport(fmt.Sprintf("pass-%d", i), baseTime.Add(time.Duration(i)*time.Minute), mirror.PassAllOk)
		require.NoError(t, s.RecordPass(ctx, report))
	}

	passes, err := s.RecentPasses(ctx, 3)
	require.NoError(t, err)
	require.Len(t, passes, 3)
	assert.Equal(t, "pass-4", passes[0].ID)
	assert.Equal(t, "pass-3", passes[1].ID)
	assert.Equal(t, "pass-2", passes[2].ID)
}

func TestStore_TargetSummaries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	okReport := makeReport("pass-ok", baseTime, mirror.PassAllOk,
		mirror.TargetReport{Label: "alpha", Logs: mirror.SuccessResult(), Data: mirror.SuccessResult(), Outcome: mirror.TargetOK},
		mirror.TargetReport{Label: "bravo", Logs: mirror.SuccessResult(), Data: mirror.SuccessResult(), Outcome: mirror.TargetOK},
	)
	require.NoError(t, s.RecordPass(ctx, okReport))

	degraded := makeReport("pass-degraded", baseTime.Add(time.Minute), mirror.PassSomeDegraded,
		mirror.TargetReport{Label: "alpha", Logs: mirror.SuccessResult(), Data: mirror.SuccessResult(), Outcome: mirror.TargetOK},
		mirror.TargetReport{Label: "bravo", Logs: mirror.FailedResult(errors.New("down")), Data: mirror.FailedResult(errors.New("down")), Outcome: mirror.TargetFailed},
	)
	require.NoError(t, s.RecordPass(ctx, degraded))

	summaries, err := s.TargetSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	alpha, bravo := summaries[0], summaries[1]
	assert.Equal(t, "alpha", alpha.Label)
	assert.Equal(t, mirror.TargetOK, alpha.LastOutcome)
	require.NotNil(t, alpha.LastOKAt)
	assert.Equal(t, degraded.FinishedAt, *alpha.LastOKAt)

	assert.Equal(t, "bravo", bravo.Label)
	assert.Equal(t, mirror.TargetFailed, bravo.LastOutcome)
	assert.Equal(t, degraded.FinishedAt, bravo.LastPassAt)
	require.NotNil(t, bravo.LastOKAt)
	assert.Equal(t, okReport.FinishedAt, *bravo.LastOKAt)
}

func TestStore_TargetSummaries_NeverSucceeded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := makeReport("pass-1", baseTime, mirror.PassAllFailed,
		mirror.TargetReport{Label: "alpha", Logs: mirror.FailedResult(errors.New("down")), Data: mirror.FailedResult(errors.New("down")), Outcome: mirror.TargetFailed},
	)
	require.NoError(t, s.RecordPass(ctx, report))

	summaries, err := s.TargetSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Nil(t, summaries[0].LastOKAt)
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		report := makeReport(fmt.Sprintf("pass-%d", i), baseTime.Add(time.Duration(i)*time.Minute), mirror.PassAllOk,
			mirror.TargetReport{Label: "alpha", Logs: mirror.SuccessResult(), Data: mirror.SuccessResult(), Outcome: mirror.TargetOK},
		)
		require.NoError(t, s.RecordPass(ctx, report))
	}

	removed, err := s.Prune(ctx, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 6, removed)

	passes, err := s.RecentPasses(ctx, 100)
	require.NoError(t, err)
	require.Len(t, passes, 4)
	assert.Equal(t, "pass-9", passes[0].ID)

	// The newest pass keeps its target detail after pruning.
	last, err := s.LastPass(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Len(t, last.Targets, 1)
}

func TestStore_RecentPassesDefaultLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.RecordPass(ctx, makeReport(fmt.Sprintf("pass-%d", i), baseTime.Add(time.Duration(i)*time.Second), mirror.PassAllOk)))
	}

	passes, err := s.RecentPasses(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, passes, 20)
}
