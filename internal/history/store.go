// Package history keeps the append-only record of finished passes in SQLite,
// backing the status views and the control-plane history endpoint.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmirror/fleetmirror/internal/mirror"
)

const DefaultKeep = 1000

const schemaSQL = `
CREATE TABLE IF NOT EXISTS passes (
	id TEXT PRIMARY KEY,
	outcome TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passes_started_at ON passes(started_at);

CREATE TABLE IF NOT EXISTS target_results (
	pass_id TEXT NOT NULL REFERENCES passes(id) ON DELETE CASCADE,
	label TEXT NOT NULL,
	outcome TEXT NOT NULL,
	logs_status TEXT NOT NULL,
	logs_detail TEXT NOT NULL DEFAULT '',
	data_status TEXT NOT NULL,
	data_detail TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (pass_id, label)
);

CREATE INDEX IF NOT EXISTS idx_target_results_label ON target_results(label);
`

// Pass is one recorded pass. Targets is populated only where the caller asked
// for detail.
type Pass struct {
	ID         string             `json:"id"`
	Outcome    mirror.PassOutcome `json:"outcome"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
	Targets    []TargetResult     `json:"targets,omitempty"`
}

// TargetResult is the stored per-target record of a pass.
type TargetResult struct {
	Label      string               `json:"label" db:"label"`
	Outcome    mirror.TargetOutcome `json:"outcome" db:"outcome"`
	LogsStatus string               `json:"logsStatus" db:"logs_status"`
	LogsDetail string               `json:"logsDetail,omitempty" db:"logs_detail"`
	DataStatus string               `json:"dataStatus" db:"data_status"`
	DataDetail string               `json:"dataDetail,omitempty" db:"data_detail"`
}

// TargetSummary is the latest known state of one target.
type TargetSummary struct {
	Label       string               `json:"label"`
	LastOutcome mirror.TargetOutcome `json:"lastOutcome"`
	LastPassAt  time.Time            `json:"lastPassAt"`
	LastOKAt    *time.Time           `json:"lastOkAt,omitempty"`
}

type passRow struct {
	ID         string `db:"id"`
	Outcome    string `db:"outcome"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
}

func (r passRow) toPass() Pass {
	return Pass{
		ID:         r.ID,
		Outcome:    mirror.PassOutcome(r.Outcome),
		StartedAt:  time.UnixMilli(r.StartedAt).UTC(),
		FinishedAt: time.UnixMilli(r.FinishedAt).UTC(),
	}
}

// Store keeps the pass history. Safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := openSqlite(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPass persists a finished pass and its per-target results in one
// transaction.
func (s *Store) RecordPass(ctx context.Context, report *mirror.PassReport) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO passes (id, outcome, started_at, finished_at) VALUES (?, ?, ?, ?)`,
		report.ID, report.Outcome, report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}

	for _, tr := range report.Targets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO target_results
				(pass_id, label, outcome, logs_status, logs_detail, data_status, data_detail)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.ID, tr.Label, tr.Outcome,
			tr.Logs.Status, resultDetail(tr.Logs),
			tr.Data.Status, resultDetail(tr.Data),
		); err != nil {
			return fmt.Errorf("insert target result %s: %w", tr.Label, err)
		}
	}

	return tx.Commit()
}

// RecentPasses returns the newest passes, most recent first, without
// per-target detail.
func (s *Store) RecentPasses(ctx context.Context, limit int) ([]Pass, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []passRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, outcome, started_at, finished_at FROM passes
		 ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("select passes: %w", err)
	}

	passes := make([]Pass, len(rows))
	for i, r := range rows {
		passes[i] = r.toPass()
	}
	return passes, nil
}

// LastPass returns the most recent pass with its per-target results, or nil
// when no pass has been recorded yet.
func (s *Store) LastPass(ctx context.Context) (*Pass, error) {
	var row passRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, outcome, started_at, finished_at FROM passes
		 ORDER BY started_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select last pass: %w", err)
	}

	pass := row.toPass()
	if err := s.db.SelectContext(ctx, &pass.Targets,
		`SELECT label, outcome, logs_status, logs_detail, data_status, data_detail
		 FROM target_results WHERE pass_id = ? ORDER BY label`, pass.ID); err != nil {
		return nil, fmt.Errorf("select target results: %w", err)
	}
	return &pass, nil
}

// TargetSummaries returns, per target label, the outcome of its newest pass
// and the time it last completed a pass without failures.
func (s *Store) TargetSummaries(ctx context.Context) ([]TargetSummary, error) {
	type latestRow struct {
		Label      string `db:"label"`
		Outcome    string `db:"outcome"`
		FinishedAt int64  `db:"finished_at"`
	}
	var latest []latestRow
	if err := s.db.SelectContext(ctx, &latest, `
		SELECT label, outcome, finished_at FROM (
			SELECT tr.label, tr.outcome, p.finished_at,
			       ROW_NUMBER() OVER (PARTITION BY tr.label ORDER BY p.started_at DESC) AS rn
			FROM target_results tr
			JOIN passes p ON p.id = tr.pass_id
		) WHERE rn = 1 ORDER BY label`); err != nil {
		return nil, fmt.Errorf("select latest results: %w", err)
	}

	type okRow struct {
		Label    string `db:"label"`
		LastOKAt int64  `db:"last_ok_at"`
	}
	var oks []okRow
	if err := s.db.SelectContext(ctx, &oks, `
		SELECT tr.label, MAX(p.finished_at) AS last_ok_at
		FROM target_results tr
		JOIN passes p ON p.id = tr.pass_id
		WHERE tr.outcome = ?
		GROUP BY tr.label`, mirror.TargetOK); err != nil {
		return nil, fmt.Errorf("select last ok: %w", err)
	}
	lastOK := make(map[string]time.Time, len(oks))
	for _, r := range oks {
		lastOK[r.Label] = time.UnixMilli(r.LastOKAt).UTC()
	}

	summaries := make([]TargetSummary, len(latest))
	for i, r := range latest {
		summaries[i] = TargetSummary{
			Label:       r.Label,
			LastOutcome: mirror.TargetOutcome(r.Outcome),
			LastPassAt:  time.UnixMilli(r.FinishedAt).UTC(),
		}
		if t, ok := lastOK[r.Label]; ok {
			summaries[i].LastOKAt = &t
		}
	}
	return summaries, nil
}

// Prune drops everything but the newest keep passes and returns how many
// were removed. Target results are deleted explicitly rather than via the
// cascade: the foreign_keys pragma is per-connection and the pool does not
// guarantee which connection runs the delete.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM target_results WHERE pass_id NOT IN
			(SELECT id FROM passes ORDER BY started_at DESC LIMIT ?)`, keep); err != nil {
		return 0, fmt.Errorf("prune target results: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM passes WHERE id NOT IN
			(SELECT id FROM passes ORDER BY started_at DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune passes: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return removed, tx.Commit()
}

func resultDetail(r mirror.SyncResult) string {
	if r.Error != "" {
		return r.Error
	}
	return r.Reason
}
