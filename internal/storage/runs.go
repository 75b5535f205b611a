package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"notionsync/internal/domain"
	"notionsync/internal/etl"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded sync pass.
type Run struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Environment string     `json:"environment"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  time.Time  `json:"finishedAt"`
	Attempted   int        `json:"attempted"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Tables      []TableRun `json:"tables,omitempty"`

	RelationsAttempted int   `json:"relationsAttempted"`
	RelationsSucceeded int   `json:"relationsSucceeded"`
	RelationsFailed    int   `json:"relationsFailed"`
	JunctionRows       int64 `json:"junctionRows"`
}

// TableRun is the stored outcome of one table in a pass.
type TableRun struct {
	Table        string `json:"table"`
	CollectionID string `json:"collectionId"`
	Mode         string `json:"mode"`
	State        string `json:"state"`
	RowsFetched  int    `json:"rowsFetched"`
	RowsWritten  int    `json:"rowsWritten"`
	ColumnsAdded int    `json:"columnsAdded"`
	DurationMS   int64  `json:"durationMs"`
	Error        string `json:"error,omitempty"`
}

// RunFromSummary converts an engine summary into a storable run.
func RunFromSummary(s etl.RunSummary, mode string, env domain.Environment) *Run {
	run := &Run{
		Mode:        mode,
		Environment: string(env),
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Attempted:   s.Attempted,
		Succeeded:   s.Succeeded,
		Failed:      s.Failed,
		Skipped:     s.Skipped,
	}
	for _, t := range s.Tables {
		run.Tables = append(run.Tables, TableRun{
			Table:        t.Table,
			CollectionID: t.CollectionID,
			Mode:         string(t.Mode),
			State:        string(t.State),
			RowsFetched:  t.RowsFetched,
			RowsWritten:  t.RowsWritten,
			ColumnsAdded: t.ColumnsAdded,
			DurationMS:   t.Duration.Milliseconds(),
			Error:        t.Error,
		})
	}
	return run
}

// RunStore persists sync passes.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// ── Runs ───────────────────────────────────────────────────

// RecordRun assigns run an id and stores it with its table results.
func (s *RunStore) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_runs (id, mode, environment, started_at, finished_at, attempted, succeeded, failed, skipped,
		 relations_attempted, relations_succeeded, relations_failed, junction_rows)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Mode, run.Environment, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Attempted, run.Succeeded, run.Failed, run.Skipped,
		run.RelationsAttempted, run.RelationsSucceeded, run.RelationsFailed, run.JunctionRows,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, t := range run.Tables {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sync_table_results (run_id, position, table_name, collection_id, mode, state,
			 rows_fetched, rows_written, columns_added, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, t.Table, t.CollectionID, t.Mode, t.State,
			t.RowsFetched, t.RowsWritten, t.ColumnsAdded, t.DurationMS, t.Error,
		)
		if err != nil {
			return fmt.Errorf("insert table result %s: %w", t.Table, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, mode, environment, started_at, finished_at, attempted, succeeded, failed, skipped,
	relations_attempted, relations_succeeded, relations_failed, junction_rows`

// ListRuns returns the most recent runs, newest first, without table results.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its table results.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT table_name, collection_id, mode, state, rows_fetched, rows_written, columns_added, duration_ms, error
		 FROM sync_table_results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t TableRun
		if err := rows.Scan(&t.Table, &t.CollectionID, &t.Mode, &t.State,
			&t.RowsFetched, &t.RowsWritten, &t.ColumnsAdded, &t.DurationMS, &t.Error); err != nil {
			return nil, err
		}
		run.Tables = append(run.Tables, t)
	}
	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var started, finished string
	if err := sc.Scan(&run.ID, &run.Mode, &run.Environment, &started, &finished,
		&run.Attempted, &run.Succeeded, &run.Failed, &run.Skipped,
		&run.RelationsAttempted, &run.RelationsSucceeded, &run.RelationsFailed, &run.JunctionRows); err != nil {
		return nil, err
	}
	run.StartedAt, _ = domain.ParseTimestamp(started)
	run.FinishedAt, _ = domain.ParseTimestamp(finished)
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(domain.TimestampLayout)
}
