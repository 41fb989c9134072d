package store

import (
	"context"
	"database/sql"
	"time"
)

// DeliveryRun records one pass through the delivery pipeline for auditing.
// It never holds forecast data.
type DeliveryRun struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Trigger      string // "command", "schedule", "http", "cli"
	Kind         string // chart kind
	Domain       string
	Owner        string
	Target       sql.NullString
	Stage        string // last stage entered
	Success      bool
	ErrorKind    sql.NullString
	ErrorMessage sql.NullString
	ImageBytes   sql.NullInt64
}

// StartRun inserts run with success = false.
func (s *Store) StartRun(ctx context.Context, run *DeliveryRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_runs (id, started_at, trigger, kind, domain, owner, target, stage, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE)
	`, run.ID, run.StartedAt, run.Trigger, run.Kind, run.Domain, run.Owner, run.Target, run.Stage)
	if err != nil {
		return &StorageError{Op: "start run", Err: err}
	}
	return nil
}

// CompleteRun writes the outcome of run.
func (s *Store) CompleteRun(ctx context.Context, run *DeliveryRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE delivery_runs SET
			finished_at = ?,
			stage = ?,
			success = ?,
			error_kind = ?,
			error_message = ?,
			image_bytes = ?
		WHERE id = ?
	`, run.FinishedAt, run.Stage, run.Success, run.ErrorKind, run.ErrorMessage, run.ImageBytes, run.ID)
	if err != nil {
		return &StorageError{Op: "complete run", Err: err}
	}
	return nil
}

// RunHealthSummary aggregates runs per day and trigger.
type RunHealthSummary struct {
	Date        string
	Trigger     string
	TotalRuns   int
	SuccessRuns int
	FailedRuns  int
}

// GetRunHealth returns daily run summaries for the last N days.
func (s *Store) GetRunHealth(ctx context.Context, days int) ([]RunHealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			trigger,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs
		FROM delivery_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, trigger
		ORDER BY date DESC, trigger
	`, days)
	if err != nil {
		return nil, &StorageError{Op: "run health", Err: err}
	}
	defer rows.Close()

	var results []RunHealthSummary
	for rows.Next() {
		var h RunHealthSummary
		if err := rows.Scan(&h.Date, &h.Trigger, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns); err != nil {
			return nil, &StorageError{Op: "run health", Err: err}
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentFailedRuns returns the most recent unsuccessful runs.
func (s *Store) GetRecentFailedRuns(ctx context.Context, limit int) ([]DeliveryRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, trigger, kind, domain, owner, target,
			   stage, success, error_kind, error_message, image_bytes
		FROM delivery_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, &StorageError{Op: "recent failed runs", Err: err}
	}
	defer rows.Close()

	var results []DeliveryRun
	for rows.Next() {
		var r DeliveryRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Trigger, &r.Kind, &r.Domain, &r.Owner,
			&r.Target, &r.Stage, &r.Success, &r.ErrorKind, &r.ErrorMessage, &r.ImageBytes); err != nil {
			return nil, &StorageError{Op: "recent failed runs", Err: err}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
