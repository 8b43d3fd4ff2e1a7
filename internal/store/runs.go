package store

import (
	"context"
	"database/sql"
	"time"
)

// QueuedRun is one scheduled execution of a job's pipeline.
type QueuedRun struct {
	ID    int64
	JobID string
	RunAt time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLite) EnqueueRun(ctx context.Context, jobID string, runAt time.Time) error {
	return enqueueRun(ctx, s.db, jobID, runAt)
}

func enqueueRun(ctx context.Context, e execer, jobID string, runAt time.Time) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO job_runs (job_id, run_at) VALUES (?, ?)`,
		jobID, runAt.UTC().UnixMilli(),
	)
	return err
}

// ClaimDueRuns marks up to limit runs whose time has come as claimed and
// returns them. A run is handed out at most once, and a job with a claimed
// run gets no second one until the first is finished.
func (s *SQLite) ClaimDueRuns(ctx context.Context, now time.Time, limit int) ([]QueuedRun, error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, job_id, run_at FROM job_runs
         WHERE claimed_at IS NULL AND run_at <= ?
           AND job_id NOT IN (SELECT job_id FROM job_runs WHERE claimed_at IS NOT NULL)
         ORDER BY run_at ASC, id ASC`,
		now.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	var runs []QueuedRun
	seen := map[string]bool{}
	for rows.Next() && len(runs) < limit {
		var (
			run   QueuedRun
			runAt int64
		)
		if err := rows.Scan(&run.ID, &run.JobID, &runAt); err != nil {
			rows.Close()
			return nil, err
		}
		if seen[run.JobID] {
			continue
		}
		seen[run.JobID] = true
		run.RunAt = time.UnixMilli(runAt)
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	claimedAt := now.UTC().UnixMilli()
	for _, run := range runs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE job_runs SET claimed_at = ? WHERE id = ?`, claimedAt, run.ID,
		); err != nil {
			return nil, err
		}
	}
	return runs, tx.Commit()
}

// FinishRun removes a run once its pipeline attempt has returned.
func (s *SQLite) FinishRun(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE id = ?`, runID)
	return err
}

// ReleaseClaims returns runs claimed by a process that exited before
// finishing them to the queue, then keeps only the newest run of each job:
// an attempt that scheduled its retry supersedes the run it was started by.
// Called once at startup.
func (s *SQLite) ReleaseClaims(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE job_runs SET claimed_at = NULL WHERE claimed_at IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	released, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM job_runs WHERE id NOT IN (SELECT MAX(id) FROM job_runs GROUP BY job_id)`,
	); err != nil {
		return 0, err
	}
	return released, tx.Commit()
}

// PendingRuns counts unclaimed runs for a job.
func (s *SQLite) PendingRuns(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_runs WHERE job_id = ? AND claimed_at IS NULL`, jobID,
	).Scan(&n)
	return n, err
}
