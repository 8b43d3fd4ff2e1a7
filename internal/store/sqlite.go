package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/example/promo-studio/api-go/internal/model"
)

type SQLite struct {
	db *sql.DB
}

var migrations = []string{`
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  completed_at INTEGER,
  status TEXT NOT NULL,
  progress INTEGER NOT NULL DEFAULT 0,
  prompt TEXT NOT NULL,
  style TEXT NOT NULL DEFAULT '',
  source_id TEXT NOT NULL DEFAULT '',
  target_duration INTEGER NOT NULL,
  aspect_ratio TEXT NOT NULL,
  voice_id TEXT NOT NULL DEFAULT '',
  retry_count INTEGER NOT NULL DEFAULT 0,
  permanent INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  script_id TEXT,
  generated_code TEXT,
  used_fallback INTEGER NOT NULL DEFAULT 0,
  video_handle TEXT,
  thumbnail_handle TEXT,
  subtitle_text TEXT,
  caption_text TEXT,
  parent_job_id TEXT NOT NULL DEFAULT '',
  root_job_id TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  iteration_feedback TEXT NOT NULL DEFAULT ''
);`, `
CREATE INDEX IF NOT EXISTS jobs_root_idx ON jobs (root_job_id, version);`, `
CREATE TABLE IF NOT EXISTS scripts (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  body_json TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS sources (
  id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL,
  body_json TEXT NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS job_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id TEXT NOT NULL,
  run_at INTEGER NOT NULL,
  claimed_at INTEGER
);`, `
CREATE INDEX IF NOT EXISTS job_runs_due_idx ON job_runs (claimed_at, run_at);`,
}

func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; every job run shares this handle.
	db.SetMaxOpenConns(1)
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const jobColumns = `id, created_at, updated_at, completed_at, status, progress, prompt, style, source_id,
  target_duration, aspect_ratio, voice_id, retry_count, permanent, last_error, script_id, generated_code, used_fallback,
  video_handle, thumbnail_handle, subtitle_text, caption_text, parent_job_id, root_job_id, version, iteration_feedback`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanJob(row rowScanner) (model.VideoJob, error) {
	var (
		job                  model.VideoJob
		status, aspect       string
		createdMs, updatedMs int64
		completedMs          sql.NullInt64
		usedFallback         int
		permanent            int
		lastError, scriptID  sql.NullString
		code, video, thumb   sql.NullString
		subtitles, caption   sql.NullString
	)
	if err := row.Scan(
		&job.ID, &createdMs, &updatedMs, &completedMs, &status, &job.Progress, &job.Prompt, &job.Style, &job.SourceID,
		&job.TargetDuration, &aspect, &job.VoiceID, &job.RetryCount, &permanent, &lastError, &scriptID, &code, &usedFallback,
		&video, &thumb, &subtitles, &caption, &job.ParentJobID, &job.RootJobID, &job.Version, &job.IterationFeedback,
	); err != nil {
		return model.VideoJob{}, err
	}
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)
	if completedMs.Valid {
		at := time.UnixMilli(completedMs.Int64)
		job.CompletedAt = &at
	}
	job.Status = model.JobStatus(status)
	job.AspectRatio = model.AspectRatio(aspect)
	job.UsedFallback = usedFallback != 0
	job.Permanent = permanent != 0
	job.LastError = lastError.String
	job.ScriptID = scriptID.String
	job.GeneratedCode = code.String
	job.VideoHandle = video.String
	job.ThumbnailHandle = thumb.String
	job.SubtitleText = subtitles.String
	job.CaptionText = caption.String
	return job, nil
}

// CreateJob stores a pending job. Revisions must point at a parent that has
// completed at least once; they join the parent's version chain.
func (s *SQLite) CreateJob(ctx context.Context, in model.JobInputs) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.NewString()
	rootID := id
	version := 1
	if in.ParentJobID != "" {
		parent, err := getJob(ctx, tx, in.ParentJobID)
		if errors.Is(err, model.ErrNotFound) {
			return "", &model.ContextError{Field: "parentJobId", Reason: "parent job does not exist"}
		}
		if err != nil {
			return "", err
		}
		if parent.CompletedAt == nil || parent.GeneratedCode == "" {
			return "", &model.ContextError{Field: "parentJobId", Reason: "parent job has never completed"}
		}
		rootID = parent.RootJobID
		var latest int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM jobs WHERE root_job_id = ?`, rootID,
		).Scan(&latest); err != nil {
			return "", err
		}
		version = latest + 1
	}

	now := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, created_at, updated_at, status, progress, prompt, style, source_id,
           target_duration, aspect_ratio, voice_id, parent_job_id, root_job_id, version, iteration_feedback)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, now, now, string(model.StatusPending), in.Prompt, in.Style, in.SourceID,
		in.TargetDuration, string(in.AspectRatio), in.VoiceID, in.ParentJobID, rootID, version, in.IterationFeedback,
	); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (model.VideoJob, error) {
	return getJob(ctx, s.db, id)
}

func getJob(ctx context.Context, q queryer, id string) (model.VideoJob, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VideoJob{}, model.ErrNotFound
	}
	return job, err
}

func (s *SQLite) ListJobs(ctx context.Context, status *model.JobStatus, limit int) ([]model.VideoJob, error) {
	if limit <= 0 {
		limit = 25
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)
	return s.queryJobs(ctx, query, args...)
}

// ListVersions returns every job in a revision chain, oldest first.
func (s *SQLite) ListVersions(ctx context.Context, rootID string) ([]model.VideoJob, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE root_job_id = ? ORDER BY version ASC`, rootID)
}

// ListInFlight returns jobs whose last attempt stopped mid-pipeline.
func (s *SQLite) ListInFlight(ctx context.Context) ([]model.VideoJob, error) {
	placeholders := make([]string, 0, len(model.Pipeline))
	args := make([]any, 0, len(model.Pipeline))
	for _, status := range model.Pipeline {
		placeholders = append(placeholders, "?")
		args = append(args, string(status))
	}
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (`+strings.Join(placeholders, ",")+`) ORDER BY created_at ASC`,
		args...)
}

func (s *SQLite) queryJobs(ctx context.Context, query string, args ...any) ([]model.VideoJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VideoJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateStatus moves a job to status/progress. Re-sending the current
// status and progress is a no-op; anything else must pass the transition
// table.
func (s *SQLite) UpdateStatus(ctx context.Context, id string, status model.JobStatus, progress int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	job, err := getJob(ctx, tx, id)
	if err != nil {
		return err
	}
	if job.Status == status && job.Progress == progress {
		return nil
	}
	if err := model.CheckTransition(job, status, progress); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, updated_at = ? WHERE id = ?`,
		string(status), progress, time.Now().UTC().UnixMilli(), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendError records the failure of attempt (the retry count observed when
// the attempt started) and returns the resulting retry count. A duplicate
// call for the same attempt does not count twice.
func (s *SQLite) AppendError(ctx context.Context, id string, attempt int, message string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET retry_count = retry_count + 1, last_error = ?, updated_at = ?
         WHERE id = ? AND retry_count = ?`,
		message, time.Now().UTC().UnixMilli(), id, attempt,
	); err != nil {
		return 0, err
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT retry_count FROM jobs WHERE id = ?`, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, model.ErrNotFound
		}
		return 0, err
	}
	return count, tx.Commit()
}

// RecordFailure stores a failed attempt in one transaction: the error and
// retry count (counted once per attempt, as AppendError does), the move to
// failed, the permanent marker and, while retries remain, the next run. A
// failure is never committed without the retry it is owed.
func (s *SQLite) RecordFailure(ctx context.Context, id string, f model.Failure) (model.FailureOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.FailureOutcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	job, err := getJob(ctx, tx, id)
	if err != nil {
		return model.FailureOutcome{}, err
	}
	fresh := job.RetryCount == f.Attempt
	if fresh {
		job.RetryCount++
		job.Permanent = job.Permanent || f.Permanent
	}
	if job.Status != model.StatusFailed {
		if err := model.CheckTransition(job, model.StatusFailed, job.Progress); err != nil {
			return model.FailureOutcome{}, err
		}
	}
	now := time.Now().UTC().UnixMilli()
	if fresh {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, retry_count = ?, permanent = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			string(model.StatusFailed), job.RetryCount, boolInt(job.Permanent), f.Message, now, id,
		); err != nil {
			return model.FailureOutcome{}, err
		}
	} else if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusFailed), now, id,
	); err != nil {
		return model.FailureOutcome{}, err
	}

	out := model.FailureOutcome{RetryCount: job.RetryCount, Permanent: job.Permanent}
	job.Status = model.StatusFailed
	if fresh && !f.RetryAt.IsZero() && job.Retryable(f.MaxRetries) {
		if err := enqueueRun(ctx, tx, id, f.RetryAt); err != nil {
			return model.FailureOutcome{}, err
		}
		out.RetryScheduled = true
	}
	return out, tx.Commit()
}

// ListRetryable returns failed jobs that still have retries left.
func (s *SQLite) ListRetryable(ctx context.Context, maxRetries int) ([]model.VideoJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND permanent = 0 AND retry_count < ? ORDER BY updated_at ASC`,
		string(model.StatusFailed), maxRetries)
}

// SetResult writes one artifact column.
func (s *SQLite) SetResult(ctx context.Context, id string, field model.ResultField, value string) error {
	if !field.Valid() {
		return fmt.Errorf("unknown result field %q", field)
	}
	var arg any = value
	if field == model.FieldUsedFallback {
		arg = boolInt(value == "true")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+string(field)+` = ?, updated_at = ? WHERE id = ?`,
		arg, time.Now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkCompleted finishes a job and stamps completed_at the first time.
func (s *SQLite) MarkCompleted(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	job, err := getJob(ctx, tx, id)
	if err != nil {
		return err
	}
	if job.Status == model.StatusCompleted {
		return nil
	}
	if err := model.CheckTransition(job, model.StatusCompleted, model.StatusCompleted.Progress()); err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, updated_at = ?, completed_at = COALESCE(completed_at, ?)
         WHERE id = ?`,
		string(model.StatusCompleted), model.StatusCompleted.Progress(), now, now, id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
