package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/promo-studio/api-go/internal/model"
)

// SaveScript persists a script for its job and returns the script id.
func (s *SQLite) SaveScript(ctx context.Context, script model.VideoScript) (string, error) {
	if script.JobID == "" {
		return "", fmt.Errorf("script has no job id")
	}
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	if script.CreatedAt.IsZero() {
		script.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(script)
	if err != nil {
		return "", fmt.Errorf("encode script: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO scripts (id, job_id, created_at, body_json) VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET body_json = excluded.body_json`,
		script.ID, script.JobID, script.CreatedAt.UnixMilli(), string(body),
	); err != nil {
		return "", err
	}
	return script.ID, nil
}

func (s *SQLite) GetScript(ctx context.Context, id string) (model.VideoScript, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body_json FROM scripts WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VideoScript{}, model.ErrNotFound
	}
	if err != nil {
		return model.VideoScript{}, err
	}
	var script model.VideoScript
	if err := json.Unmarshal([]byte(body), &script); err != nil {
		return model.VideoScript{}, fmt.Errorf("decode script %s: %w", id, err)
	}
	return script, nil
}

func (s *SQLite) CreateSource(ctx context.Context, src model.Source) (model.Source, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	src.CreatedAt = time.Now().UTC()
	body, err := json.Marshal(src)
	if err != nil {
		return model.Source{}, fmt.Errorf("encode source: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, created_at, body_json) VALUES (?, ?, ?)`,
		src.ID, src.CreatedAt.UnixMilli(), string(body),
	); err != nil {
		return model.Source{}, err
	}
	return src, nil
}

func (s *SQLite) GetSource(ctx context.Context, id string) (model.Source, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body_json FROM sources WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Source{}, model.ErrNotFound
	}
	if err != nil {
		return model.Source{}, err
	}
	var src model.Source
	if err := json.Unmarshal([]byte(body), &src); err != nil {
		return model.Source{}, fmt.Errorf("decode source %s: %w", id, err)
	}
	return src, nil
}
