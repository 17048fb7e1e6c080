package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"story-video-pipeline/internal/models"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id       TEXT PRIMARY KEY,
	project_name  TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	media_type    TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	script_file   TEXT NOT NULL DEFAULT '',
	payload       JSONB NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	result        JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT 'webui',
	queued_at     TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_queued
	ON tasks(status, queued_at);
CREATE INDEX IF NOT EXISTS idx_tasks_project_updated
	ON tasks(project_name, updated_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_active_resource
	ON tasks(project_name, task_type, resource_id)
	WHERE status IN ('queued', 'running');

CREATE TABLE IF NOT EXISTS resources (
	project_name    TEXT NOT NULL,
	resource_type   TEXT NOT NULL,
	resource_id     TEXT NOT NULL,
	last_version    INTEGER NOT NULL DEFAULT 0,
	current_version INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_name, resource_type, resource_id)
);

CREATE TABLE IF NOT EXISTS versions (
	project_name  TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	version       INTEGER NOT NULL,
	file          TEXT NOT NULL,
	prompt        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (project_name, resource_type, resource_id, version)
);

CREATE TABLE IF NOT EXISTS api_calls (
	id               BIGSERIAL PRIMARY KEY,
	project_name     TEXT NOT NULL,
	call_type        TEXT NOT NULL,
	model            TEXT NOT NULL,
	prompt           TEXT NOT NULL DEFAULT '',
	resolution       TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	aspect_ratio     TEXT NOT NULL DEFAULT '',
	generate_audio   BOOLEAN NOT NULL DEFAULT TRUE,
	status           TEXT NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	output_path      TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL,
	duration_ms      BIGINT NOT NULL DEFAULT 0,
	cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_api_calls_project
	ON api_calls(project_name, started_at);
CREATE INDEX IF NOT EXISTS idx_api_calls_started
	ON api_calls(started_at);
`

// PostgresStore implements Store on a pgx connection pool, for deployments
// where several server replicas share one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a pooled connection and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, p CreateTaskParams) (models.Task, error) {
	now := time.Now().UTC()
	task := models.Task{
		TaskID:      uuid.NewString(),
		ProjectName: p.ProjectName,
		TaskType:    p.TaskType,
		MediaType:   p.MediaType,
		ResourceID:  p.ResourceID,
		ScriptFile:  p.ScriptFile,
		Payload:     p.Payload,
		Status:      models.StatusQueued,
		Source:      p.Source,
		QueuedAt:    now,
		UpdatedAt:   now,
	}
	if task.Source == "" {
		task.Source = "webui"
	}

	payloadJSON := []byte("{}")
	if p.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(p.Payload)
		if err != nil {
			return models.Task{}, fmt.Errorf("failed to encode payload: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, project_name, task_type, media_type, resource_id,
			script_file, payload, status, source, queued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		task.TaskID, task.ProjectName, task.TaskType, task.MediaType, task.ResourceID,
		task.ScriptFile, payloadJSON, task.Status, task.Source, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Task{}, fmt.Errorf("active task exists for %s/%s/%s: %w",
				p.ProjectName, p.TaskType, p.ResourceID, ErrConflict)
		}
		return models.Task{}, fmt.Errorf("failed to insert task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	task, err := scanPGTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to load task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, taskID string) (models.Task, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE task_id = $2 AND status = $3`,
		models.StatusRunning, taskID, models.StatusQueued,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to mark task running: %w", err)
	}
	return s.afterTransition(ctx, taskID, tag)
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, taskID string, result models.TaskResult) (models.Task, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to encode result: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, result = $2, error_message = '', finished_at = NOW(), updated_at = NOW()
		WHERE task_id = $3 AND status = $4`,
		models.StatusSucceeded, resultJSON, taskID, models.StatusRunning,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to mark task succeeded: %w", err)
	}
	return s.afterTransition(ctx, taskID, tag)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, taskID string, errorMessage string) (models.Task, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, error_message = $2, finished_at = NOW(), updated_at = NOW()
		WHERE task_id = $3 AND status = $4`,
		models.StatusFailed, truncateError(errorMessage), taskID, models.StatusRunning,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to mark task failed: %w", err)
	}
	return s.afterTransition(ctx, taskID, tag)
}

func (s *PostgresStore) AbandonQueued(ctx context.Context, taskID string, errorMessage string) (models.Task, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET status = $1, error_message = $2, finished_at = NOW(), updated_at = NOW()
		WHERE task_id = $3 AND status = $4`,
		models.StatusFailed, truncateError(errorMessage), taskID, models.StatusQueued,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to abandon task: %w", err)
	}
	return s.afterTransition(ctx, taskID, tag)
}

func (s *PostgresStore) afterTransition(ctx context.Context, taskID string, tag pgconn.CommandTag) (models.Task, error) {
	if tag.RowsAffected() == 0 {
		task, err := s.GetTask(ctx, taskID)
		if err != nil {
			return models.Task{}, err
		}
		return models.Task{}, fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrConflict)
	}
	return s.GetTask(ctx, taskID)
}

func (s *PostgresStore) RequeueRunning(ctx context.Context) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE tasks
		SET status = $1, started_at = NULL, finished_at = NULL,
			result = NULL, error_message = '', updated_at = NOW()
		WHERE status = $2
		RETURNING `+pgTaskColumns,
		models.StatusQueued, models.StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue running tasks: %w", err)
	}
	defer rows.Close()
	return scanPGTasks(rows)
}

func (s *PostgresStore) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, int, error) {
	normalizePage(&f)
	where, args := pgTaskFilterClause(f)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY updated_at DESC, queued_at DESC LIMIT $%d OFFSET $%d`,
		pgTaskColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := scanPGTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *PostgresStore) TaskStats(ctx context.Context, projectName string) (models.TaskStats, error) {
	query := `SELECT status, COUNT(*) FROM tasks`
	var args []any
	if projectName != "" {
		query += ` WHERE project_name = $1`
		args = append(args, projectName)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return models.TaskStats{}, fmt.Errorf("failed to load task stats: %w", err)
	}
	defer rows.Close()

	var stats models.TaskStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.TaskStats{}, fmt.Errorf("failed to scan stats row: %w", err)
		}
		switch status {
		case models.StatusQueued:
			stats.Queued = count
		case models.StatusRunning:
			stats.Running = count
		case models.StatusSucceeded:
			stats.Succeeded = count
		case models.StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return models.TaskStats{}, fmt.Errorf("failed to iterate stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) RecentTasks(ctx context.Context, projectName string, limit int) ([]models.Task, error) {
	if limit < 1 {
		limit = 100
	}
	query := `SELECT ` + pgTaskColumns + ` FROM tasks`
	var args []any
	if projectName != "" {
		query += ` WHERE project_name = $1`
		args = append(args, projectName)
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC, queued_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	defer rows.Close()
	return scanPGTasks(rows)
}

func (s *PostgresStore) RecordCall(ctx context.Context, rec models.UsageRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO api_calls (
			project_name, call_type, model, prompt, resolution, duration_seconds,
			aspect_ratio, generate_audio, status, error_message, output_path,
			started_at, finished_at, duration_ms, cost_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		rec.ProjectName, rec.CallType, rec.Model, rec.Prompt, rec.Resolution,
		rec.DurationSeconds, rec.AspectRatio, rec.GenerateAudio, rec.Status,
		rec.ErrorMessage, rec.OutputPath, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		rec.DurationMS, rec.CostUSD,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record call: %w", err)
	}
	return id, nil
}

const pgUsageColumns = `id, project_name, call_type, model, prompt, resolution,
	duration_seconds, aspect_ratio, generate_audio, status, error_message,
	output_path, started_at, finished_at, duration_ms, cost_usd`

func (s *PostgresStore) ListCalls(ctx context.Context, f UsageFilter) ([]models.UsageRecord, int, error) {
	normalizeUsagePage(&f)
	where, args := pgUsageFilterClause(f)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_calls`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count calls: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM api_calls%s ORDER BY started_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		pgUsageColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	records := []models.UsageRecord{}
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.ProjectName, &rec.CallType, &rec.Model,
			&rec.Prompt, &rec.Resolution, &rec.DurationSeconds, &rec.AspectRatio,
			&rec.GenerateAudio, &rec.Status, &rec.ErrorMessage, &rec.OutputPath,
			&rec.StartedAt, &rec.FinishedAt, &rec.DurationMS, &rec.CostUSD); err != nil {
			return nil, 0, fmt.Errorf("failed to scan call: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate calls: %w", err)
	}
	return records, total, nil
}

func (s *PostgresStore) UsageStats(ctx context.Context, f UsageFilter) (models.UsageStats, error) {
	where, args := pgUsageFilterClause(f)
	query := `
		SELECT COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(CASE WHEN call_type = 'image' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN call_type = 'video' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM api_calls` + where

	var stats models.UsageStats
	if err := s.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalCost, &stats.ImageCount, &stats.VideoCount,
		&stats.FailedCount, &stats.TotalCount); err != nil {
		return models.UsageStats{}, fmt.Errorf("failed to load usage stats: %w", err)
	}
	return stats, nil
}

func pgUsageFilterClause(f UsageFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("project_name", f.ProjectName)
	add("call_type", f.CallType)
	add("status", f.Status)
	if !f.Since.IsZero() {
		args = append(args, f.Since.UTC())
		conds = append(conds, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until.UTC())
		conds = append(conds, fmt.Sprintf("started_at < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) ListVersions(ctx context.Context, projectName, resourceType, resourceID string) (models.VersionHistory, error) {
	mustResourceType(resourceType)

	history := models.VersionHistory{Versions: []models.Version{}}
	err := s.pool.QueryRow(ctx, `
		SELECT current_version FROM resources
		WHERE project_name = $1 AND resource_type = $2 AND resource_id = $3`,
		projectName, resourceType, resourceID,
	).Scan(&history.CurrentVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return history, nil
	}
	if err != nil {
		return models.VersionHistory{}, fmt.Errorf("failed to load resource: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT version, file, prompt, created_at FROM versions
		WHERE project_name = $1 AND resource_type = $2 AND resource_id = $3
		ORDER BY version ASC`,
		projectName, resourceType, resourceID,
	)
	if err != nil {
		return models.VersionHistory{}, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.Version
		if err := rows.Scan(&v.Version, &v.File, &v.Prompt, &v.CreatedAt); err != nil {
			return models.VersionHistory{}, fmt.Errorf("failed to scan version: %w", err)
		}
		v.IsCurrent = v.Version == history.CurrentVersion
		history.Versions = append(history.Versions, v)
	}
	if err := rows.Err(); err != nil {
		return models.VersionHistory{}, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return history, nil
}

func (s *PostgresStore) CreateVersion(ctx context.Context, projectName, resourceType, resourceID, file, prompt string) (models.Version, error) {
	mustResourceType(resourceType)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx, `
		INSERT INTO resources (project_name, resource_type, resource_id, last_version, current_version)
		VALUES ($1, $2, $3, 1, 1)
		ON CONFLICT (project_name, resource_type, resource_id) DO UPDATE
		SET last_version = resources.last_version + 1,
			current_version = resources.last_version + 1
		RETURNING last_version`,
		projectName, resourceType, resourceID,
	).Scan(&version)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to advance version counter: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO versions (project_name, resource_type, resource_id, version, file, prompt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		projectName, resourceType, resourceID, version, file, prompt, now,
	)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to insert version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Version{}, fmt.Errorf("failed to commit version: %w", err)
	}

	return models.Version{
		Version:   version,
		File:      file,
		Prompt:    prompt,
		CreatedAt: now,
		IsCurrent: true,
	}, nil
}

func (s *PostgresStore) RestoreVersion(ctx context.Context, projectName, resourceType, resourceID string, version int) (models.Version, error) {
	mustResourceType(resourceType)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	v := models.Version{Version: version, IsCurrent: true}
	err = tx.QueryRow(ctx, `
		SELECT file, prompt, created_at FROM versions
		WHERE project_name = $1 AND resource_type = $2 AND resource_id = $3 AND version = $4`,
		projectName, resourceType, resourceID, version,
	).Scan(&v.File, &v.Prompt, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Version{}, fmt.Errorf("version %d of %s/%s: %w",
			version, resourceType, resourceID, ErrNotFound)
	}
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to load version: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE resources SET current_version = $1
		WHERE project_name = $2 AND resource_type = $3 AND resource_id = $4`,
		version, projectName, resourceType, resourceID,
	)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to move current pointer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Version{}, fmt.Errorf("failed to commit restore: %w", err)
	}
	return v, nil
}

const pgTaskColumns = `task_id, project_name, task_type, media_type, resource_id,
	script_file, payload, status, result, error_message, source,
	queued_at, started_at, finished_at, updated_at`

func scanPGTask(row pgx.Row) (models.Task, error) {
	var (
		task        models.Task
		payloadJSON []byte
		resultJSON  []byte
		startedAt   pgtype.Timestamptz
		finishedAt  pgtype.Timestamptz
	)
	err := row.Scan(&task.TaskID, &task.ProjectName, &task.TaskType, &task.MediaType,
		&task.ResourceID, &task.ScriptFile, &payloadJSON, &task.Status, &resultJSON,
		&task.ErrorMessage, &task.Source, &task.QueuedAt, &startedAt, &finishedAt,
		&task.UpdatedAt)
	if err != nil {
		return models.Task{}, err
	}

	if err := json.Unmarshal(payloadJSON, &task.Payload); err != nil {
		return models.Task{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	if resultJSON != nil {
		task.Result = &models.TaskResult{}
		if err := json.Unmarshal(resultJSON, task.Result); err != nil {
			return models.Task{}, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		task.FinishedAt = &t
	}
	return task, nil
}

func scanPGTasks(rows pgx.Rows) ([]models.Task, error) {
	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanPGTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func pgTaskFilterClause(f TaskFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("project_name", f.ProjectName)
	add("status", f.Status)
	add("task_type", f.TaskType)
	add("source", f.Source)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
