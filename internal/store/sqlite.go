package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"story-video-pipeline/internal/models"
)

// timeLayout is fixed width so lexical ordering of stored values matches
// chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id       TEXT PRIMARY KEY,
	project_name  TEXT NOT NULL,
	task_type     TEXT NOT NULL,
	media_type    TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	script_file   TEXT NOT NULL DEFAULT '',
	payload_json  TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL,
	result_json   TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT 'webui',
	queued_at     TEXT NOT NULL,
	started_at    TEXT,
	finished_at   TEXT,
	updated_at    TEXT NOT NULL
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
	created_at    TEXT NOT NULL,
	PRIMARY KEY (project_name, resource_type, resource_id, version)
);

CREATE TABLE IF NOT EXISTS api_calls (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	project_name     TEXT NOT NULL,
	call_type        TEXT NOT NULL,
	model            TEXT NOT NULL,
	prompt           TEXT NOT NULL DEFAULT '',
	resolution       TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	aspect_ratio     TEXT NOT NULL DEFAULT '',
	generate_audio   INTEGER NOT NULL DEFAULT 1,
	status           TEXT NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	output_path      TEXT NOT NULL DEFAULT '',
	started_at       TEXT NOT NULL,
	finished_at      TEXT NOT NULL,
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	cost_usd         REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_api_calls_project
	ON api_calls(project_name, started_at);
CREATE INDEX IF NOT EXISTS idx_api_calls_started
	ON api_calls(started_at);
`

// SQLiteStore implements Store on an embedded SQLite database. It is the
// default backing store and needs no external services.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. WAL mode lets the HTTP handlers read while a worker writes.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragma: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateTask(ctx context.Context, p CreateTaskParams) (models.Task, error) {
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

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	if p.Payload == nil {
		payloadJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, project_name, task_type, media_type, resource_id,
			script_file, payload_json, status, source, queued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.ProjectName, task.TaskType, task.MediaType, task.ResourceID,
		task.ScriptFile, string(payloadJSON), task.Status, task.Source,
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.Task{}, fmt.Errorf("active task exists for %s/%s/%s: %w",
				p.ProjectName, p.TaskType, p.ResourceID, ErrConflict)
		}
		return models.Task{}, fmt.Errorf("failed to insert task: %w", err)
	}
	return task, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return models.Task{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to load task: %w", err)
	}
	return task, nil
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, taskID string) (models.Task, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE task_id = ? AND status = ?`,
		models.StatusRunning, now, now, taskID, models.StatusQueued,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to mark task running: %w", err)
	}
	return s.afterTransition(ctx, taskID, res)
}

func (s *SQLiteStore) MarkSucceeded(ctx context.Context, taskID string, result models.TaskResult) (models.Task, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to encode result: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, result_json = ?, error_message = '', finished_at = ?, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		models.StatusSucceeded, string(resultJSON), now, now, taskID, models.StatusRunning,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to mark task succeeded: %w", err)
	}
	return s.afterTransition(ctx, taskID, res)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, taskID string, errorMessage string) (models.Task, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		models.StatusFailed, truncateError(errorMessage), now, now, taskID, models.StatusRunning,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to mark task failed: %w", err)
	}
	return s.afterTransition(ctx, taskID, res)
}

// AbandonQueued fails a task that never reached its lane, freeing the active
// slot so the caller can retry the enqueue.
func (s *SQLiteStore) AbandonQueued(ctx context.Context, taskID string, errorMessage string) (models.Task, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		models.StatusFailed, truncateError(errorMessage), now, now, taskID, models.StatusQueued,
	)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to abandon task: %w", err)
	}
	return s.afterTransition(ctx, taskID, res)
}

// afterTransition turns a zero-row UPDATE into ErrConflict (task exists in a
// different state) or ErrNotFound, and reloads the task on success.
func (s *SQLiteStore) afterTransition(ctx context.Context, taskID string, res sql.Result) (models.Task, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		task, err := s.GetTask(ctx, taskID)
		if err != nil {
			return models.Task{}, err
		}
		return models.Task{}, fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrConflict)
	}
	return s.GetTask(ctx, taskID)
}

func (s *SQLiteStore) RequeueRunning(ctx context.Context) ([]models.Task, error) {
	now := time.Now().UTC().Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id FROM tasks WHERE status = ?`, models.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate running tasks: %w", err)
	}

	var requeued []models.Task
	for _, id := range ids {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, started_at = NULL, finished_at = NULL,
				result_json = NULL, error_message = '', updated_at = ?
			WHERE task_id = ? AND status = ?`,
			models.StatusQueued, now, id, models.StatusRunning,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to requeue task %s: %w", id, err)
		}
		task, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		requeued = append(requeued, task)
	}
	return requeued, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, int, error) {
	normalizePage(&f)
	where, args := taskFilterClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + where +
		` ORDER BY updated_at DESC, queued_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *SQLiteStore) TaskStats(ctx context.Context, projectName string) (models.TaskStats, error) {
	query := `SELECT status, COUNT(*) FROM tasks`
	var args []any
	if projectName != "" {
		query += ` WHERE project_name = ?`
		args = append(args, projectName)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return models.TaskStats{}, fmt.Errorf("failed to load task stats: %w", err)
	}
	defer rows.Close()
	return scanStats(rows)
}

func (s *SQLiteStore) RecentTasks(ctx context.Context, projectName string, limit int) ([]models.Task, error) {
	if limit < 1 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if projectName != "" {
		query += ` WHERE project_name = ?`
		args = append(args, projectName)
	}
	query += ` ORDER BY updated_at DESC, queued_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) RecordCall(ctx context.Context, rec models.UsageRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO api_calls (
			project_name, call_type, model, prompt, resolution, duration_seconds,
			aspect_ratio, generate_audio, status, error_message, output_path,
			started_at, finished_at, duration_ms, cost_usd
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ProjectName, rec.CallType, rec.Model, rec.Prompt, rec.Resolution,
		rec.DurationSeconds, rec.AspectRatio, rec.GenerateAudio, rec.Status,
		rec.ErrorMessage, rec.OutputPath,
		rec.StartedAt.UTC().Format(timeLayout), rec.FinishedAt.UTC().Format(timeLayout),
		rec.DurationMS, rec.CostUSD,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read call id: %w", err)
	}
	return id, nil
}

const usageColumns = `id, project_name, call_type, model, prompt, resolution,
	duration_seconds, aspect_ratio, generate_audio, status, error_message,
	output_path, started_at, finished_at, duration_ms, cost_usd`

func (s *SQLiteStore) ListCalls(ctx context.Context, f UsageFilter) ([]models.UsageRecord, int, error) {
	normalizeUsagePage(&f)
	where, args := usageFilterClause(f)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_calls`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count calls: %w", err)
	}

	query := `SELECT ` + usageColumns + ` FROM api_calls` + where +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	records := []models.UsageRecord{}
	for rows.Next() {
		var rec models.UsageRecord
		var startedAt, finishedAt string
		if err := rows.Scan(&rec.ID, &rec.ProjectName, &rec.CallType, &rec.Model,
			&rec.Prompt, &rec.Resolution, &rec.DurationSeconds, &rec.AspectRatio,
			&rec.GenerateAudio, &rec.Status, &rec.ErrorMessage, &rec.OutputPath,
			&startedAt, &finishedAt, &rec.DurationMS, &rec.CostUSD); err != nil {
			return nil, 0, fmt.Errorf("failed to scan call: %w", err)
		}
		if rec.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate calls: %w", err)
	}
	return records, total, nil
}

func (s *SQLiteStore) UsageStats(ctx context.Context, f UsageFilter) (models.UsageStats, error) {
	where, args := usageFilterClause(f)
	query := `
		SELECT COALESCE(SUM(cost_usd), 0),
			COALESCE(SUM(CASE WHEN call_type = 'image' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN call_type = 'video' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM api_calls` + where

	var stats models.UsageStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalCost, &stats.ImageCount, &stats.VideoCount,
		&stats.FailedCount, &stats.TotalCount); err != nil {
		return models.UsageStats{}, fmt.Errorf("failed to load usage stats: %w", err)
	}
	return stats, nil
}

func usageFilterClause(f UsageFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		conds = append(conds, col+" = ?")
		args = append(args, val)
	}
	add("project_name", f.ProjectName)
	add("call_type", f.CallType)
	add("status", f.Status)
	if !f.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, f.Until.UTC().Format(timeLayout))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) ListVersions(ctx context.Context, projectName, resourceType, resourceID string) (models.VersionHistory, error) {
	mustResourceType(resourceType)

	history := models.VersionHistory{Versions: []models.Version{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT current_version FROM resources
		WHERE project_name = ? AND resource_type = ? AND resource_id = ?`,
		projectName, resourceType, resourceID,
	).Scan(&history.CurrentVersion)
	if err == sql.ErrNoRows {
		return history, nil
	}
	if err != nil {
		return models.VersionHistory{}, fmt.Errorf("failed to load resource: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, file, prompt, created_at FROM versions
		WHERE project_name = ? AND resource_type = ? AND resource_id = ?
		ORDER BY version ASC`,
		projectName, resourceType, resourceID,
	)
	if err != nil {
		return models.VersionHistory{}, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.Version
		var createdAt string
		if err := rows.Scan(&v.Version, &v.File, &v.Prompt, &createdAt); err != nil {
			return models.VersionHistory{}, fmt.Errorf("failed to scan version: %w", err)
		}
		v.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return models.VersionHistory{}, fmt.Errorf("failed to parse version time: %w", err)
		}
		v.IsCurrent = v.Version == history.CurrentVersion
		history.Versions = append(history.Versions, v)
	}
	if err := rows.Err(); err != nil {
		return models.VersionHistory{}, fmt.Errorf("failed to iterate versions: %w", err)
	}
	return history, nil
}

func (s *SQLiteStore) CreateVersion(ctx context.Context, projectName, resourceType, resourceID, file, prompt string) (models.Version, error) {
	mustResourceType(resourceType)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO resources (project_name, resource_type, resource_id, last_version, current_version)
		VALUES (?, ?, ?, 1, 1)
		ON CONFLICT (project_name, resource_type, resource_id) DO UPDATE
		SET last_version = last_version + 1, current_version = last_version + 1
		RETURNING last_version`,
		projectName, resourceType, resourceID,
	).Scan(&version)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to advance version counter: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO versions (project_name, resource_type, resource_id, version, file, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		projectName, resourceType, resourceID, version, file, prompt, now.Format(timeLayout),
	)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to insert version: %w", err)
	}
	if err := tx.Commit(); err != nil {
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

func (s *SQLiteStore) RestoreVersion(ctx context.Context, projectName, resourceType, resourceID string, version int) (models.Version, error) {
	mustResourceType(resourceType)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	v := models.Version{Version: version, IsCurrent: true}
	var createdAt string
	err = tx.QueryRowContext(ctx, `
		SELECT file, prompt, created_at FROM versions
		WHERE project_name = ? AND resource_type = ? AND resource_id = ? AND version = ?`,
		projectName, resourceType, resourceID, version,
	).Scan(&v.File, &v.Prompt, &createdAt)
	if err == sql.ErrNoRows {
		return models.Version{}, fmt.Errorf("version %d of %s/%s: %w",
			version, resourceType, resourceID, ErrNotFound)
	}
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to load version: %w", err)
	}
	v.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to parse version time: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE resources SET current_version = ?
		WHERE project_name = ? AND resource_type = ? AND resource_id = ?`,
		version, projectName, resourceType, resourceID,
	)
	if err != nil {
		return models.Version{}, fmt.Errorf("failed to move current pointer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Version{}, fmt.Errorf("failed to commit restore: %w", err)
	}
	return v, nil
}

const taskColumns = `task_id, project_name, task_type, media_type, resource_id,
	script_file, payload_json, status, result_json, error_message, source,
	queued_at, started_at, finished_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		task              models.Task
		payloadJSON       string
		resultJSON        sql.NullString
		queuedAt, updated string
		startedAt, doneAt sql.NullString
	)
	err := row.Scan(&task.TaskID, &task.ProjectName, &task.TaskType, &task.MediaType,
		&task.ResourceID, &task.ScriptFile, &payloadJSON, &task.Status, &resultJSON,
		&task.ErrorMessage, &task.Source, &queuedAt, &startedAt, &doneAt, &updated)
	if err != nil {
		return models.Task{}, err
	}

	if err := json.Unmarshal([]byte(payloadJSON), &task.Payload); err != nil {
		return models.Task{}, fmt.Errorf("failed to decode payload: %w", err)
	}
	if resultJSON.Valid {
		task.Result = &models.TaskResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), task.Result); err != nil {
			return models.Task{}, fmt.Errorf("failed to decode result: %w", err)
		}
	}

	if task.QueuedAt, err = time.Parse(timeLayout, queuedAt); err != nil {
		return models.Task{}, fmt.Errorf("failed to parse queued_at: %w", err)
	}
	if task.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return models.Task{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if startedAt.Valid {
		t, err := time.Parse(timeLayout, startedAt.String)
		if err != nil {
			return models.Task{}, fmt.Errorf("failed to parse started_at: %w", err)
		}
		task.StartedAt = &t
	}
	if doneAt.Valid {
		t, err := time.Parse(timeLayout, doneAt.String)
		if err != nil {
			return models.Task{}, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		task.FinishedAt = &t
	}
	return task, nil
}

func scanTasks(rows *sql.Rows) ([]models.Task, error) {
	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
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

func scanStats(rows *sql.Rows) (models.TaskStats, error) {
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

func taskFilterClause(f TaskFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col string, val string) {
		if val == "" {
			return
		}
		conds = append(conds, col+" = ?")
		args = append(args, val)
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
