package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"story-video-pipeline/internal/models"
)

var (
	// ErrNotFound reports a missing task, resource, or version.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports an active task already holding the resource, or a
	// task not in the state a transition requires.
	ErrConflict = errors.New("conflict")
)

// CreateTaskParams collects inputs required to insert a task.
type CreateTaskParams struct {
	ProjectName string
	TaskType    string
	MediaType   string
	ResourceID  string
	ScriptFile  string
	Payload     map[string]any
	Source      string
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	ProjectName string
	Status      string
	TaskType    string
	Source      string
	Page        int
	PageSize    int
}

// UsageFilter narrows usage ledger queries. Zero-value fields match all.
type UsageFilter struct {
	ProjectName string
	CallType    string
	Status      string
	Since       time.Time
	Until       time.Time
	Page        int
	PageSize    int
}

// Store is the durable task registry plus the resource version store.
//
// Task transitions only move forward: queued -> running -> succeeded|failed.
// Mark methods refuse to touch a task outside the expected source state, which
// is what keeps terminal tasks immutable. Version methods treat an unknown
// resource type as a programming error and panic; unknown ids and versions are
// recoverable ErrNotFound.
type Store interface {
	CreateTask(ctx context.Context, p CreateTaskParams) (models.Task, error)
	GetTask(ctx context.Context, taskID string) (models.Task, error)
	MarkRunning(ctx context.Context, taskID string) (models.Task, error)
	MarkSucceeded(ctx context.Context, taskID string, result models.TaskResult) (models.Task, error)
	MarkFailed(ctx context.Context, taskID string, errorMessage string) (models.Task, error)
	AbandonQueued(ctx context.Context, taskID string, errorMessage string) (models.Task, error)
	RequeueRunning(ctx context.Context) ([]models.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, int, error)
	TaskStats(ctx context.Context, projectName string) (models.TaskStats, error)
	RecentTasks(ctx context.Context, projectName string, limit int) ([]models.Task, error)

	RecordCall(ctx context.Context, rec models.UsageRecord) (int64, error)
	ListCalls(ctx context.Context, f UsageFilter) ([]models.UsageRecord, int, error)
	UsageStats(ctx context.Context, f UsageFilter) (models.UsageStats, error)

	ListVersions(ctx context.Context, projectName, resourceType, resourceID string) (models.VersionHistory, error)
	CreateVersion(ctx context.Context, projectName, resourceType, resourceID, file, prompt string) (models.Version, error)
	RestoreVersion(ctx context.Context, projectName, resourceType, resourceID string, version int) (models.Version, error)

	Close() error
}

const maxErrorMessageLen = 2000

func truncateError(msg string) string {
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}

func mustResourceType(resourceType string) {
	if !models.KnownResourceType(resourceType) {
		panic(fmt.Sprintf("store: unsupported resource type %q", resourceType))
	}
}

func normalizePage(f *TaskFilter) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 50
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
}

func normalizeUsagePage(f *UsageFilter) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 50
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
}
