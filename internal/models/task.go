package models

import (
	"time"
)

// TaskStatus enumerates lifecycle states persisted in the task registry.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Task types accepted by the generation API.
const (
	TaskStoryboard     = "storyboard"
	TaskVideo          = "video"
	TaskCharacter      = "character"
	TaskClue           = "clue"
	TaskStoryboardGrid = "storyboard_grid"
)

// Media lanes. Each lane has its own worker pool and rate-limit window.
const (
	LaneImage = "image"
	LaneVideo = "video"
)

// IsTerminal reports whether a task status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// KnownTaskType reports whether taskType is one of the accepted generation kinds.
func KnownTaskType(taskType string) bool {
	switch taskType {
	case TaskStoryboard, TaskVideo, TaskCharacter, TaskClue, TaskStoryboardGrid:
		return true
	}
	return false
}

// LaneFor maps a task type to its execution lane. Video generation is the only
// video-lane type; everything else produces still images.
func LaneFor(taskType string) string {
	if taskType == TaskVideo {
		return LaneVideo
	}
	return LaneImage
}

// TaskResult is recorded on a task when generation succeeds.
type TaskResult struct {
	FilePath     string    `json:"file_path"`
	Version      int       `json:"version,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	VideoURI     string    `json:"video_uri,omitempty"`
	BatchID      int       `json:"batch_id,omitempty"`
	SceneIDs     []string  `json:"scene_ids,omitempty"`
}

// Task represents one asynchronous generation job.
type Task struct {
	TaskID       string         `json:"task_id"`
	ProjectName  string         `json:"project_name"`
	TaskType     string         `json:"task_type"`
	MediaType    string         `json:"media_type"`
	ResourceID   string         `json:"resource_id"`
	ScriptFile   string         `json:"script_file,omitempty"`
	Payload      map[string]any `json:"payload"`
	Status       string         `json:"status"`
	Result       *TaskResult    `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Source       string         `json:"source"`
	QueuedAt     time.Time      `json:"queued_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TaskStats is always recomputed from the registry, never stored.
type TaskStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}
