package models

import "time"

// Event kinds carried on the task stream.
const (
	EventQueued    = "queued"
	EventRunning   = "running"
	EventRequeued  = "requeued"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
)

// Event is one task lifecycle transition. ID is a global monotonically
// increasing sequence number assigned at publish time; subscribers resume
// with it via Last-Event-ID.
type Event struct {
	ID          int64     `json:"id"`
	TaskID      string    `json:"task_id"`
	ProjectName string    `json:"project_name"`
	EventType   string    `json:"event_type"`
	Status      string    `json:"status"`
	Data        Task      `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is the first frame sent on every stream subscription: the full
// recent task list plus stats, tagged with the sequence id the live feed
// continues from.
type Snapshot struct {
	ProjectName string    `json:"project_name,omitempty"`
	Tasks       []Task    `json:"tasks"`
	Stats       TaskStats `json:"stats"`
	LastEventID int64     `json:"last_event_id"`
	GeneratedAt time.Time `json:"generated_at"`
}
