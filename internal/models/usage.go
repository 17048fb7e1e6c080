package models

import "time"

// Backend call outcomes recorded in the usage ledger.
const (
	CallSucceeded = "success"
	CallFailed    = "failed"
)

// UsageRecord is one backend generation call with its computed cost.
type UsageRecord struct {
	ID              int64     `json:"id"`
	ProjectName     string    `json:"project_name"`
	CallType        string    `json:"call_type"`
	Model           string    `json:"model"`
	Prompt          string    `json:"prompt,omitempty"`
	Resolution      string    `json:"resolution,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	AspectRatio     string    `json:"aspect_ratio,omitempty"`
	GenerateAudio   bool      `json:"generate_audio"`
	Status          string    `json:"status"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	OutputPath      string    `json:"output_path,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationMS      int64     `json:"duration_ms"`
	CostUSD         float64   `json:"cost_usd"`
}

// UsageStats summarizes spend and call counts over the ledger.
type UsageStats struct {
	TotalCost   float64 `json:"total_cost"`
	ImageCount  int     `json:"image_count"`
	VideoCount  int     `json:"video_count"`
	FailedCount int     `json:"failed_count"`
	TotalCount  int     `json:"total_count"`
}
