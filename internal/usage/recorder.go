package usage

import (
	"context"
	"log/slog"
	"time"

	"story-video-pipeline/internal/backend"
	"story-video-pipeline/internal/models"
)

const (
	imageModel = "gemini-3-pro-image-preview"
	videoModel = "veo-3.1-standard"

	maxStoredPromptLen = 500
)

// Ledger is the slice of the store the recorder writes to.
type Ledger interface {
	RecordCall(ctx context.Context, rec models.UsageRecord) (int64, error)
}

// Recorder wraps a Generator and writes one ledger row per backend call,
// priced on success and free on failure. It sits inside the retry wrapper so
// every attempt is accounted for.
type Recorder struct {
	inner  backend.Generator
	ledger Ledger
	logger *slog.Logger
}

// NewRecorder builds the wrapper.
func NewRecorder(inner backend.Generator, ledger Ledger, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{inner: inner, ledger: ledger, logger: logger}
}

func (r *Recorder) Generate(ctx context.Context, req backend.Request) (backend.Result, error) {
	started := time.Now().UTC()
	res, err := r.inner.Generate(ctx, req)
	finished := time.Now().UTC()

	rec := models.UsageRecord{
		ProjectName:     req.ProjectName,
		CallType:        req.MediaType,
		Model:           modelFor(req.MediaType),
		Prompt:          truncatePrompt(req.Prompt),
		Resolution:      resolutionFor(req),
		DurationSeconds: req.DurationSeconds,
		AspectRatio:     req.AspectRatio,
		GenerateAudio:   true,
		StartedAt:       started,
		FinishedAt:      finished,
		DurationMS:      finished.Sub(started).Milliseconds(),
	}
	if err != nil {
		rec.Status = models.CallFailed
		rec.ErrorMessage = truncatePrompt(err.Error())
	} else {
		rec.Status = models.CallSucceeded
		rec.OutputPath = res.OutputPath
		switch req.MediaType {
		case "video":
			rec.CostUSD = VideoCost(req.DurationSeconds, rec.Resolution, true)
		default:
			rec.CostUSD = ImageCost(rec.Resolution)
		}
	}

	// The ledger write must survive a cancelled generation.
	if _, logErr := r.ledger.RecordCall(context.WithoutCancel(ctx), rec); logErr != nil {
		r.logger.Warn("failed to record backend call", "call_type", rec.CallType, "error", logErr)
	}
	return res, err
}

func modelFor(mediaType string) string {
	if mediaType == "video" {
		return videoModel
	}
	return imageModel
}

func resolutionFor(req backend.Request) string {
	if req.MediaType == "video" {
		return "1080p"
	}
	if req.ImageSize != "" {
		return req.ImageSize
	}
	return "2K"
}

func truncatePrompt(s string) string {
	if len(s) > maxStoredPromptLen {
		return s[:maxStoredPromptLen]
	}
	return s
}
