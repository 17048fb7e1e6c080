package backend

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"story-video-pipeline/internal/telemetry"
)

// Request describes one generation call.
type Request struct {
	// ProjectName attributes the call in the usage ledger.
	ProjectName string
	// MediaType is "image" or "video"; it selects the provider endpoint and
	// the rate limit category.
	MediaType       string
	Prompt          string
	ReferenceImages []string
	// StartImage is the first frame for video generation.
	StartImage      string
	AspectRatio     string
	DurationSeconds int
	ImageSize       string
	// OutputPath is the absolute path the artifact is written to.
	OutputPath string
	// ArtifactKey is the object key used when mirroring to remote storage.
	ArtifactKey string
}

// Result reports where the artifact landed.
type Result struct {
	OutputPath string
	// VideoURI is the provider-side handle for a generated video, when the
	// provider returns one.
	VideoURI string
}

// Generator produces one media artifact per call.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Limiter gates outbound provider calls.
type Limiter interface {
	Wait(ctx context.Context, category string) error
}

// RetryConfig tunes the retry loop.
type RetryConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Retrying wraps a Generator with rate limiting and retries. Every attempt
// first waits for a rate limit slot, so retries cannot stampede the provider.
type Retrying struct {
	inner   Generator
	limiter Limiter
	cfg     RetryConfig
	logger  *slog.Logger
}

// NewRetrying builds the wrapper. A nil limiter disables rate limiting.
func NewRetrying(inner Generator, limiter Limiter, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 32 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: inner, limiter: limiter, cfg: cfg, logger: logger}
}

func (r *Retrying) Generate(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, req.MediaType); err != nil {
				return Result{}, err
			}
		}

		res, err := r.inner.Generate(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == r.cfg.MaxAttempts {
			return Result{}, err
		}

		wait := backoffWithJitter(r.cfg.BackoffInitial, r.cfg.BackoffMax, attempt)
		r.logger.Warn("generation attempt failed, retrying",
			"media_type", req.MediaType,
			"attempt", attempt,
			"backoff", wait,
			"error", err)
		telemetry.BackendRetries.Inc()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	return Result{}, lastErr
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
