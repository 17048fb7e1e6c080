package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"story-video-pipeline/internal/api"
	"story-video-pipeline/internal/backend"
	"story-video-pipeline/internal/compose"
	"story-video-pipeline/internal/config"
	"story-video-pipeline/internal/events"
	"story-video-pipeline/internal/models"
	"story-video-pipeline/internal/project"
	"story-video-pipeline/internal/queue"
	"story-video-pipeline/internal/ratelimit"
	"story-video-pipeline/internal/store"
	"story-video-pipeline/internal/usage"
	"story-video-pipeline/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if cfg.Env == "dev" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	q := queue.NewRedisQueue(cfg)
	defer q.Close()
	if err := q.Ping(ctx); err != nil {
		logger.Error("failed to reach redis", "error", err, "addr", cfg.RedisAddr)
		os.Exit(1)
	}

	projects, err := project.NewManager(cfg.ProjectsDir)
	if err != nil {
		logger.Error("failed to open projects directory", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewSlidingWindow(q.Client(), time.Minute, map[string]int{
		models.LaneImage: cfg.ImageRPM,
		models.LaneVideo: cfg.VideoRPM,
	})

	var generator backend.Generator
	if cfg.BackendBaseURL == "" {
		logger.Warn("no backend configured, using stub generator")
		generator = backend.Stub{}
	} else {
		generator, err = backend.NewHTTPGenerator(ctx, cfg)
		if err != nil {
			logger.Error("failed to init generation backend", "error", err)
			os.Exit(1)
		}
	}
	generator = usage.NewRecorder(generator, st, logger)
	generator = backend.NewRetrying(generator, limiter, backend.RetryConfig{
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}, logger)

	broadcaster := events.NewBroadcaster(cfg.EventRingCapacity)
	executor := worker.NewExecutor(st, projects, generator)
	processor := worker.NewProcessor(cfg, q, st, executor, broadcaster, logger)

	if err := processor.Recover(ctx); err != nil {
		logger.Error("failed to recover interrupted tasks", "error", err)
		os.Exit(1)
	}
	go processor.Run(ctx)

	server := api.NewServer(cfg, st, q, broadcaster, projects, compose.New(projects, cfg.FFmpegBin))
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("server listening",
		"port", cfg.HTTPPort,
		"image_workers", cfg.ImageWorkers,
		"video_workers", cfg.VideoWorkers,
	)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// openStore selects Postgres when a DSN is configured, else the embedded
// SQLite database.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.PostgresDSN != "" {
		return store.NewPostgresStore(ctx, cfg.PostgresDSN)
	}
	return store.NewSQLiteStore(ctx, cfg.SQLitePath)
}
