package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the pipeline server.
type Config struct {
	Env         string
	HTTPPort    string
	ProjectsDir string

	// Store selection: Postgres when DSN is set, otherwise SQLite at SQLitePath.
	PostgresDSN string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VisibilityTimeout  time.Duration
	WorkerPollInterval time.Duration

	ImageWorkers int
	VideoWorkers int

	// Wall-clock execution bounds per lane. A running task past its bound fails.
	ImageTaskTimeout time.Duration
	VideoTaskTimeout time.Duration

	// Sliding-window rate limits, requests per minute per lane.
	ImageRPM int
	VideoRPM int

	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Generation backend. Empty BackendBaseURL selects the stub generator.
	BackendBaseURL string
	BackendAPIKey  string
	BackendTimeout time.Duration

	// Optional S3 artifact mirroring.
	ArtifactS3Bucket    string
	ArtifactS3Region    string
	ArtifactS3Endpoint  string
	ArtifactS3PathStyle bool

	EventRingCapacity int
	SSEHeartbeat      time.Duration
	SnapshotLimit     int

	FFmpegBin string
}

// Load reads configuration from environment variables with sane defaults for
// local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ProjectsDir: getEnv("PROJECTS_DIR", "./projects"),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		SQLitePath:  getEnv("SQLITE_PATH", "./projects/.task_queue.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		VisibilityTimeout:  getEnvDuration("VISIBILITY_TIMEOUT", 30*time.Second),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),

		ImageWorkers: getEnvInt("STORYBOARD_MAX_WORKERS", 3),
		VideoWorkers: getEnvInt("VIDEO_MAX_WORKERS", 2),

		ImageTaskTimeout: getEnvDuration("IMAGE_TASK_TIMEOUT", 5*time.Minute),
		VideoTaskTimeout: getEnvDuration("VIDEO_TASK_TIMEOUT", 15*time.Minute),

		ImageRPM: getEnvInt("IMAGE_RPM", 15),
		VideoRPM: getEnvInt("VIDEO_RPM", 10),

		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 5),
		BackoffInitial: getEnvDuration("BACKOFF_INITIAL", 2*time.Second),
		BackoffMax:     getEnvDuration("BACKOFF_MAX", 32*time.Second),

		BackendBaseURL: getEnv("BACKEND_BASE_URL", ""),
		BackendAPIKey:  getEnv("BACKEND_API_KEY", ""),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 4*time.Minute),

		ArtifactS3Bucket:    getEnv("ARTIFACT_S3_BUCKET", ""),
		ArtifactS3Region:    getEnv("ARTIFACT_S3_REGION", "us-east-1"),
		ArtifactS3Endpoint:  getEnv("ARTIFACT_S3_ENDPOINT", ""),
		ArtifactS3PathStyle: getEnvBool("ARTIFACT_S3_PATH_STYLE", false),

		EventRingCapacity: getEnvInt("EVENT_RING_CAPACITY", 4096),
		SSEHeartbeat:      getEnvDuration("SSE_HEARTBEAT", 15*time.Second),
		SnapshotLimit:     getEnvInt("SNAPSHOT_LIMIT", 1000),

		FFmpegBin: getEnv("FFMPEG_BIN", "ffmpeg"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
