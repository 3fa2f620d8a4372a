package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	MaxRequestBytes int64
	MaxInflight     int // concurrent executions per mode
}

// StorageConfig defines where source documents live and where results go.
type StorageConfig struct {
	SourceDir      string // used when S3Bucket is empty
	S3Bucket       string
	S3Region       string
	S3SourcePrefix string
	S3OutputPrefix string
	AccessKeyID    string
	SecretKey      string
	SpoolDir       string // rendered outputs awaiting preview or commit
	OutputDir      string // local publish target when S3 is not configured
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL  string
	Stream    string
	Group     string
	DLQStream string
}

// PreviewConfig controls preview results and session debounce.
type PreviewConfig struct {
	TTL        time.Duration
	Debounce   time.Duration
	SweepEvery time.Duration
}

// WorkerConfig defines commit worker behavior.
type WorkerConfig struct {
	Enabled      bool
	Concurrency  int
	MaxAttempts  int
	PollTimeout  time.Duration
	DepthEvery   time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	JobTimeout   time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Server  ServerConfig
	Storage StorageConfig
	Queue   QueueConfig
	Preview PreviewConfig
	Worker  WorkerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/splitmerge.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_splitmerge",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Server = ServerConfig{
		Port:            getEnv("PORT", "8080"),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
		MaxRequestBytes: int64(parseInt(getEnv("MAX_REQUEST_BYTES", "1048576"), 1<<20)),
		MaxInflight:     parseInt(getEnv("MAX_INFLIGHT_EXECUTIONS", "4"), 4),
	}

	cfg.Storage = StorageConfig{
		SourceDir:      getEnv("SOURCE_DIR", "documents"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnv("AWS_REGION", ""),
		S3SourcePrefix: getEnv("S3_SOURCE_PREFIX", "documents/"),
		S3OutputPrefix: getEnv("S3_OUTPUT_PREFIX", "split_merge/"),
		AccessKeyID:    getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SpoolDir:       getEnv("SPOOL_DIR", "spool"),
		OutputDir:      getEnv("OUTPUT_DIR", "output"),
	}

	stream := getEnv("QUEUE_STREAM", "jobs:splitmerge:commit")
	cfg.Queue = QueueConfig{
		RedisURL:  getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:    stream,
		Group:     getEnv("QUEUE_GROUP", "workers:commit"),
		DLQStream: getEnv("QUEUE_DLQ_STREAM", stream+":dlq"),
	}

	cfg.Preview = PreviewConfig{
		TTL:        parseDuration(getEnv("PREVIEW_TTL", "30m"), 30*time.Minute),
		Debounce:   parseDuration(getEnv("PREVIEW_DEBOUNCE", "500ms"), 500*time.Millisecond),
		SweepEvery: parseDuration(getEnv("SPOOL_SWEEP_INTERVAL", "5m"), 5*time.Minute),
	}

	cfg.Worker = WorkerConfig{
		Enabled:      parseBool(getEnv("RUN_WORKER", "true")),
		Concurrency:  parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		MaxAttempts:  parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		PollTimeout:  parseDuration(getEnv("QUEUE_POLL_TIMEOUT", "2s"), 2*time.Second),
		DepthEvery:   parseDuration(getEnv("QUEUE_DEPTH_INTERVAL", "15s"), 15*time.Second),
		RetryBackoff: parseDuration(getEnv("JOB_RETRY_BACKOFF", "30s"), 30*time.Second),
		MaxBackoff:   parseDuration(getEnv("JOB_MAX_BACKOFF", "5m"), 5*time.Minute),
		JobTimeout:   parseDuration(getEnv("JOB_TIMEOUT", "5m"), 5*time.Minute),
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Server.MaxInflight <= 0 {
		cfg.Server.MaxInflight = 1
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
