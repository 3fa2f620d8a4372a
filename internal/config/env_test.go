package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	cfg := FromEnv()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Pretty)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "jobs:splitmerge:commit", cfg.Queue.Stream)
	assert.Equal(t, "jobs:splitmerge:commit:dlq", cfg.Queue.DLQStream)
	assert.Equal(t, 500*time.Millisecond, cfg.Preview.Debounce)
	assert.Equal(t, 30*time.Minute, cfg.Preview.TTL)
	assert.True(t, cfg.Worker.Enabled)
	assert.Equal(t, "dev_splitmerge", cfg.Axiom.Dataset)
	assert.Equal(t, 4, cfg.Server.MaxInflight)
	assert.Equal(t, 30*time.Second, cfg.Worker.RetryBackoff)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("PREVIEW_DEBOUNCE", "250ms")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("RUN_WORKER", "off")
	t.Setenv("QUEUE_STREAM", "s")
	t.Setenv("PREVIEW_TTL", "garbage")
	t.Setenv("MAX_INFLIGHT_EXECUTIONS", "-3")

	cfg := FromEnv()
	assert.True(t, cfg.Logging.Pretty)
	assert.Equal(t, 250*time.Millisecond, cfg.Preview.Debounce)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.False(t, cfg.Worker.Enabled)
	assert.Equal(t, "s:dlq", cfg.Queue.DLQStream)
	assert.Equal(t, 30*time.Minute, cfg.Preview.TTL)
	assert.Equal(t, 1, cfg.Server.MaxInflight)
}
