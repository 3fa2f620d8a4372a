package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Commit job states.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateRetrying   = "retrying"
	StateSuccess    = "success"
	StateFailed     = "failed"
)

type Status struct {
	JobID    string            `json:"job_id,omitempty"`
	Status   string            `json:"status"`
	Attempt  int               `json:"attempt"`
	Message  string            `json:"message"`
	Start    *time.Time        `json:"start_time,omitempty"`
	End      *time.Time        `json:"end_time,omitempty"`
	Outputs  []string          `json:"outputs,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// RedisStatus keeps commit job status in job:<id>:status hashes. The result
// ids returned for a commit are linked to their job, so status can be looked
// up by either.
type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisStatus(c *redis.Client, ttl time.Duration) *RedisStatus {
	return &RedisStatus{client: c, keyNS: "splitmerge:job", ttl: ttl}
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) linkKey(resultID string) string {
	return fmt.Sprintf("%s:by-result:%s", s.keyNS, resultID)
}

// Link records resultIDs as aliases of jobID.
func (s *RedisStatus) Link(ctx context.Context, jobID string, resultIDs []string) error {
	pipe := s.client.TxPipeline()
	for _, id := range resultIDs {
		pipe.Set(ctx, s.linkKey(id), jobID, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// resolve maps a job id or a linked result id to the job id.
func (s *RedisStatus) resolve(ctx context.Context, id string) (string, error) {
	jobID, err := s.client.Get(ctx, s.linkKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return id, nil
	}
	return jobID, err
}

func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
	m := map[string]interface{}{
		"status":  st.Status,
		"attempt": st.Attempt,
		"message": st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Outputs != nil {
		b, _ := json.Marshal(st.Outputs)
		m["outputs"] = string(b)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), m)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(jobID), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the status of a job, given its id or one of its result ids.
func (s *RedisStatus) Get(ctx context.Context, id string) (Status, bool, error) {
	jobID, err := s.resolve(ctx, id)
	if err != nil {
		return Status{}, false, err
	}
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st := Status{JobID: jobID, Status: res["status"], Message: res["message"]}
	st.Attempt, _ = strconv.Atoi(res["attempt"])
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["outputs"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Outputs)
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st, true, nil
}

// Ping checks redis connectivity.
func (s *RedisStatus) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }
