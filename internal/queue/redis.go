package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Output is one generated document waiting to be published.
type Output struct {
	ResultID string            `json:"result_id"`
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CommitJob carries the outputs of one committed plan.
type CommitJob struct {
	JobID        string    `json:"job_id"`
	Outputs      []Output  `json:"outputs"`
	DeleteSource bool      `json:"delete_source"`
	SourceIDs    []string  `json:"source_ids,omitempty"`
	Attempt      int       `json:"attempt"`
	CreatedAt    time.Time `json:"created_at"`
}

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
type RedisQueue struct {
	client *redis.Client
	// streams / groups
	Stream string
	Group  string
	// keys
	DelayedKey string
	DLQStream  string
	// mover control
	pollInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewRedisQueue ensures stream & group exist and starts the delayed mover.
func NewRedisQueue(ctx context.Context, c *redis.Client, stream, group, dlq string, poll time.Duration) (*RedisQueue, error) {
	if dlq == "" {
		dlq = stream + ":dlq"
	}
	q := &RedisQueue{
		client:       c,
		Stream:       stream,
		Group:        group,
		DelayedKey:   stream + ":delayed",
		DLQStream:    dlq,
		pollInterval: poll,
		stop:         make(chan struct{}),
	}
	// MKSTREAM creates the stream if missing
	if err := c.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	go q.mover()
	return q, nil
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

// Close stops the delayed mover. The redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.stopOnce.Do(func() { close(q.stop) })
	return nil
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// EnqueueCommit adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) EnqueueCommit(ctx context.Context, job CommitJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"data": string(payload)},
	}).Err()
}

// EnqueueDelayed schedules a job for a later attempt via ZSET.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job CommitJob, executeAt time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(executeAt.Unix()), Member: string(payload)}).Err()
}

// Dequeue reads one message from the consumer group. A nil job with an
// empty id means the read timed out. Messages that cannot be decoded are
// returned with their id and an error so the caller can ack them away.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *CommitJob, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, nil
		}
		return "", nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return "", nil, nil
	}
	msg := res[0].Messages[0]
	var raw []byte
	switch t := msg.Values["data"].(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	}
	var job CommitJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return msg.ID, nil, fmt.Errorf("decode job %s: %w", msg.ID, err)
	}
	return msg.ID, &job, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// AddDLQ pushes a failed job to DLQ stream with reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, job CommitJob, reason string) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DLQStream,
		Values: map[string]any{"data": string(payload), "reason": reason},
	}).Err()
}

// mover periodically moves due delayed jobs from ZSET into the stream.
func (q *RedisQueue) mover() {
	if q.pollInterval <= 0 {
		q.pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.moveOnce()
		}
	}
}

func (q *RedisQueue) moveOnce() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	now := time.Now().Unix()
	vals, err := q.client.ZRangeByScoreWithScores(ctx, q.DelayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: 100,
	}).Result()
	if err != nil || len(vals) == 0 {
		return 0
	}
	pipe := q.client.TxPipeline()
	for _, z := range vals {
		s, _ := z.Member.(string)
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}})
		pipe.ZRem(ctx, q.DelayedKey, s)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("delayed mover failed")
		return 0
	}
	return len(vals)
}

// Depths returns approximate stream/delayed/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
	pipe := q.client.Pipeline()
	xlen := pipe.XLen(ctx, q.Stream)
	zcard := pipe.ZCard(ctx, q.DelayedKey)
	dxlen := pipe.XLen(ctx, q.DLQStream)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}
