package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	q, err := NewRedisQueue(context.Background(), c, "jobs:test", "workers:test", "", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return mr, q
}

func TestEnqueueDequeueAck(t *testing.T) {
	_, q := newQueue(t)
	ctx := context.Background()

	job := CommitJob{
		JobID:        "j1",
		Outputs:      []Output{{ResultID: "r1", Title: "A"}, {ResultID: "r2", Title: "B"}},
		DeleteSource: true,
		SourceIDs:    []string{"1", "2"},
	}
	require.NoError(t, q.EnqueueCommit(ctx, job))

	id, got, err := q.Dequeue(ctx, "c1", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEmpty(t, id)
	assert.Equal(t, "j1", got.JobID)
	assert.Equal(t, job.Outputs, got.Outputs)
	assert.True(t, got.DeleteSource)
	require.NoError(t, q.Ack(ctx, id))

	id, got, err = q.Dequeue(ctx, "c1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Nil(t, got)
}

func TestDelayedMoverAndDepths(t *testing.T) {
	_, q := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueDelayed(ctx, CommitJob{JobID: "later"}, time.Now().Add(time.Hour)))
	require.NoError(t, q.EnqueueDelayed(ctx, CommitJob{JobID: "due", Attempt: 1}, time.Now().Add(-time.Second)))
	require.NoError(t, q.AddDLQ(ctx, CommitJob{JobID: "dead"}, "boom"))

	assert.Equal(t, 1, q.moveOnce())

	stream, delayed, dlq, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stream)
	assert.EqualValues(t, 1, delayed)
	assert.EqualValues(t, 1, dlq)

	_, got, err := q.Dequeue(ctx, "c1", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "due", got.JobID)
	assert.Equal(t, 1, got.Attempt)
}

func TestDequeueUndecodable(t *testing.T) {
	mr, q := newQueue(t)
	_, err := mr.XAdd("jobs:test", "*", []string{"data", "{nope"})
	require.NoError(t, err)

	id, job, err := q.Dequeue(context.Background(), "c1", 100*time.Millisecond)
	assert.Error(t, err)
	assert.NotEmpty(t, id)
	assert.Nil(t, job)
}
