package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// CircuitBreaker manages circuit breaker state in Redis so that every
// worker process backs off from a failing publish target together.
type CircuitBreaker struct {
	redis       *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(redisClient *redis.Client, baseBackoff, maxBackoff time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		redis:       redisClient,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

func (cb *CircuitBreaker) key(target string) string { return fmt.Sprintf("cb:splitmerge:%s", target) }

// Open opens the breaker for target and returns the cooldown.
// Consecutive openings double the cooldown up to maxBackoff.
func (cb *CircuitBreaker) Open(ctx context.Context, target string) time.Duration {
	key := cb.key(target)

	failuresStr, _ := cb.redis.HGet(ctx, key, "failures").Result()
	failures, _ := strconv.Atoi(failuresStr)
	failures++

	backoff := cb.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff > cb.maxBackoff {
			backoff = cb.maxBackoff
			break
		}
	}

	retryAt := time.Now().Add(backoff).Unix()
	pipe := cb.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt,
		"failures":  failures,
		"opened_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, 10*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("target", target).Msg("failed to persist circuit breaker")
	}

	log.Warn().
		Str("target", target).
		Dur("cooldown", backoff).
		Int("failures", failures).
		Time("retry_at", time.Unix(retryAt, 0)).
		Msg("circuit breaker OPENED")
	return backoff
}

// IsOpen reports whether target is still cooling down. An expired cooldown
// moves the breaker to half-open and lets one attempt through.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, target string) bool {
	key := cb.key(target)

	res, err := cb.redis.HGetAll(ctx, key).Result()
	if err != nil || res["state"] != "open" {
		return false
	}

	retryAt, _ := strconv.ParseInt(res["retry_at"], 10, 64)
	if time.Now().Unix() >= retryAt {
		cb.redis.HSet(ctx, key, "state", "half_open")
		log.Info().Str("target", target).Msg("circuit breaker moved to HALF-OPEN")
		return false
	}
	return true
}

// Close resets the breaker after a success.
func (cb *CircuitBreaker) Close(ctx context.Context, target string) {
	key := cb.key(target)
	state, _ := cb.redis.HGet(ctx, key, "state").Result()
	if state == "" || state == "closed" {
		return
	}
	cb.redis.Del(ctx, key)
	log.Info().Str("target", target).Msg("circuit breaker CLOSED (reset)")
}
