// Package dispatcher runs the workers that publish committed outputs.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/splitmerge/internal/metrics"
	"github.com/local/splitmerge/internal/queue"
	"github.com/local/splitmerge/internal/storage"
	"github.com/local/splitmerge/internal/store"
)

const breakerTarget = "publish"

type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *queue.CommitJob, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, job queue.CommitJob, executeAt time.Time) error
	AddDLQ(ctx context.Context, job queue.CommitJob, reason string) error
}

// Results gives access to the generated outputs of a job.
type Results interface {
	Read(ctx context.Context, id string) (store.Result, []byte, error)
	Delete(ctx context.Context, id string) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
}

type Config struct {
	Concurrency    int
	MaxAttempts    int
	PollTimeout    time.Duration
	RetryBackoff   time.Duration
	JobTimeout     time.Duration
	ConsumerPrefix string
}

type Worker struct {
	cfg       Config
	q         Queue
	results   Results
	publisher storage.Publisher
	sources   storage.Source
	status    StatusStore
	breaker   *CircuitBreaker
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a commit worker. breaker may be nil.
func New(cfg Config, q Queue, results Results, publisher storage.Publisher, sources storage.Source, status StatusStore, breaker *CircuitBreaker) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.ConsumerPrefix == "" {
		cfg.ConsumerPrefix = "commit"
	}
	return &Worker{
		cfg:       cfg,
		q:         q,
		results:   results,
		publisher: publisher,
		sources:   sources,
		status:    status,
		breaker:   breaker,
		stop:      make(chan struct{}),
	}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
}

// Stop signals the loops and waits for in-flight jobs until ctx is done.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("%s-%d", w.cfg.ConsumerPrefix, id)
	log.Info().Int("worker", id).Str("consumer", consumer).Msg("commit worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("commit worker stopped")
			return
		default:
		}

		msgID, job, err := w.q.Dequeue(context.Background(), consumer, w.cfg.PollTimeout)
		if err != nil {
			if msgID != "" {
				log.Error().Err(err).Str("msg_id", msgID).Msg("dropping undecodable commit job")
				_ = w.q.Ack(context.Background(), msgID)
				continue
			}
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if job == nil {
			continue
		}

		w.handle(context.Background(), *job)
		if err := w.q.Ack(context.Background(), msgID); err != nil {
			log.Warn().Err(err).Str("msg_id", msgID).Msg("ack failed")
		}
	}
}

// handle runs one delivery of a commit job. Every outcome is final for the
// delivery: success, a delayed retry, or the dead letter queue.
func (w *Worker) handle(ctx context.Context, job queue.CommitJob) {
	logger := log.With().Str("job_id", job.JobID).Int("attempt", job.Attempt+1).Logger()

	if w.breaker != nil && w.breaker.IsOpen(ctx, breakerTarget) {
		logger.Info().Msg("publish target cooling down; deferring job")
		w.retry(ctx, job, w.cfg.RetryBackoff, "publish target unavailable", false)
		return
	}

	start := time.Now().UTC()
	w.setStatus(ctx, job.JobID, store.Status{Status: store.StateProcessing, Attempt: job.Attempt + 1, Start: &start})

	jctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	locations, err := w.publish(jctx, job)
	if err != nil {
		w.rollback(ctx, job.JobID, locations)
		if isTransientError(err) && job.Attempt+1 < w.cfg.MaxAttempts {
			backoff := w.cfg.RetryBackoff
			if w.breaker != nil {
				backoff = w.breaker.Open(ctx, breakerTarget)
			}
			logger.Warn().Err(err).Dur("backoff", backoff).Msg("commit job failed; retrying")
			w.retry(ctx, job, backoff, err.Error(), true)
			return
		}
		logger.Error().Err(err).Msg("commit job failed")
		w.fail(ctx, job, err.Error())
		return
	}
	if w.breaker != nil {
		w.breaker.Close(ctx, breakerTarget)
	}

	if job.DeleteSource {
		for _, id := range job.SourceIDs {
			if err := w.sources.Delete(ctx, id); err != nil {
				logger.Warn().Err(err).Str("document", id).Msg("failed to delete source document")
			}
		}
	}
	w.discardResults(ctx, job)

	end := time.Now().UTC()
	w.setStatus(ctx, job.JobID, store.Status{
		Status:  store.StateSuccess,
		Attempt: job.Attempt + 1,
		Message: fmt.Sprintf("published %d outputs", len(locations)),
		End:     &end,
		Outputs: locations,
	})
	metrics.IncCommitJob("success")
	logger.Info().Int("outputs", len(locations)).Bool("deleted_sources", job.DeleteSource).Dur("duration", time.Since(start)).Msg("commit job completed")
}

// publish stores every output in order. On error it returns the locations
// published so far so that the caller can roll them back.
func (w *Worker) publish(ctx context.Context, job queue.CommitJob) ([]string, error) {
	locations := make([]string, 0, len(job.Outputs))
	for i, out := range job.Outputs {
		res, data, err := w.results.Read(ctx, out.ResultID)
		if err != nil {
			return locations, &PublishError{Index: i, ResultID: out.ResultID, Err: err}
		}
		meta := map[string]string{"title": res.Title, "job-id": job.JobID}
		for k, v := range out.Metadata {
			meta[k] = v
		}
		name := fmt.Sprintf("%s_%02d.pdf", job.JobID, i)
		loc, err := w.publisher.Publish(ctx, name, bytes.NewReader(data), meta)
		if err != nil {
			return locations, &PublishError{Index: i, ResultID: out.ResultID, Err: err}
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

func (w *Worker) rollback(ctx context.Context, jobID string, locations []string) {
	for _, loc := range locations {
		if err := w.publisher.Unpublish(ctx, loc); err != nil {
			log.Error().Err(err).Str("job_id", jobID).Str("location", loc).Msg("rollback failed")
			continue
		}
		log.Info().Str("job_id", jobID).Str("location", loc).Msg("rolled back published output")
	}
}

func (w *Worker) retry(ctx context.Context, job queue.CommitJob, backoff time.Duration, reason string, countAttempt bool) {
	if countAttempt {
		job.Attempt++
	}
	if err := w.q.EnqueueDelayed(ctx, job, time.Now().Add(backoff)); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to schedule retry")
		w.fail(ctx, job, reason)
		return
	}
	w.setStatus(ctx, job.JobID, store.Status{Status: store.StateRetrying, Attempt: job.Attempt, Message: reason})
	metrics.IncCommitJob("retry")
}

func (w *Worker) fail(ctx context.Context, job queue.CommitJob, reason string) {
	if err := w.q.AddDLQ(ctx, job, reason); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to add job to DLQ")
	}
	w.discardResults(ctx, job)
	end := time.Now().UTC()
	w.setStatus(ctx, job.JobID, store.Status{Status: store.StateFailed, Attempt: job.Attempt + 1, Message: reason, End: &end})
	metrics.IncCommitJob("failed")
}

func (w *Worker) discardResults(ctx context.Context, job queue.CommitJob) {
	for _, out := range job.Outputs {
		if err := w.results.Delete(ctx, out.ResultID); err != nil {
			log.Warn().Err(err).Str("result", out.ResultID).Msg("failed to remove spooled output")
		}
	}
}

func (w *Worker) setStatus(ctx context.Context, jobID string, st store.Status) {
	if w.status == nil {
		return
	}
	if err := w.status.Set(ctx, jobID, st); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("failed to update job status")
	}
}

// DepthSource reports queue lengths.
type DepthSource interface {
	Depths(ctx context.Context) (int64, int64, int64, error)
}

// MonitorDepth publishes queue depths as metrics every interval until ctx is done.
func MonitorDepth(ctx context.Context, q DepthSource, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stream, delayed, dlq, err := q.Depths(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to read queue depths")
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}
