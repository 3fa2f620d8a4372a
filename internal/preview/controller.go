// Package preview regenerates split/merge previews while a session edits its
// working set. Edits are coalesced with a trailing-edge debounce; the most
// recently completed backend response is what the session shows.
package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/splitmerge/internal/assembly"
	"github.com/local/splitmerge/internal/metrics"
	"github.com/local/splitmerge/internal/plan"
)

// DefaultDelay is the debounce window used when Options.Delay is zero.
const DefaultDelay = 500 * time.Millisecond

// ErrEmptyWorkingSet is returned by Commit when there is nothing to execute.
var ErrEmptyWorkingSet = errors.New("working set is empty")

// Executor runs a request on the backend. Result i belongs to output group i.
type Executor interface {
	Execute(ctx context.Context, req plan.Request) ([]string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req plan.Request) ([]string, error)

func (f ExecutorFunc) Execute(ctx context.Context, req plan.Request) ([]string, error) {
	return f(ctx, req)
}

// Options configures a Controller.
type Options struct {
	Delay    time.Duration
	Metadata plan.Metadata
	// URL maps a result id to its preview rendering URL.
	URL func(resultID string) string
	// Timeout bounds a single preview call; zero means no timeout.
	Timeout time.Duration
	// OnUpdate is called after every applied response, outside the lock.
	OnUpdate func(State)
}

// State is what the session currently displays.
type State struct {
	Results []string
	URLs    []string
	Err     error
	// Pending is true while a build is scheduled or in flight.
	Pending bool
}

// Controller owns the preview cycle of one session.
type Controller struct {
	ws   *assembly.WorkingSet
	exec Executor
	opts Options

	mu       sync.Mutex
	gen      uint64
	timer    *time.Timer
	next     plan.Request
	inflight int
	state    State
	closed   bool
	wg       sync.WaitGroup
}

// New builds a controller for ws. The controller only reads ws from
// Trigger, Retry and Commit, which must run on the goroutine that mutates it.
func New(ws *assembly.WorkingSet, exec Executor, opts Options) *Controller {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Metadata == "" {
		opts.Metadata = plan.MetadataRedo
	}
	return &Controller{ws: ws, exec: exec, opts: opts}
}

// Trigger schedules a preview build for the current working set after the
// debounce window. A trigger inside the window replaces the pending one.
func (c *Controller) Trigger() {
	c.schedule(c.opts.Delay)
}

// Retry rebuilds the preview immediately.
func (c *Controller) Retry() {
	c.schedule(0)
}

func (c *Controller) schedule(delay time.Duration) {
	empty := c.ws.IsEmpty()
	req := plan.NewRequest(c.ws, c.opts.Metadata, false, true)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	if c.timer != nil {
		if c.timer.Stop() {
			c.wg.Done()
			metrics.IncPreviewCoalesced()
		}
		c.timer = nil
	}
	if empty {
		c.state = State{Pending: c.inflight > 0}
		st := c.snapshot()
		c.mu.Unlock()
		c.notify(st)
		return
	}
	c.next = req
	c.state.Pending = true
	gen := c.gen
	c.wg.Add(1)
	c.timer = time.AfterFunc(delay, func() { c.fire(gen) })
	c.mu.Unlock()
}

func (c *Controller) fire(gen uint64) {
	defer c.wg.Done()

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	req := c.next
	c.inflight++
	c.mu.Unlock()

	ctx := context.Background()
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	start := time.Now()
	results, err := c.exec.Execute(ctx, req)

	c.mu.Lock()
	c.inflight--
	if err != nil {
		metrics.IncPreviewBuild("error")
		log.Warn().Err(err).Int("groups", len(req.Plan)).Dur("duration", time.Since(start)).Msg("preview build failed")
		c.state.Results, c.state.URLs, c.state.Err = nil, nil, err
	} else {
		metrics.IncPreviewBuild("success")
		log.Debug().Int("groups", len(req.Plan)).Int("results", len(results)).Dur("duration", time.Since(start)).Msg("preview build done")
		c.state.Results, c.state.URLs, c.state.Err = results, c.urls(results), nil
	}
	c.state.Pending = c.timer != nil || c.inflight > 0
	st := c.snapshot()
	c.mu.Unlock()
	c.notify(st)
}

// Commit executes the working set for real and clears it on success. The
// caller must not edit the working set until Commit returns.
func (c *Controller) Commit(ctx context.Context, deleteSource bool) ([]string, error) {
	if c.ws.IsEmpty() {
		return nil, ErrEmptyWorkingSet
	}
	req := plan.NewRequest(c.ws, c.opts.Metadata, deleteSource, false)
	start := time.Now()
	results, err := c.exec.Execute(ctx, req)
	if err != nil {
		log.Warn().Err(err).Int("groups", len(req.Plan)).Msg("commit failed")
		return nil, err
	}
	log.Info().Int("groups", len(req.Plan)).Bool("delete_source", deleteSource).Dur("duration", time.Since(start)).Msg("commit accepted")
	c.ws.Clear()

	c.mu.Lock()
	c.gen++
	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	c.timer = nil
	c.state = State{}
	c.mu.Unlock()
	return results, nil
}

// State returns a copy of the current display state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Close cancels a scheduled build and waits for in-flight calls to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	c.timer = nil
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) urls(results []string) []string {
	if c.opts.URL == nil {
		return nil
	}
	out := make([]string, len(results))
	for i, id := range results {
		out[i] = c.opts.URL(id)
	}
	return out
}

func (c *Controller) snapshot() State {
	st := c.state
	st.Results = append([]string(nil), c.state.Results...)
	st.URLs = append([]string(nil), c.state.URLs...)
	return st
}

func (c *Controller) notify(st State) {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(st)
	}
}
