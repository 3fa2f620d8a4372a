package preview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/splitmerge/internal/assembly"
	"github.com/local/splitmerge/internal/plan"
)

const (
	testDelay = 40 * time.Millisecond
	waitFor   = 2 * time.Second
	tick      = 5 * time.Millisecond
)

type fakeExecutor struct {
	mu    sync.Mutex
	reqs  []plan.Request
	gate  chan struct{} // when set, each call waits for a receive
	err   error
	calls int
}

func (f *fakeExecutor) Execute(ctx context.Context, req plan.Request) ([]string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.calls++
	n := f.calls
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, len(req.Plan))
	for i := range req.Plan {
		out[i] = fmt.Sprintf("r%d-%d", n, i)
	}
	return out, nil
}

func (f *fakeExecutor) requests() []plan.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]plan.Request(nil), f.reqs...)
}

func urlOf(id string) string { return "/split_merge/" + id + "/" }

func TestTriggerDebouncesBurstIntoOneBuild(t *testing.T) {
	ws := assembly.New()
	ex := &fakeExecutor{}
	c := New(ws, ex, Options{Delay: testDelay, URL: urlOf})
	defer c.Close()

	ws.Append(assembly.DocumentRef{DocumentID: "a"})
	c.Trigger()
	ws.Append(assembly.DocumentRef{DocumentID: "b"})
	c.Trigger()
	ws.Append(assembly.DocumentRef{DocumentID: "c", Pages: []int{1, 2}})
	c.Trigger()

	require.Eventually(t, func() bool { return !c.State().Pending }, waitFor, tick)
	time.Sleep(2 * testDelay)

	reqs := ex.requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Preview)
	assert.False(t, reqs[0].DeleteSource)
	assert.Equal(t, plan.MetadataRedo, reqs[0].Metadata)
	assert.Equal(t, plan.ExecutionPlan{{{Document: "a"}, {Document: "b"}, {Document: "c", Pages: "1-2"}}}, reqs[0].Plan)

	st := c.State()
	assert.Equal(t, []string{"r1-0"}, st.Results)
	assert.Equal(t, []string{"/split_merge/r1-0/"}, st.URLs)
	assert.NoError(t, st.Err)
}

func TestSeparateQuietPeriodsBuildSeparately(t *testing.T) {
	ws := assembly.New(assembly.Doc("a"))
	ex := &fakeExecutor{}
	c := New(ws, ex, Options{Delay: testDelay})
	defer c.Close()

	c.Trigger()
	require.Eventually(t, func() bool { return len(ex.requests()) == 1 && !c.State().Pending }, waitFor, tick)

	ws.Append(assembly.DocumentRef{DocumentID: "b"})
	c.Trigger()
	require.Eventually(t, func() bool { return len(ex.requests()) == 2 && !c.State().Pending }, waitFor, tick)

	assert.Equal(t, []string{"r2-0"}, c.State().Results)
	assert.Nil(t, c.State().URLs)
}

func TestInflightResponseIsAppliedThenSuperseded(t *testing.T) {
	ws := assembly.New(assembly.Doc("a"))
	ex := &fakeExecutor{gate: make(chan struct{})}
	var mu sync.Mutex
	var seen [][]string
	c := New(ws, ex, Options{Delay: testDelay, OnUpdate: func(s State) {
		mu.Lock()
		seen = append(seen, s.Results)
		mu.Unlock()
	}})
	defer c.Close()

	c.Trigger()
	require.Eventually(t, func() bool { return len(ex.requests()) == 1 }, waitFor, tick)

	// edit while the first build is in flight
	ws.Append(assembly.DocumentRef{DocumentID: "b"})
	ws.Append(assembly.DocumentRef{DocumentID: "c"})
	require.NoError(t, ws.SplitAt(2, []int{2}, []int{1, 2}))
	c.Trigger()
	assert.True(t, c.State().Pending)

	ex.gate <- struct{}{}
	require.Eventually(t, func() bool { return len(ex.requests()) == 2 }, waitFor, tick)
	require.Eventually(t, func() bool {
		r := c.State().Results
		return len(r) == 1 && r[0] == "r1-0"
	}, waitFor, tick, "stale response is still shown")
	assert.True(t, c.State().Pending)

	ex.gate <- struct{}{}
	require.Eventually(t, func() bool { return !c.State().Pending }, waitFor, tick)
	assert.Equal(t, []string{"r2-0", "r2-1"}, c.State().Results)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, []string{"r1-0"}, seen[0])
}

func TestBackendErrorClearsResultsAndKeepsWorkingSet(t *testing.T) {
	ws := assembly.New(assembly.Doc("a"), assembly.Separator(), assembly.Doc("b"))
	boom := errors.New("page 12 is out of range")
	ex := &fakeExecutor{}
	c := New(ws, ex, Options{Delay: testDelay})
	defer c.Close()

	c.Trigger()
	require.Eventually(t, func() bool { return len(c.State().Results) == 2 }, waitFor, tick)

	ex.mu.Lock()
	ex.err = boom
	ex.mu.Unlock()
	c.Retry()
	require.Eventually(t, func() bool { return c.State().Err != nil }, waitFor, tick)

	st := c.State()
	assert.Same(t, boom, st.Err)
	assert.Empty(t, st.Results)
	assert.Equal(t, 3, ws.Len())

	ex.mu.Lock()
	ex.err = nil
	ex.mu.Unlock()
	c.Retry()
	require.Eventually(t, func() bool { return c.State().Err == nil && !c.State().Pending }, waitFor, tick)
	assert.Len(t, c.State().Results, 2)
}

func TestEmptyWorkingSetIssuesNoRequest(t *testing.T) {
	ws := assembly.New(assembly.Doc("a"))
	ex := &fakeExecutor{}
	c := New(ws, ex, Options{Delay: testDelay})
	defer c.Close()

	c.Trigger()
	ws.Remove(0)
	c.Trigger()

	time.Sleep(3 * testDelay)
	assert.Empty(t, ex.requests())
	assert.Equal(t, State{}, c.State())
}

func TestCommitClearsWorkingSet(t *testing.T) {
	ws := assembly.New(assembly.Doc("a", 1, 2), assembly.Separator(), assembly.Doc("a", 3))
	ex := &fakeExecutor{}
	c := New(ws, ex, Options{Delay: time.Hour, Metadata: plan.MetadataCopyFirst})
	defer c.Close()

	c.Trigger()
	ids, err := c.Commit(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1-0", "r1-1"}, ids)
	assert.True(t, ws.IsEmpty())
	assert.False(t, c.State().Pending)

	reqs := ex.requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].Preview)
	assert.True(t, reqs[0].DeleteSource)
	assert.Equal(t, plan.MetadataCopyFirst, reqs[0].Metadata)

	_, err = c.Commit(context.Background(), false)
	assert.ErrorIs(t, err, ErrEmptyWorkingSet)
}

func TestCommitFailureKeepsWorkingSet(t *testing.T) {
	ws := assembly.New(assembly.Doc("a"))
	boom := errors.New("backend down")
	c := New(ws, ExecutorFunc(func(context.Context, plan.Request) ([]string, error) { return nil, boom }), Options{})
	defer c.Close()

	_, err := c.Commit(context.Background(), false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ws.Len())
}

func TestCloseStopsScheduledBuild(t *testing.T) {
	ws := assembly.New(assembly.Doc("a"))
	ex := &fakeExecutor{}
	c := New(ws, ex, Options{Delay: testDelay})

	c.Trigger()
	c.Close()
	c.Trigger()
	time.Sleep(3 * testDelay)
	assert.Empty(t, ex.requests())
}
