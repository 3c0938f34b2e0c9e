package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
)

type stubExecutor struct {
	mu       sync.Mutex
	requests []console.Request
	err      error
}

func (s *stubExecutor) Run(ctx context.Context, req console.Request) (console.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return console.Result{Command: req.Command}, s.err
}

func (s *stubExecutor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubPruner struct {
	calls     int
	olderThan time.Duration
}

func (p *stubPruner) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.calls++
	p.olderThan = olderThan
	return 3, nil
}

func TestNewSchedulerSkipsDisabled(t *testing.T) {
	s := NewScheduler([]config.ScheduleConfig{
		{Name: "a", Profile: "local", Command: "status", IntervalSec: 60, Enabled: true},
		{Name: "b", Profile: "local", Command: "users", IntervalSec: 60, Enabled: false},
		{Profile: "local", Command: "save", IntervalSec: 0, Enabled: true},
	}, &stubExecutor{}, nil, 0)

	require.Len(t, s.jobs, 1)
	assert.Equal(t, "a", s.jobs[0].name)
	assert.Equal(t, time.Minute, s.jobs[0].interval)
}

func TestJobRunsThroughExecutor(t *testing.T) {
	exec := &stubExecutor{err: errors.New("offline")}
	s := NewScheduler(nil, exec, nil, 0)
	s.jobs = []job{{name: "heartbeat", profile: "local", command: "status", interval: 20 * time.Millisecond}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return exec.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	exec.mu.Lock()
	req := exec.requests[0]
	exec.mu.Unlock()
	assert.Equal(t, "local", req.Profile)
	assert.Equal(t, "status", req.Command)
	assert.Equal(t, console.SourceScheduler, req.Source)
	assert.GreaterOrEqual(t, s.Runs("heartbeat"), 2)
}

func TestPrunePassesRetention(t *testing.T) {
	p := &stubPruner{}
	s := NewScheduler(nil, &stubExecutor{}, p, 72*time.Hour)
	s.prune(context.Background())

	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 72*time.Hour, p.olderThan)
}

func TestNextPruneTime(t *testing.T) {
	loc := time.UTC
	before := time.Date(2026, 3, 1, 2, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 1, 4, 0, 0, 0, loc), nextPruneTime(before, 4))

	after := time.Date(2026, 3, 1, 4, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 2, 4, 0, 0, 0, loc), nextPruneTime(after, 4))
}
