// Package scheduler runs configured RCON commands on fixed intervals and
// prunes command history once a day.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/console"
	"github.com/energizer-project/rconctl/internal/util"
)

// DefaultPruneHour is the local hour at which history is pruned.
const DefaultPruneHour = 4

// Pruner deletes history older than a given age. *db.HistoryStore
// satisfies it.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

type job struct {
	name     string
	profile  string
	command  string
	interval time.Duration
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	executor  console.Executor
	pruner    Pruner
	retention time.Duration
	jobs      []job
	logger    zerolog.Logger

	mu   sync.Mutex
	runs map[string]int
}

// NewScheduler creates a scheduler for the enabled schedules. pruner may
// be nil, and a retention of zero disables pruning.
func NewScheduler(schedules []config.ScheduleConfig, executor console.Executor, pruner Pruner, retention time.Duration) *Scheduler {
	s := &Scheduler{
		executor:  executor,
		pruner:    pruner,
		retention: retention,
		logger:    util.ComponentLogger("scheduler"),
		runs:      make(map[string]int),
	}
	for _, sc := range schedules {
		if !sc.Enabled || sc.Interval() <= 0 {
			continue
		}
		name := sc.Name
		if name == "" {
			name = sc.Profile + ":" + sc.Command
		}
		s.jobs = append(s.jobs, job{
			name:     name,
			profile:  sc.Profile,
			command:  sc.Command,
			interval: sc.Interval(),
		})
	}
	return s
}

// Start runs every job and the prune loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")

	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runJobLoop(ctx, j)
		}()
	}

	if s.pruner != nil && s.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runPruneLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// runJobLoop fires j every interval. A run that overlaps the next tick
// delays it rather than running twice at once.
func (s *Scheduler) runJobLoop(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	res, err := s.executor.Run(ctx, console.Request{
		Profile: j.profile,
		Command: j.command,
		Source:  console.SourceScheduler,
	})

	s.mu.Lock()
	s.runs[j.name]++
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("schedule", j.name).Msg("scheduled command failed")
		return
	}
	s.logger.Debug().
		Str("schedule", j.name).
		Dur("duration", res.Duration).
		Msg("scheduled command executed")
}

// Runs reports how many times the named schedule has fired.
func (s *Scheduler) Runs(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name]
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		nextRun := nextPruneTime(time.Now(), DefaultPruneHour)
		s.logger.Debug().Time("next_run", nextRun).Msg("history prune scheduled")

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.prune(ctx)
		}
	}
}

func (s *Scheduler) prune(ctx context.Context) {
	n, err := s.pruner.Prune(ctx, s.retention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history prune failed")
		return
	}
	s.logger.Info().Int64("removed", n).Msg("history prune completed")
}

// nextPruneTime returns the next occurrence of hour:00 strictly after now.
func nextPruneTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
