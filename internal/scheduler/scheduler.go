// Package scheduler runs the engine's independent cadences (spec §4.E):
// ping sweeps, SNMP counter polls, interface discovery,
// alert evaluation, interface summary rollups, baseline learning,
// anomaly checks, and housekeeping, each on its own ticker. Grounded
// on the teacher's cmd/netscan/main.go discoveryTicker/select loop,
// generalized from two hardcoded tickers to a registered task list.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/branchwatch/branchwatch/internal/logger"
)

// TaskFunc is one scheduled unit of work. A returned error is logged
// but never stops the cadence — a bad tick is skipped, not fatal.
type TaskFunc func(ctx context.Context) error

// task pairs a named cadence with its tick interval and work function.
type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler owns one ticker goroutine per registered task.
type Scheduler struct {
	mu    sync.Mutex
	tasks []task
	log   zerolog.Logger
}

// New builds an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{log: logger.Component("scheduler")}
}

// Register adds a cadence. Register must be called before Run; tasks
// added after Run has started are not picked up.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
}

// Run starts every registered cadence and blocks until ctx is
// cancelled, at which point all ticker goroutines stop and Run
// returns.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go s.runCadence(ctx, &wg, t)
	}
	wg.Wait()
}

func (s *Scheduler) runCadence(ctx context.Context, wg *sync.WaitGroup, t task) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("task", t.name).Msg("scheduler task panic recovered")
		}
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("task", t.name).Msg("task tick panic recovered")
		}
	}()

	start := time.Now()
	if err := t.fn(ctx); err != nil {
		s.log.Error().Err(err).Str("task", t.name).Dur("elapsed", time.Since(start)).Msg("scheduled task failed")
		return
	}
	s.log.Debug().Str("task", t.name).Dur("elapsed", time.Since(start)).Msg("scheduled task completed")
}
