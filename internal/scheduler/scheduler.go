// Package scheduler runs the periodic sweeps of the chat core.
// Every task gets its own ticker; all of them stop when the run context ends.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TaskFunc is one execution of a periodic task.
type TaskFunc func(ctx context.Context)

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler owns a set of periodic tasks.
type Scheduler struct {
	logger zerolog.Logger

	mu      sync.Mutex
	tasks   []task
	running bool
}

// New creates an empty scheduler.
func New(logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Every registers fn to run once per interval. It must be called before Run.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("task %q: scheduler already running", name)
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
	return nil
}

// Run blocks until ctx is cancelled. All tickers are stopped before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	tasks := append([]task(nil), s.tasks...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			s.loop(gctx, t)
			return nil
		})
	}
	s.logger.Debug().Int("tasks", len(tasks)).Msg("scheduler started")
	err := g.Wait()
	s.logger.Debug().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		}
	}
}

// runOnce executes a task and keeps a panic from taking the loop down.
func (s *Scheduler) runOnce(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", t.name).
				Interface("panic", r).
				Msg("periodic task panicked, will retry on next tick")
		}
	}()
	t.fn(ctx)
}
