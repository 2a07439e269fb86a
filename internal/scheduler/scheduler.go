// Package scheduler runs periodic tasks, at most one cycle per task at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"regsync/internal/scheduler/metrics"
	"regsync/pkg/cyclecontext"
)

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type task struct {
	Task
	running atomic.Bool
}

// Scheduler starts every task immediately and then on each tick. A tick that
// arrives while the task's previous cycle is still running is skipped.
// Cycles run on a context detached from cancellation: stopping the scheduler
// stops new ticks, and Wait blocks until in-flight cycles finish.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*task
	started bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock overrides the time stamped on each cycle context.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: run func is required", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("task %s: scheduler already started", t.Name)
	}
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return fmt.Errorf("task %s already registered", t.Name)
		}
	}
	s.tasks = append(s.tasks, &task{Task: t})
	return nil
}

// Start launches one ticker loop per task and returns. Loops stop when ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

// Run starts the scheduler, blocks until ctx is cancelled and then waits for
// in-flight cycles. It fits an errgroup alongside the HTTP server.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Wait()
	return nil
}

// Wait blocks until all loops have stopped and every in-flight cycle returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	s.logger.InfoContext(ctx, "scheduler task started", "task", t.Name, "interval", t.Interval)
	s.trigger(ctx, t)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.trigger(ctx, t)
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler task stopping", "task", t.Name)
			return
		}
	}
}

// trigger starts a cycle unless one is already in flight for t.
func (s *Scheduler) trigger(ctx context.Context, t *task) bool {
	if ctx.Err() != nil {
		return false
	}
	if !t.running.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.IncrementSkipped(t.Name)
		}
		s.logger.DebugContext(ctx, "tick skipped, previous cycle still running", "task", t.Name)
		return false
	}

	cycleCtx := context.WithoutCancel(ctx)
	cycleCtx = cyclecontext.WithTime(cycleCtx, s.now())
	cycleCtx = cyclecontext.WithCycleID(cycleCtx, uuid.NewString())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)
		s.runCycle(cycleCtx, t)
	}()
	return true
}

func (s *Scheduler) runCycle(ctx context.Context, t *task) {
	start := time.Now()
	err := safeRun(ctx, t.Run)
	if s.metrics != nil {
		s.metrics.ObserveCycle(t.Name, time.Since(start))
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementErrors(t.Name)
		}
		s.logger.ErrorContext(ctx, "scheduler cycle failed",
			"task", t.Name,
			"cycle_id", cyclecontext.CycleID(ctx),
			"error", err,
		)
	}
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return run(ctx)
}
