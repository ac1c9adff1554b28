package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RegisteredTask is one fixed-delay task: Fn runs on the shared pool, and
// the next run is timed IntervalMs after the previous run returned, so
// runs of the same task never overlap.
type RegisteredTask struct {
	ID         string
	IntervalMs int
	Fn         func(ctx context.Context) error
}

// Scheduler drives a registry of fixed-delay tasks (one Scan and one
// Monitor per strategy engine, per §4.9's declared cadences) on top of a
// bounded worker pool.
type Scheduler struct {
	logger *zap.Logger
	pool   *Pool

	mu      sync.Mutex
	tasks   map[string]*RegisteredTask
	cancels map[string]context.CancelFunc
	running sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New builds a Scheduler backed by a fresh Pool sized by config (nil uses
// DefaultPoolConfig("scheduler")).
func New(logger *zap.Logger, config *PoolConfig) *Scheduler {
	if config == nil {
		config = DefaultPoolConfig("scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  logger.Named("scheduler"),
		pool:    NewPool(logger, config),
		tasks:   make(map[string]*RegisteredTask),
		cancels: make(map[string]context.CancelFunc),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Register adds a fixed-delay task. Registering after Start schedules the
// task immediately; the task ID must be unique.
func (s *Scheduler) Register(task RegisteredTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.IntervalMs <= 0 {
		return fmt.Errorf("scheduler: task %s has non-positive interval", task.ID)
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("scheduler: task %s already registered", task.ID)
	}
	s.tasks[task.ID] = &task

	if s.pool.IsRunning() {
		s.scheduleLocked(&task)
	}
	return nil
}

// Start starts the underlying pool and begins ticking every registered task.
func (s *Scheduler) Start() {
	s.pool.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		s.scheduleLocked(task)
	}
}

func (s *Scheduler) scheduleLocked(task *RegisteredTask) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[task.ID] = cancel
	s.running.Add(1)
	go s.tick(ctx, task)
}

func (s *Scheduler) tick(ctx context.Context, task *RegisteredTask) {
	defer s.running.Done()

	interval := time.Duration(task.IntervalMs) * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()

	var inFlight sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !inFlight.TryLock() {
				s.logger.Debug("tick skipped, previous run still in flight", zap.String("task", task.ID))
				continue
			}
			taskID, fn := task.ID, task.Fn
			if err := s.pool.SubmitFunc(func() error {
				defer func() {
					inFlight.Unlock()
					timer.Reset(interval)
				}()
				runErr := fn(ctx)
				if runErr != nil {
					s.logger.Warn("scheduled task failed", zap.String("task", taskID), zap.Error(runErr))
				}
				return runErr
			}); err != nil {
				inFlight.Unlock()
				timer.Reset(interval)
				s.logger.Warn("scheduled task dropped, pool saturated", zap.String("task", taskID), zap.Error(err))
			}
		}
	}
}

// Stop cancels every task's ticker loop, then stops the underlying pool.
func (s *Scheduler) Stop() error {
	s.cancel()
	s.running.Wait()
	return s.pool.Stop()
}

// Stats returns the underlying pool's statistics.
func (s *Scheduler) Stats() PoolStats {
	return s.pool.Stats()
}

// CadenceSource is implemented by anything the Scheduler can register,
// e.g. a strategy engine exposing its Scan/Monitor tick intervals.
type CadenceSource interface {
	Cadence() (scan, monitor time.Duration)
}

// RegisterEngine registers both the Scan and Monitor tasks for one
// strategy engine using its declared cadence. scan/monitor intervals of
// zero (e.g. a guided engine with no autonomous scan loop) are skipped.
func RegisterEngine(s *Scheduler, strategyCode string, engine interface {
	CadenceSource
	Scan(ctx context.Context) error
	Monitor(ctx context.Context) error
}) error {
	scan, monitor := engine.Cadence()
	if scan > 0 {
		if err := s.Register(RegisteredTask{
			ID:         strategyCode + ":scan",
			IntervalMs: int(scan.Milliseconds()),
			Fn:         engine.Scan,
		}); err != nil {
			return err
		}
	}
	if monitor > 0 {
		if err := s.Register(RegisteredTask{
			ID:         strategyCode + ":monitor",
			IntervalMs: int(monitor.Milliseconds()),
			Fn:         engine.Monitor,
		}); err != nil {
			return err
		}
	}
	return nil
}
