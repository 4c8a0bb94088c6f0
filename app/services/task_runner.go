package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/Kagutsuchi/config"
	"go.uber.org/zap"
)

// Task outcomes recorded in TasksProcessed
const (
	TaskOutcomeOK      = "ok"
	TaskOutcomeFailed  = "failed"
	TaskOutcomeDropped = "dropped"
)

// TaskFunc is a best-effort side effect
type TaskFunc func(ctx context.Context) error

// TaskRunner runs side effects off the request path. Failures are logged
// and counted but never reported to the caller.
type TaskRunner interface {
	// Enqueue returns false when the queue is full or the runner stopped
	Enqueue(name string, fn TaskFunc) bool
}

type task struct {
	name string
	fn   TaskFunc
}

// WorkerTaskRunner is a bounded queue drained by a fixed worker pool
type WorkerTaskRunner struct {
	queue   chan task
	workers int
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewTaskRunner(cfg config.TasksConfig, logger *zap.Logger) *WorkerTaskRunner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WorkerTaskRunner{
		queue:   make(chan task, size),
		workers: workers,
		timeout: timeout,
		logger:  logger.Named("tasks"),
	}
}

// Start launches the workers. The returned func stops intake and waits
// for queued tasks to drain.
func (r *WorkerTaskRunner) Start(ctx context.Context) func() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.work(ctx)
	}
	r.logger.Info("Task runner started", zap.Int("workers", r.workers), zap.Int("queue_size", cap(r.queue)))

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.stopped = true
			close(r.queue)
			r.mu.Unlock()
			r.wg.Wait()
			r.logger.Info("Task runner stopped")
		})
	}
}

func (r *WorkerTaskRunner) Enqueue(name string, fn TaskFunc) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		TasksProcessed.WithLabelValues(name, TaskOutcomeDropped).Inc()
		return false
	}
	select {
	case r.queue <- task{name: name, fn: fn}:
		return true
	default:
		TasksProcessed.WithLabelValues(name, TaskOutcomeDropped).Inc()
		r.logger.Warn("Task queue full, dropping task", zap.String("task", name))
		return false
	}
}

func (r *WorkerTaskRunner) work(ctx context.Context) {
	defer r.wg.Done()
	for t := range r.queue {
		r.run(ctx, t)
	}
}

func (r *WorkerTaskRunner) run(parent context.Context, t task) {
	// queued tasks still drain after the parent is cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return t.fn(ctx)
	}()
	if err != nil {
		TasksProcessed.WithLabelValues(t.name, TaskOutcomeFailed).Inc()
		r.logger.Warn("Background task failed", zap.String("task", t.name), zap.Error(err))
		return
	}
	TasksProcessed.WithLabelValues(t.name, TaskOutcomeOK).Inc()
}

// InlineTaskRunner runs tasks synchronously; used in tests
type InlineTaskRunner struct {
	Logger *zap.Logger
}

func (r InlineTaskRunner) Enqueue(name string, fn TaskFunc) bool {
	if err := fn(context.Background()); err != nil && r.Logger != nil {
		r.Logger.Warn("Background task failed", zap.String("task", name), zap.Error(err))
	}
	return true
}
