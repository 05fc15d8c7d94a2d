// Package worker runs fire-and-forget side effects (delivery marking,
// dead-session cleanup) off the push path with bounded retry.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Config holds queue sizing and retry policy.
type Config struct {
	NumWorkers     int
	QueueSize      int
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	TaskTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		NumWorkers:     4,
		QueueSize:      1024,
		MaxRetries:     3,
		BaseRetryDelay: 100 * time.Millisecond,
		MaxRetryDelay:  5 * time.Second,
		TaskTimeout:    5 * time.Second,
	}
}

// Observer receives task outcomes. metrics.Collector implements it.
type Observer interface {
	TaskDropped(name string)
	TaskFailed(name string)
}

type nopObserver struct{}

func (nopObserver) TaskDropped(string) {}
func (nopObserver) TaskFailed(string) {}

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue is a bounded channel drained by a fixed pool of workers.
type Queue struct {
	config   Config
	log      *slog.Logger
	observer Observer

	tasks  chan task
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
}

func NewQueue(cfg Config, log *slog.Logger, observer Observer) *Queue {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Queue{
		config:   cfg,
		log:      log,
		observer: observer,
		tasks:    make(chan task, cfg.QueueSize),
	}
}

func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue is already running")
	}
	q.running = true

	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.config.NumWorkers; i++ {
		q.wg.Add(1)
		go func(id int) {
			defer q.wg.Done()
			q.run(workerCtx, id)
		}(i + 1)
	}
	q.log.Info("task queue started", slog.Int("workers", q.config.NumWorkers))
	return nil
}

// Submit never blocks. A full or stopped queue drops the task and reports
// false.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		q.log.Warn("task dropped, queue stopped", slog.String("task", name))
		q.observer.TaskDropped(name)
		return false
	}

	select {
	case q.tasks <- task{name: name, fn: fn}:
		return true
	default:
		q.log.Warn("task dropped, queue full", slog.String("task", name))
		q.observer.TaskDropped(name)
		return false
	}
}

// Stop lets workers finish what is already queued, then returns. It gives up
// when ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.log.Info("task queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context, id int) {
	for t := range q.tasks {
		q.process(ctx, id, t)
	}
}

func (q *Queue) process(ctx context.Context, id int, t task) {
	var err error
	for attempt := 0; attempt <= q.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(q.backoff(attempt)):
			case <-ctx.Done():
				q.observer.TaskFailed(t.name)
				return
			}
		}

		err = q.attempt(ctx, t)
		if err == nil {
			return
		}
		q.log.Debug("task attempt failed",
			slog.String("task", t.name),
			slog.Int("worker", id),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}

	q.log.Error("task failed after retries",
		slog.String("task", t.name),
		slog.Int("attempts", q.config.MaxRetries+1),
		slog.Any("error", err),
	)
	q.observer.TaskFailed(t.name)
}

func (q *Queue) attempt(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	taskCtx, cancel := context.WithTimeout(ctx, q.config.TaskTimeout)
	defer cancel()
	return t.fn(taskCtx)
}

// backoff doubles from BaseRetryDelay and caps at MaxRetryDelay.
func (q *Queue) backoff(attempt int) time.Duration {
	d := float64(q.config.BaseRetryDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(q.config.MaxRetryDelay) {
		return q.config.MaxRetryDelay
	}
	return time.Duration(d)
}
