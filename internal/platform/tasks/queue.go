package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zyphon_background_tasks_total",
			Help: "Background tasks by name and outcome",
		},
		[]string{"task", "outcome"},
	)
)

// Func is one unit of background work.
type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

// Queue runs side effects off the request path. Submit never blocks; a full
// queue drops the task and says so in the log. Failures are logged and counted.
type Queue struct {
	ch      chan task
	timeout time.Duration
	logger  zerolog.Logger

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewQueue(size, workers int, timeout time.Duration, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := &Queue{
		ch:      make(chan task, size),
		timeout: timeout,
		logger:  logger.With().Str("component", "tasks").Logger(),
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.drain()
	}
	return q
}

// Submit enqueues fn. It reports false when the task was dropped.
func (q *Queue) Submit(name string, fn Func) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn().Str("task", name).Msg("queue closed, dropping task")
		tasksTotal.WithLabelValues(name, "dropped").Inc()
		return false
	}

	select {
	case q.ch <- task{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn().Str("task", name).Msg("queue full, dropping task")
		tasksTotal.WithLabelValues(name, "dropped").Inc()
		return false
	}
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for t := range q.ch {
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Str("task", t.name).Interface("panic", r).Msg("background task panicked")
			tasksTotal.WithLabelValues(t.name, "failed").Inc()
		}
	}()

	// background work outlives the request that queued it
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	if err := t.fn(ctx); err != nil {
		q.logger.Error().Err(err).Str("task", t.name).Msg("background task failed")
		tasksTotal.WithLabelValues(t.name, "failed").Inc()
		return
	}
	tasksTotal.WithLabelValues(t.name, "ok").Inc()
}

// Close stops accepting tasks and waits until queued ones have run.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
	q.wg.Wait()
}
