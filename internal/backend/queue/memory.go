package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/thumbcaption/internal/backend/metrics"
)

const (
	defaultWorkerCount = 2
	defaultCapacity    = 64
)

type MemoryQueueOptions struct {
	Workers  int
	Capacity int
	Tracker  Tracker
	Metrics  *metrics.Metrics
}

// MemoryQueue is a bounded in-process queue drained by a fixed worker pool.
type MemoryQueue struct {
	handler Handler
	workers int
	tracker Tracker
	metrics *metrics.Metrics

	mu      sync.RWMutex
	jobs    chan Job
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMemoryQueue(handler Handler, opts MemoryQueueOptions) *MemoryQueue {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewMemoryTracker()
	}
	return &MemoryQueue{
		handler: handler,
		workers: workers,
		tracker: tracker,
		metrics: opts.Metrics,
		jobs:    make(chan Job, capacity),
	}
}

// Enqueue adds job without blocking. It fails with ErrQueueFull when every
// slot is taken and with ErrQueueClosed after Stop.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.setState(ctx, job, TaskQueued, "")
	select {
	case q.jobs <- job:
		q.metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		q.setState(ctx, job, TaskFailed, ErrQueueFull.Error())
		q.metrics.ObserveCaption("rejected", 0)
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Start(parent context.Context) error {
	if q.handler == nil {
		return fmt.Errorf("caption queue has no handler")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return nil
	}

	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.started = true

	go q.run(ctx, q.done)
	slog.Info("caption queue started", "backend", "memory", "workers", q.workers, "capacity", cap(q.jobs))
	return nil
}

// Stop rejects new jobs and waits for queued and in-flight jobs to finish.
// When ctx expires first, the handler context is canceled and Stop still waits
// for the workers to finish the remaining jobs with it before returning ctx.Err().
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (q *MemoryQueue) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		workerID := i + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range q.jobs {
				q.metrics.SetQueueDepth(len(q.jobs))
				q.process(ctx, workerID, job)
			}
		}()
	}
	wg.Wait()
}

func (q *MemoryQueue) process(ctx context.Context, workerID int, job Job) {
	q.setState(ctx, job, TaskRunning, "")

	err := runHandler(ctx, q.handler, job)
	elapsed := time.Since(job.EnqueuedAt)
	if err != nil {
		slog.Warn("caption job failed", "worker_id", workerID, "job_id", job.ID, "image_id", job.ImageID, "error", err)
		q.setState(ctx, job, TaskFailed, err.Error())
		q.metrics.ObserveCaption("failed", elapsed)
		return
	}
	q.setState(ctx, job, TaskCompleted, "")
	q.metrics.ObserveCaption("completed", elapsed)
}

func (q *MemoryQueue) setState(ctx context.Context, job Job, state TaskState, errMsg string) {
	if err := q.tracker.SetState(context.WithoutCancel(ctx), job, state, errMsg); err != nil {
		slog.Warn("failed to record task state", "job_id", job.ID, "state", state, "error", err)
	}
}

// runHandler invokes handler and converts a panic into an error.
func runHandler(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("caption handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

var _ Queue = (*MemoryQueue)(nil)
