package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jo-hoe/thumbcaption/internal/backend/metrics"
)

const (
	taskTypeCaption    = "thumbcaption:caption_image"
	defaultQueueName   = "captions"
	defaultTaskTimeout = 10 * time.Minute
)

// AsynqClient abstracts task enqueue operations.
type AsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// AsynqServer abstracts the worker side of asynq.
type AsynqServer interface {
	Start(handler asynq.Handler) error
	Shutdown()
}

var _ AsynqClient = (*asynq.Client)(nil)
var _ AsynqServer = (*asynq.Server)(nil)

type AsynqQueueOptions struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueName     string
	Workers       int
	Tracker       Tracker
	Metrics       *metrics.Metrics
}

// AsynqQueue runs caption jobs through a Redis-backed asynq queue so that
// pending jobs survive a restart of the service.
type AsynqQueue struct {
	handler   Handler
	client    AsynqClient
	server    AsynqServer
	queueName string
	tracker   Tracker
	metrics   *metrics.Metrics
}

func NewAsynqQueue(handler Handler, opts AsynqQueueOptions) *AsynqQueue {
	redisOpt := asynq.RedisClientOpt{Addr: opts.RedisAddr, Password: opts.RedisPassword, DB: opts.RedisDB}
	queueName := opts.QueueName
	if queueName == "" {
		queueName = defaultQueueName
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: workers,
		Queues:      map[string]int{queueName: 1},
	})
	return newAsynqQueue(handler, asynq.NewClient(redisOpt), server, queueName, opts.Tracker, opts.Metrics)
}

func newAsynqQueue(handler Handler, client AsynqClient, server AsynqServer, queueName string, tracker Tracker, m *metrics.Metrics) *AsynqQueue {
	if tracker == nil {
		tracker = NewMemoryTracker()
	}
	return &AsynqQueue{
		handler:   handler,
		client:    client,
		server:    server,
		queueName: queueName,
		tracker:   tracker,
		metrics:   m,
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeCaption, b)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queueName),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(0),
		asynq.Timeout(defaultTaskTimeout),
	)
	if err != nil {
		slog.Warn("failed to enqueue caption task",
			"task_type", taskTypeCaption,
			"job_id", job.ID,
			"image_id", job.ImageID,
			"error", err)
		q.metrics.ObserveCaption("rejected", 0)
		return fmt.Errorf("failed to enqueue caption task: %w", err)
	}
	q.setState(ctx, job, TaskQueued, "")
	return nil
}

func (q *AsynqQueue) Start(_ context.Context) error {
	if q.handler == nil {
		return fmt.Errorf("caption queue has no handler")
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeCaption, q.ProcessTask)
	if err := q.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	slog.Info("caption queue started", "backend", "asynq", "queue", q.queueName)
	return nil
}

// Stop waits for active tasks through asynq's own shutdown timeout; ctx is not consulted.
func (q *AsynqQueue) Stop(_ context.Context) error {
	q.server.Shutdown()
	return q.client.Close()
}

// ProcessTask is the asynq handler for caption tasks.
func (q *AsynqQueue) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("invalid caption task payload: %v: %w", err, asynq.SkipRetry)
	}

	q.setState(ctx, job, TaskRunning, "")
	err := runHandler(ctx, q.handler, job)
	elapsed := time.Since(job.EnqueuedAt)
	if err != nil {
		q.setState(ctx, job, TaskFailed, err.Error())
		q.metrics.ObserveCaption("failed", elapsed)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	q.setState(ctx, job, TaskCompleted, "")
	q.metrics.ObserveCaption("completed", elapsed)
	return nil
}

func (q *AsynqQueue) setState(ctx context.Context, job Job, state TaskState, errMsg string) {
	if err := q.tracker.SetState(context.WithoutCancel(ctx), job, state, errMsg); err != nil {
		slog.Warn("failed to record task state", "job_id", job.ID, "state", state, "error", err)
	}
}

var _ Queue = (*AsynqQueue)(nil)
