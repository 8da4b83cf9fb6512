package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TaskState is the lifecycle state of a job.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

const (
	taskMetaPrefix    = "thumbcaption:task-meta-"
	defaultTrackerTTL = 7 * 24 * time.Hour
)

// TaskStatus is the last recorded state of a job.
type TaskStatus struct {
	JobID     string    `json:"job_id"`
	ImageID   int64     `json:"image_id"`
	State     TaskState `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker persists job states.
type Tracker interface {
	SetState(ctx context.Context, job Job, state TaskState, errMsg string) error
	GetState(ctx context.Context, jobID string) (*TaskStatus, bool, error)
}

func newTaskStatus(job Job, state TaskState, errMsg string) TaskStatus {
	return TaskStatus{
		JobID:     job.ID,
		ImageID:   job.ImageID,
		State:     state,
		Error:     errMsg,
		UpdatedAt: time.Now().UTC(),
	}
}

func logTaskState(rec TaskStatus) {
	attrs := []any{"job_id", rec.JobID, "image_id", rec.ImageID, "state", rec.State}
	if rec.Error != "" {
		attrs = append(attrs, "error", rec.Error)
	}
	switch rec.State {
	case TaskFailed:
		slog.Error("task state updated", attrs...)
	case TaskRunning:
		slog.Debug("task state updated", attrs...)
	default:
		slog.Info("task state updated", attrs...)
	}
}

// MemoryTracker keeps job states in process memory.
type MemoryTracker struct {
	mu     sync.RWMutex
	states map[string]TaskStatus
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{states: make(map[string]TaskStatus)}
}

func (t *MemoryTracker) SetState(_ context.Context, job Job, state TaskState, errMsg string) error {
	rec := newTaskStatus(job, state, errMsg)
	t.mu.Lock()
	t.states[job.ID] = rec
	t.mu.Unlock()
	logTaskState(rec)
	return nil
}

func (t *MemoryTracker) GetState(_ context.Context, jobID string) (*TaskStatus, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.states[jobID]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

// RedisClient abstracts the Redis operations used by RedisTracker.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisTracker stores job states as JSON documents with a TTL.
type RedisTracker struct {
	rdb RedisClient
	ttl time.Duration
}

func NewRedisTracker(rdb RedisClient, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = defaultTrackerTTL
	}
	return &RedisTracker{rdb: rdb, ttl: ttl}
}

func (t *RedisTracker) SetState(ctx context.Context, job Job, state TaskState, errMsg string) error {
	rec := newTaskStatus(job, state, errMsg)
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := t.rdb.Set(ctx, taskMetaPrefix+job.ID, b, t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist task state: %w", err)
	}
	logTaskState(rec)
	return nil
}

func (t *RedisTracker) GetState(ctx context.Context, jobID string) (*TaskStatus, bool, error) {
	raw, err := t.rdb.Get(ctx, taskMetaPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec TaskStatus
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("invalid task state for %s: %w", jobID, err)
	}
	return &rec, true, nil
}
