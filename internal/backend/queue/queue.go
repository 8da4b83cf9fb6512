// Package queue runs caption jobs in the background and records the lifecycle
// of every job in a Tracker.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when a bounded queue has no free slot.
	ErrQueueFull = errors.New("caption queue is full")
	// ErrQueueClosed is returned when a job is enqueued after Stop.
	ErrQueueClosed = errors.New("caption queue is closed")
)

// Job asks for the caption of a single stored image.
type Job struct {
	ID         string    `json:"id"`
	ImageID    int64     `json:"image_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job with a fresh id for the given image.
func NewJob(imageID int64) Job {
	return Job{
		ID:         uuid.NewString(),
		ImageID:    imageID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Handler processes one job. A returned error marks the job failed; jobs are never retried.
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs and runs them on background workers.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
