// Package queue provides the in-process asynchronous task queue that
// escalated receipt jobs fall back to.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mizutani/kakeibot/internal/service"
)

// Handler processes one delivered receipt job.
type Handler func(ctx context.Context, job service.ReceiptJob) error

// Queue is a buffered channel fed by fire-and-forget enqueues and
// drained by worker goroutines.
type Queue struct {
	jobs    chan service.ReceiptJob
	handler Handler
	wg      sync.WaitGroup
}

// New creates a queue with the given buffer capacity.
func New(capacity int, handler Handler) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		jobs:    make(chan service.ReceiptJob, capacity),
		handler: handler,
	}
}

// Start launches worker goroutines that drain the queue until ctx is
// cancelled.
func (q *Queue) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					if err := q.handler(ctx, job); err != nil {
						slog.Error("receipt job failed",
							"job_id", job.ID,
							"owner_id", job.OwnerID,
							"error", err)
					}
				}
			}
		}()
	}
}

// EnqueueReceiptJob hands a job to the workers without blocking the
// caller. A full queue drops the job; the user already received the
// interim acknowledgment and can resend the photo.
func (q *Queue) EnqueueReceiptJob(job service.ReceiptJob) {
	select {
	case q.jobs <- job:
	default:
		slog.Error("async queue full, dropping receipt job",
			"job_id", job.ID,
			"owner_id", job.OwnerID)
	}
}

// Wait blocks until every worker has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}
