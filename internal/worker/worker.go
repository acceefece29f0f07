// Package worker provides the background job processor that consumes and executes jobs from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadmax/fieldpay/internal/metrics"
	"github.com/nadmax/fieldpay/internal/queue"
)

type Handler func(ctx context.Context, job *queue.Job) error

// Queue is the subset of *queue.Queue the worker consumes.
type Queue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
	Dequeue(ctx context.Context) (*queue.Job, error)
	UpdateJob(ctx context.Context, job *queue.Job) error
}

type Worker struct {
	id           string
	queue        Queue
	handlers     map[string]Handler
	pollInterval time.Duration
	retryDelay   func(attempt int) time.Duration
}

func NewWorker(id string, q Queue) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		handlers:     make(map[string]Handler),
		pollInterval: time.Second,
		retryDelay:   linearBackoff,
	}
}

func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 10 * time.Second
}

func (w *Worker) RegisterHandler(jobType string, handler Handler) {
	w.handlers[jobType] = handler
}

func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Start consumes jobs until ctx is cancelled. A job already running when ctx
// ends is allowed to finish its bookkeeping.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("worker started", "worker_id", w.id, "poll_interval", w.pollInterval)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("failed to dequeue job", "worker_id", w.id, "error", err)
		}

		if job != nil {
			w.processJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "worker_id", w.id)
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	log := slog.With("worker_id", w.id, "job_id", job.ID, "job_type", job.Type)
	log.Info("processing job", "attempt", job.Attempts+1)

	// Bookkeeping must land even if the worker is shutting down.
	storeCtx := context.WithoutCancel(ctx)

	now := time.Now()
	job.Status = queue.StatusRunning
	job.StartedAt = &now
	if err := w.queue.UpdateJob(storeCtx, job); err != nil {
		log.Warn("failed to mark job running", "error", err)
	}

	handler, exists := w.handlers[job.Type]
	if !exists {
		job.Status = queue.StatusFailed
		job.Error = fmt.Sprintf("no handler for job type: %s", job.Type)
		if err := w.queue.UpdateJob(storeCtx, job); err != nil {
			log.Warn("failed to update job", "error", err)
		}
		metrics.RecordJob(job.Type, 0, errors.New(job.Error))
		log.Error("job has no handler")
		return
	}

	err := handler(ctx, job)
	completedAt := time.Now()
	job.CompletedAt = &completedAt
	job.Attempts++
	metrics.RecordJob(job.Type, completedAt.Sub(now), err)

	if err == nil {
		job.Status = queue.StatusCompleted
		job.Error = ""
		if err := w.queue.UpdateJob(storeCtx, job); err != nil {
			log.Warn("failed to update completed job", "error", err)
		}
		log.Info("job completed", "duration", completedAt.Sub(now))
		return
	}

	job.Error = err.Error()
	if job.Attempts < job.MaxAttempts {
		job.Status = queue.StatusPending
		job.ScheduledAt = completedAt.Add(w.retryDelay(job.Attempts))
		if err := w.queue.Enqueue(storeCtx, job); err != nil {
			log.Error("failed to re-enqueue job", "error", err)
		}
		log.Warn("job failed, will retry",
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"retry_at", job.ScheduledAt,
			"error", err,
		)
		return
	}

	job.Status = queue.StatusFailed
	if err := w.queue.UpdateJob(storeCtx, job); err != nil {
		log.Warn("failed to update failed job", "error", err)
	}
	log.Error("job failed permanently", "attempts", job.Attempts, "error", err)
}
