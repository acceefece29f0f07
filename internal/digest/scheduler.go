// Package digest schedules the periodic earnings digest, one background job
// per worker.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadmax/fieldpay/internal/queue"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/worker/handlers"
	"github.com/robfig/cron/v3"
)

type WorkerLister interface {
	ListWorkers(ctx context.Context) ([]models.Worker, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	workers WorkerLister
	queue   Enqueuer
	timeout time.Duration
}

// NewScheduler parses spec as a standard five-field cron expression.
func NewScheduler(spec string, workers WorkerLister, q Enqueuer) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		workers: workers,
		queue:   q,
		timeout: time.Minute,
	}

	entry, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}
	s.entry = entry

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("digest scheduler started", "next_run", s.NextRun())
}

// Stop halts the schedule and waits for a running enqueue pass, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()

	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("digest scheduler stop timed out")
	}
}

// NextRun is zero until the scheduler has been started.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// EnqueueAll enqueues a digest job for every worker and returns how many were
// queued. It keeps going past individual failures and reports the first one.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	workers, err := s.workers.ListWorkers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workers: %w", err)
	}

	var (
		queued   int
		firstErr error
	)
	for _, w := range workers {
		job := queue.NewJob(handlers.EarningsDigestJob, map[string]any{"worker_id": w.ID})
		job.Priority = queue.PriorityLow

		if err := s.queue.Enqueue(ctx, job); err != nil {
			slog.Error("failed to enqueue digest", "worker_id", w.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}

	return queued, firstErr
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	queued, err := s.EnqueueAll(ctx)
	if err != nil {
		slog.Error("digest run incomplete", "queued", queued, "error", err)
		return
	}

	slog.Info("digest jobs enqueued", "queued", queued)
}
