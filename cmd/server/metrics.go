package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadmax/fieldpay/internal/metrics"
	"github.com/nadmax/fieldpay/internal/task"
)

type taskCounter interface {
	CountTasksByStatus(ctx context.Context) (map[task.Status]int, error)
}

type pendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

func startMetricsCollector(ctx context.Context, tasks taskCounter, jobs pendingCounter, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updateGauges(ctx, tasks, jobs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateGauges(ctx, tasks, jobs)
		}
	}
}

func updateGauges(ctx context.Context, tasks taskCounter, jobs pendingCounter) {
	counts, err := tasks.CountTasksByStatus(ctx)
	if err != nil {
		slog.Warn("failed to count tasks for metrics", "error", err)
	} else {
		metrics.UpdateTaskGauges(counts)
	}

	depth, err := jobs.Pending(ctx)
	if err != nil {
		slog.Warn("failed to read job queue depth", "error", err)
		return
	}
	metrics.UpdateJobQueueDepth(depth)
}
