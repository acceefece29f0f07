// Package dashboard serves a worker's earnings dashboard: it fetches the
// worker's tasks, summarizes them and keeps location tracking running while a
// live view is open.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nadmax/fieldpay/internal/currency"
	"github.com/nadmax/fieldpay/internal/location"
	"github.com/nadmax/fieldpay/internal/metrics"
	"github.com/nadmax/fieldpay/internal/stats"
	"github.com/nadmax/fieldpay/internal/task"
)

var (
	ErrFetchFailed = errors.New("failed to fetch tasks")
	ErrNoWorker    = errors.New("no signed-in worker")
)

type TaskLister interface {
	ListTasksByAssignee(ctx context.Context, workerID string) ([]*task.Task, error)
}

type Service struct {
	tasks          TaskLister
	tracker        *location.Tracker
	currencySymbol string
}

// NewService wires the dashboard. tracker may be nil, in which case
// activations run without location tracking.
func NewService(tasks TaskLister, tracker *location.Tracker, currencySymbol string) *Service {
	if currencySymbol == "" {
		currencySymbol = currency.DefaultSymbol
	}

	return &Service{
		tasks:          tasks,
		tracker:        tracker,
		currencySymbol: currencySymbol,
	}
}

// Load fetches the worker's tasks and summarizes them. When the fetch fails
// the summary is not computed and the error wraps ErrFetchFailed.
func (s *Service) Load(ctx context.Context, workerID string) (stats.Summary, error) {
	if workerID == "" {
		return stats.Summary{}, ErrNoWorker
	}

	tasks, err := s.tasks.ListTasksByAssignee(ctx, workerID)
	if err != nil {
		slog.Error("failed to fetch worker tasks", "worker_id", workerID, "error", err)
		metrics.RecordDashboardLoad(false)
		return stats.Summary{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	summary := stats.ComputeSummary(tasks)
	if summary.NegativeDurations > 0 {
		slog.Warn("completed tasks with pause longer than elapsed time",
			"worker_id", workerID,
			"count", summary.NegativeDurations,
		)
	}

	metrics.RecordNegativeDurations(summary.NegativeDurations)
	metrics.RecordDashboardLoad(true)

	return summary, nil
}
