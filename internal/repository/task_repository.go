package repository

import (
	"context"
	"errors"

	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/task"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the stored task no longer matches the state a change
	// was computed from.
	ErrConflict = errors.New("conflict")
)

type TaskRepository interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
	SaveTask(ctx context.Context, t *task.Task) error
	// ListTasksByAssignee returns every task assigned to the worker, oldest
	// first. An empty result is not an error.
	ListTasksByAssignee(ctx context.Context, workerID string) ([]*task.Task, error)
	// UpdateTaskProgress writes t's lifecycle fields only if the stored task is
	// still at from, and returns ErrConflict otherwise.
	UpdateTaskProgress(ctx context.Context, t *task.Task, from task.Progress) error
	CountTasksByStatus(ctx context.Context) (map[task.Status]int, error)
	Close() error
}

type WorkerRepository interface {
	GetWorker(ctx context.Context, workerID string) (*models.Worker, error)
	SaveWorker(ctx context.Context, w *models.Worker) error
	ListWorkers(ctx context.Context) ([]models.Worker, error)
}

type LocationHistory interface {
	SaveLocation(ctx context.Context, ping models.LocationPing) error
}
