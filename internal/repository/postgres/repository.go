// Package postgres provides PostgreSQL-backed implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/fieldpay/internal/repository"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/task"
)

//go:embed schema.sql
var schema string

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Repository struct {
	db *sql.DB
}

var (
	_ repository.TaskRepository   = (*Repository)(nil)
	_ repository.WorkerRepository = (*Repository)(nil)
	_ repository.LocationHistory  = (*Repository)(nil)
)

func NewRepository(connectionString string, opts Options) (*Repository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return &Repository{db: db}, nil
}

// NewFromDB wraps an existing handle. Used by tests and by callers that
// manage their own pool.
func NewFromDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return nil
}

const taskColumns = `
	task_id, title, description, assigned_to, status,
	price, due_date, created_at, started_at, paused_at,
	completed_at, total_pause_duration`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var assignedTo sql.NullString
	var price sql.NullFloat64
	var dueDate, startedAt, pausedAt, completedAt sql.NullTime
	var status string

	if err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&assignedTo,
		&status,
		&price,
		&dueDate,
		&t.CreatedAt,
		&startedAt,
		&pausedAt,
		&completedAt,
		&t.TotalPauseMs,
	); err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.AssignedTo = assignedTo.String
	if price.Valid {
		t.Price = &price.Float64
	}
	t.DueDate = timePtr(dueDate)
	t.StartedAt = timePtr(startedAt)
	t.PausedAt = timePtr(pausedAt)
	t.CompletedAt = timePtr(completedAt)

	return &t, nil
}

func (r *Repository) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE task_id = $1
	`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (r *Repository) SaveTask(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (
			task_id, title, description, assigned_to, status,
			price, due_date, created_at, started_at, paused_at,
			completed_at, total_pause_duration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (task_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			assigned_to = EXCLUDED.assigned_to,
			status = EXCLUDED.status,
			price = EXCLUDED.price,
			due_date = EXCLUDED.due_date
	`

	var assignedTo any
	if t.AssignedTo != "" {
		assignedTo = t.AssignedTo
	}

	var price any
	if t.Price != nil {
		price = *t.Price
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		t.ID,
		t.Title,
		t.Description,
		assignedTo,
		string(t.Status),
		price,
		nullTime(t.DueDate),
		t.CreatedAt,
		nullTime(t.StartedAt),
		nullTime(t.PausedAt),
		nullTime(t.CompletedAt),
		t.TotalPauseMs,
	)

	return err
}

func (r *Repository) ListTasksByAssignee(ctx context.Context, workerID string) ([]*task.Task, error) {
	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE assigned_to = $1
		ORDER BY created_at ASC, task_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, workerID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", "error", err)
		}
	}()

	tasks := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

func (r *Repository) UpdateTaskProgress(ctx context.Context, t *task.Task, from task.Progress) error {
	query := `
		UPDATE tasks
		SET status = $1,
		    started_at = $2,
		    paused_at = $3,
		    completed_at = $4,
		    total_pause_duration = $5
		WHERE task_id = $6
		  AND status = $7
		  AND paused_at IS NOT DISTINCT FROM $8
	`

	res, err := r.db.ExecContext(
		ctx,
		query,
		string(t.Status),
		nullTime(t.StartedAt),
		nullTime(t.PausedAt),
		nullTime(t.CompletedAt),
		t.TotalPauseMs,
		t.ID,
		string(from.Status),
		nullTime(from.PausedAt),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE task_id = $1)`, t.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("task %s: %w", t.ID, repository.ErrNotFound)
	}

	return fmt.Errorf("task %s changed since it was read: %w", t.ID, repository.ErrConflict)
}

func (r *Repository) CountTasksByStatus(ctx context.Context) (map[task.Status]int, error) {
	query := `
		SELECT status, COUNT(*) AS count
		FROM tasks
		GROUP BY status
		ORDER BY status
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", "error", err)
		}
	}()

	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		counts[task.Status(status)] = count
	}

	return counts, rows.Err()
}

func (r *Repository) GetWorker(ctx context.Context, workerID string) (*models.Worker, error) {
	query := `
		SELECT worker_id, full_name, email
		FROM workers
		WHERE worker_id = $1
	`

	var w models.Worker
	err := r.db.QueryRowContext(ctx, query, workerID).Scan(&w.ID, &w.FullName, &w.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %s: %w", workerID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &w, nil
}

func (r *Repository) SaveWorker(ctx context.Context, w *models.Worker) error {
	query := `
		INSERT INTO workers (worker_id, full_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (worker_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email
	`
	_, err := r.db.ExecContext(ctx, query, w.ID, w.FullName, w.Email)

	return err
}

func (r *Repository) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	query := `
		SELECT worker_id, full_name, email
		FROM workers
		ORDER BY worker_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", "error", err)
		}
	}()

	var workers []models.Worker
	for rows.Next() {
		var w models.Worker
		if err := rows.Scan(&w.ID, &w.FullName, &w.Email); err != nil {
			return nil, err
		}

		workers = append(workers, w)
	}

	return workers, rows.Err()
}

func (r *Repository) SaveLocation(ctx context.Context, ping models.LocationPing) error {
	query := `
		INSERT INTO location_history (
			worker_id, latitude, longitude, accuracy, recorded_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	var accuracy any
	if ping.Accuracy > 0 {
		accuracy = ping.Accuracy
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		ping.WorkerID,
		ping.Latitude,
		ping.Longitude,
		accuracy,
		ping.RecordedAt,
	)

	return err
}

func (r *Repository) DB() *sql.DB {
	return r.db
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	v := t.Time
	return &v
}
