package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/task"
)

type MockPostgresRepository struct {
	mu                      sync.Mutex
	GetTaskCalls            []string
	SaveTaskCalls           []SaveTaskCall
	ListByAssigneeCalls     []string
	UpdateTaskProgressCalls []UpdateTaskProgressCall
	SaveLocationCalls       []models.LocationPing
	Tasks                   map[string]*task.Task
	TaskOrder               []string
	Workers                 map[string]models.Worker
	GetTaskError            error
	SaveTaskError           error
	ListByAssigneeError     error
	UpdateTaskProgressError error
	CountTasksByStatusError error
	GetWorkerError          error
	ListWorkersError        error
	SaveLocationError       error
}

type SaveTaskCall struct {
	Task *task.Task
}

type UpdateTaskProgressCall struct {
	TaskID       string
	Status       task.Status
	TotalPauseMs int64
}

var (
	_ TaskRepository   = (*MockPostgresRepository)(nil)
	_ WorkerRepository = (*MockPostgresRepository)(nil)
	_ LocationHistory  = (*MockPostgresRepository)(nil)
)

func NewMockPostgresRepository() *MockPostgresRepository {
	return &MockPostgresRepository{
		Tasks:   make(map[string]*task.Task),
		Workers: make(map[string]models.Worker),
	}
}

func (m *MockPostgresRepository) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetTaskCalls = append(m.GetTaskCalls, taskID)

	if m.GetTaskError != nil {
		return nil, m.GetTaskError
	}

	t, exists := m.Tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	return t.Clone(), nil
}

func (m *MockPostgresRepository) SaveTask(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveTaskCalls = append(m.SaveTaskCalls, SaveTaskCall{Task: t})

	if m.SaveTaskError != nil {
		return m.SaveTaskError
	}

	if _, exists := m.Tasks[t.ID]; !exists {
		m.TaskOrder = append(m.TaskOrder, t.ID)
	}
	m.Tasks[t.ID] = t.Clone()
	return nil
}

// ListTasksByAssignee returns tasks in insertion order, mirroring the
// created_at ordering of the real query.
func (m *MockPostgresRepository) ListTasksByAssignee(ctx context.Context, workerID string) ([]*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListByAssigneeCalls = append(m.ListByAssigneeCalls, workerID)

	if m.ListByAssigneeError != nil {
		return nil, m.ListByAssigneeError
	}

	tasks := make([]*task.Task, 0)
	for _, id := range m.TaskOrder {
		if t := m.Tasks[id]; t.AssignedTo == workerID {
			tasks = append(tasks, t.Clone())
		}
	}

	return tasks, nil
}

func (m *MockPostgresRepository) UpdateTaskProgress(ctx context.Context, t *task.Task, from task.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateTaskProgressCalls = append(m.UpdateTaskProgressCalls, UpdateTaskProgressCall{
		TaskID:       t.ID,
		Status:       t.Status,
		TotalPauseMs: t.TotalPauseMs,
	})

	if m.UpdateTaskProgressError != nil {
		return m.UpdateTaskProgressError
	}

	stored, exists := m.Tasks[t.ID]
	if !exists {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	if stored.Status != from.Status || !sameTime(stored.PausedAt, from.PausedAt) {
		return fmt.Errorf("task %s changed since it was read: %w", t.ID, ErrConflict)
	}

	m.Tasks[t.ID] = t.Clone()
	return nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equal(*b)
}

func (m *MockPostgresRepository) CountTasksByStatus(ctx context.Context) (map[task.Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CountTasksByStatusError != nil {
		return nil, m.CountTasksByStatusError
	}

	counts := make(map[task.Status]int)
	for _, t := range m.Tasks {
		counts[t.Status]++
	}

	return counts, nil
}

func (m *MockPostgresRepository) GetWorker(ctx context.Context, workerID string) (*models.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetWorkerError != nil {
		return nil, m.GetWorkerError
	}

	w, exists := m.Workers[workerID]
	if !exists {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
	}

	return &w, nil
}

func (m *MockPostgresRepository) SaveWorker(ctx context.Context, w *models.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Workers[w.ID] = *w
	return nil
}

func (m *MockPostgresRepository) ListWorkers(ctx context.Context) ([]models.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListWorkersError != nil {
		return nil, m.ListWorkersError
	}

	workers := make([]models.Worker, 0, len(m.Workers))
	for _, w := range m.Workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })

	return workers, nil
}

func (m *MockPostgresRepository) SaveLocation(ctx context.Context, ping models.LocationPing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveLocationCalls = append(m.SaveLocationCalls, ping)

	return m.SaveLocationError
}

func (m *MockPostgresRepository) Close() error {
	return nil
}

func (m *MockPostgresRepository) SetListError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListByAssigneeError = err
}

func (m *MockPostgresRepository) GetSaveTaskCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveTaskCalls)
}

func (m *MockPostgresRepository) GetListByAssigneeCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.ListByAssigneeCalls)
}

func (m *MockPostgresRepository) GetUpdateTaskProgressCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.UpdateTaskProgressCalls)
}

func (m *MockPostgresRepository) GetSaveLocationCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveLocationCalls)
}

func (m *MockPostgresRepository) WasTaskSaved(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.Tasks[taskID]
	return exists
}

func (m *MockPostgresRepository) GetTaskStatus(taskID string) (task.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, exists := m.Tasks[taskID]; exists {
		return t.Status, true
	}

	return "", false
}

func (m *MockPostgresRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetTaskCalls = nil
	m.SaveTaskCalls = nil
	m.ListByAssigneeCalls = nil
	m.UpdateTaskProgressCalls = nil
	m.SaveLocationCalls = nil
	m.Tasks = make(map[string]*task.Task)
	m.TaskOrder = nil
	m.Workers = make(map[string]models.Worker)
}
