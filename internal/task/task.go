// Package task defines the assignable work item shared by the repository, the
// dashboard and the background jobs. It contains the status set, the
// start/pause/resume/complete lifecycle and serialization helpers.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	Status string
	Task   struct {
		ID           string     `json:"id"`
		Title        string     `json:"title"`
		Description  string     `json:"description,omitempty"`
		AssignedTo   string     `json:"assigned_to"`
		Status       Status     `json:"status"`
		Price        *float64   `json:"price,omitempty"`
		DueDate      *time.Time `json:"due_date,omitempty"`
		CreatedAt    time.Time  `json:"created_at"`
		StartedAt    *time.Time `json:"started_at,omitempty"`
		PausedAt     *time.Time `json:"paused_at,omitempty"`
		CompletedAt  *time.Time `json:"completed_at,omitempty"`
		TotalPauseMs int64      `json:"total_pause_duration"`
	}
)

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
)

var ErrInvalidTransition = errors.New("invalid task transition")

// Progress is the state a lifecycle transition was applied to. Stores use it
// to reject a write when another transition got there first.
type Progress struct {
	Status   Status
	PausedAt *time.Time
}

func NewTask(title, description, assignedTo string, price *float64, due *time.Time) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		AssignedTo:  assignedTo,
		Status:      StatusPending,
		Price:       price,
		DueDate:     due,
		CreatedAt:   time.Now(),
	}
}

// PriceOrZero treats an absent price as zero.
func (t *Task) PriceOrZero() float64 {
	if t.Price == nil {
		return 0
	}

	return *t.Price
}

func (t *Task) PauseDuration() time.Duration {
	return time.Duration(t.TotalPauseMs) * time.Millisecond
}

// NetDuration is the wall-clock time between start and completion minus the
// accumulated pause. It reports false when either timestamp is missing. The
// result can be negative when the stored pause exceeds the elapsed time.
func (t *Task) NetDuration() (time.Duration, bool) {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0, false
	}

	return t.CompletedAt.Sub(*t.StartedAt) - t.PauseDuration(), true
}

func (t *Task) Progress() Progress {
	return Progress{Status: t.Status, PausedAt: cloneTime(t.PausedAt)}
}

func (t *Task) IsPaused() bool {
	return t.PausedAt != nil
}

func (t *Task) Start(now time.Time) error {
	if t.Status != StatusPending {
		return t.transitionError("start")
	}

	t.Status = StatusInProgress
	t.StartedAt = &now
	return nil
}

func (t *Task) Pause(now time.Time) error {
	if t.Status != StatusInProgress || t.IsPaused() {
		return t.transitionError("pause")
	}

	t.PausedAt = &now
	return nil
}

func (t *Task) Resume(now time.Time) error {
	if t.Status != StatusInProgress || !t.IsPaused() {
		return t.transitionError("resume")
	}

	t.foldPause(now)
	return nil
}

func (t *Task) Complete(now time.Time) error {
	if t.Status != StatusInProgress {
		return t.transitionError("complete")
	}

	if t.IsPaused() {
		t.foldPause(now)
	}

	t.Status = StatusCompleted
	t.CompletedAt = &now
	return nil
}

func (t *Task) foldPause(now time.Time) {
	if paused := now.Sub(*t.PausedAt); paused > 0 {
		t.TotalPauseMs += paused.Milliseconds()
	}
	t.PausedAt = nil
}

func (t *Task) transitionError(action string) error {
	state := string(t.Status)
	if t.IsPaused() {
		state += " (paused)"
	}

	return fmt.Errorf("%w: cannot %s task %s in status %q", ErrInvalidTransition, action, t.ID, state)
}

// Clone returns a deep copy so callers can hold a task without sharing
// pointers with the source record.
func (t *Task) Clone() *Task {
	c := *t
	c.Price = cloneFloat(t.Price)
	c.DueDate = cloneTime(t.DueDate)
	c.StartedAt = cloneTime(t.StartedAt)
	c.PausedAt = cloneTime(t.PausedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func TaskFromJSON(data string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, err
	}

	return &t, nil
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
