package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	JobStatus   string
	JobPriority int
)

// Job is a unit of background work. Payload values must survive a JSON round
// trip, so numbers come back as float64.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	Priority    JobPriority    `json:"priority"`
	Status      JobStatus      `json:"status"`
	MaxAttempts int            `json:"max_attempts"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

const (
	PriorityLow    JobPriority = 0
	PriorityNormal JobPriority = 5
	PriorityHigh   JobPriority = 10
)

func NewJob(jobType string, payload map[string]any) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		Priority:    PriorityNormal,
		Status:      StatusPending,
		MaxAttempts: 3,
		CreatedAt:   now,
		ScheduledAt: now,
	}
}

// StringPayload returns payload[key] when it is a non-empty string.
func (j *Job) StringPayload(key string) (string, bool) {
	v, ok := j.Payload[key].(string)
	return v, ok && v != ""
}

func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	return string(data), err
}

func JobFromJSON(data string) (*Job, error) {
	var job Job
	err := json.Unmarshal([]byte(data), &job)
	return &job, err
}
