// Package stats computes a worker's dashboard summary from their task records.
package stats

import (
	"math"

	"github.com/nadmax/fieldpay/internal/task"
)

type Summary struct {
	TotalEarnings         float64    `json:"total_earnings"`
	CompletedTasks        int        `json:"completed_tasks"`
	ActiveTask            *task.Task `json:"active_task"`
	AverageCompletionTime float64    `json:"average_completion_time"`
	NegativeDurations     int        `json:"negative_durations,omitempty"`
}

// ComputeSummary aggregates tasks in a single pass. The active task is the
// first In Progress record in input order. Net durations below zero are kept
// in the average and counted in NegativeDurations.
func ComputeSummary(tasks []*task.Task) Summary {
	var (
		s        Summary
		hours    float64
		eligible int
	)

	for _, t := range tasks {
		if t == nil {
			continue
		}

		if s.ActiveTask == nil && t.Status == task.StatusInProgress {
			s.ActiveTask = t.Clone()
		}

		if t.Status != task.StatusCompleted {
			continue
		}

		s.CompletedTasks++
		s.TotalEarnings += t.PriceOrZero()

		net, ok := t.NetDuration()
		if !ok {
			continue
		}
		if net < 0 {
			s.NegativeDurations++
		}

		hours += net.Hours()
		eligible++
	}

	if eligible > 0 {
		s.AverageCompletionTime = roundTenth(hours / float64(eligible))
	}

	return s
}

// roundTenth rounds half up, so -0.05 becomes 0 rather than -0.1.
func roundTenth(v float64) float64 {
	r := math.Floor(v*10+0.5) / 10
	if r == 0 {
		return 0
	}

	return r
}
