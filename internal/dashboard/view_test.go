package dashboard

import (
	"testing"

	"github.com/nadmax/fieldpay/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewView_Empty(t *testing.T) {
	v := newView(viewState{worker: ada, loading: true, symbol: "$"})

	assert.Equal(t, "Welcome, Ada Field", v.Greeting)
	assert.True(t, v.Loading)
	assert.Equal(t, "$0.00", v.Display.TotalEarnings)
	assert.Equal(t, "0", v.Display.CompletedTasks)
	assert.Equal(t, "0h", v.Display.AverageCompletionTime)
	assert.Equal(t, "No Active Task", v.Display.CurrentStatus)
	assert.Nil(t, v.Display.ActiveTask)
	assert.Equal(t, TrackingNotice, v.TrackingNotice)
	assert.Empty(t, v.TrackingStatus)
}

func TestNewView_WithActiveTask(t *testing.T) {
	active := inProgressTask(ada.ID, "Paint door", 1250.5)
	summary := stats.Summary{
		TotalEarnings:         1234.5,
		CompletedTasks:        3,
		ActiveTask:            active,
		AverageCompletionTime: 2.5,
	}

	v := newView(viewState{worker: ada, summary: summary, tracking: true, symbol: "€"})

	assert.Equal(t, "€1,234.50", v.Display.TotalEarnings)
	assert.Equal(t, "3", v.Display.CompletedTasks)
	assert.Equal(t, "2.5h", v.Display.AverageCompletionTime)
	assert.Equal(t, "Active Task", v.Display.CurrentStatus)
	assert.Equal(t, TrackingActiveNotice, v.TrackingStatus)

	require.NotNil(t, v.Display.ActiveTask)
	assert.Equal(t, "Paint door", v.Display.ActiveTask.Title)
	assert.Equal(t, "Replace the broken panel", v.Display.ActiveTask.Description)
	assert.Equal(t, "€1,250.50", v.Display.ActiveTask.Price)
	assert.Equal(t, "3/9/2026", v.Display.ActiveTask.Due)
}

func TestNewView_ActiveTaskWithoutPriceOrDueDate(t *testing.T) {
	active := inProgressTask(ada.ID, "Inspect roof", 0)
	active.Price = nil
	active.DueDate = nil

	v := newView(viewState{worker: ada, summary: stats.Summary{ActiveTask: active}, symbol: "$"})

	require.NotNil(t, v.Display.ActiveTask)
	assert.Equal(t, "$0.00", v.Display.ActiveTask.Price)
	assert.Empty(t, v.Display.ActiveTask.Due)
}

func TestNewView_NegativeAverage(t *testing.T) {
	v := newView(viewState{worker: ada, summary: stats.Summary{AverageCompletionTime: -0.5}, symbol: "$"})

	assert.Equal(t, "-0.5h", v.Display.AverageCompletionTime)
}
