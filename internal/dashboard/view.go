package dashboard

import (
	"strconv"

	"github.com/nadmax/fieldpay/internal/currency"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/stats"
)

const (
	TrackingNotice = "Your location is being tracked for work purposes. " +
		"This helps us ensure your safety and coordinate field work effectively."
	TrackingActiveNotice = "Location tracking is active. " +
		"Your team can see your current location while you're on duty."

	statusActive   = "Active Task"
	statusInactive = "No Active Task"

	dueDateLayout = "1/2/2006"
)

// View is the snapshot handed to renderers.
type View struct {
	Worker         models.Worker `json:"worker"`
	Greeting       string        `json:"greeting"`
	Loading        bool          `json:"loading"`
	FetchFailed    bool          `json:"fetch_failed"`
	Summary        stats.Summary `json:"summary"`
	Display        Display       `json:"display"`
	Tracking       bool          `json:"tracking"`
	TrackingNotice string        `json:"tracking_notice"`
	TrackingStatus string        `json:"tracking_status,omitempty"`
}

type Display struct {
	TotalEarnings         string             `json:"total_earnings"`
	CompletedTasks        string             `json:"completed_tasks"`
	AverageCompletionTime string             `json:"average_completion_time"`
	CurrentStatus         string             `json:"current_status"`
	ActiveTask            *ActiveTaskDisplay `json:"active_task,omitempty"`
}

type ActiveTaskDisplay struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Due         string `json:"due,omitempty"`
}

type viewState struct {
	worker      models.Worker
	summary     stats.Summary
	loading     bool
	fetchFailed bool
	tracking    bool
	symbol      string
}

func newView(st viewState) View {
	v := View{
		Worker:         st.worker,
		Greeting:       "Welcome, " + st.worker.FullName,
		Loading:        st.loading,
		FetchFailed:    st.fetchFailed,
		Summary:        st.summary,
		Tracking:       st.tracking,
		TrackingNotice: TrackingNotice,
		Display: Display{
			TotalEarnings:         currency.FormatWith(st.symbol, st.summary.TotalEarnings),
			CompletedTasks:        strconv.Itoa(st.summary.CompletedTasks),
			AverageCompletionTime: strconv.FormatFloat(st.summary.AverageCompletionTime, 'f', -1, 64) + "h",
			CurrentStatus:         statusInactive,
		},
	}

	if st.tracking {
		v.TrackingStatus = TrackingActiveNotice
	}

	if t := st.summary.ActiveTask; t != nil {
		v.Display.CurrentStatus = statusActive
		v.Display.ActiveTask = &ActiveTaskDisplay{
			Title:       t.Title,
			Description: t.Description,
			Price:       currency.FormatWith(st.symbol, t.PriceOrZero()),
		}
		if t.DueDate != nil {
			v.Display.ActiveTask.Due = t.DueDate.UTC().Format(dueDateLayout)
		}
	}

	return v
}
