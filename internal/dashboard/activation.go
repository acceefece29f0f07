package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nadmax/fieldpay/internal/location"
	"github.com/nadmax/fieldpay/internal/metrics"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/stats"
)

var (
	ErrClosed           = errors.New("dashboard activation closed")
	ErrTrackingInactive = errors.New("location tracking is not active")
)

// Activation is one open dashboard. It starts in the loading state and
// becomes ready once its first fetch completes, successfully or not.
type Activation struct {
	svc      *Service
	worker   models.Worker
	tracking *location.Session

	mu          sync.Mutex
	summary     stats.Summary
	loading     bool
	fetchFailed bool
	seq         uint64
	closed      bool

	closeOnce sync.Once
	closeErr  error
}

// Activate starts location tracking for the worker and performs the initial
// fetch. A fetch failure leaves the zero summary in place and is reported
// through View, not as an error.
func (s *Service) Activate(ctx context.Context, worker models.Worker) (*Activation, error) {
	if worker.ID == "" {
		return nil, ErrNoWorker
	}

	a := &Activation{
		svc:     s,
		worker:  worker,
		loading: true,
	}

	if s.tracker != nil {
		sess, err := s.tracker.Start(ctx, worker.ID)
		if err != nil {
			slog.Warn("location tracking unavailable", "worker_id", worker.ID, "error", err)
		} else {
			a.tracking = sess
		}
	}

	metrics.DashboardActivated()

	_ = a.Refresh(ctx)

	return a, nil
}

// Run activates the dashboard for the duration of fn and always closes it,
// so tracking never outlives the caller.
func (s *Service) Run(ctx context.Context, worker models.Worker, fn func(*Activation) error) (err error) {
	a, err := s.Activate(ctx, worker)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(a)
}

// Refresh re-fetches and replaces the summary wholesale. If another refresh
// starts before this one finishes, this result is dropped. Results that arrive
// after Close are dropped too.
func (a *Activation) Refresh(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.seq++
	seq := a.seq
	a.mu.Unlock()

	summary, err := a.svc.Load(ctx, a.worker.ID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if seq != a.seq {
		return nil
	}

	a.loading = false
	if err != nil {
		a.fetchFailed = true
		return err
	}

	a.summary = summary
	a.fetchFailed = false

	return nil
}

func (a *Activation) ReportLocation(ctx context.Context, lat, lon, accuracy float64) error {
	if a.tracking == nil {
		return ErrTrackingInactive
	}

	return a.tracking.Report(ctx, lat, lon, accuracy)
}

func (a *Activation) Worker() models.Worker {
	return a.worker
}

func (a *Activation) Summary() stats.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	return copySummary(a.summary)
}

func (a *Activation) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()

	return newView(viewState{
		worker:      a.worker,
		summary:     copySummary(a.summary),
		loading:     a.loading,
		fetchFailed: a.fetchFailed,
		tracking:    a.tracking != nil && !a.closed,
		symbol:      a.svc.currencySymbol,
	})
}

// Close stops location tracking. Only the first call does anything.
func (a *Activation) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		if a.tracking != nil {
			a.closeErr = a.tracking.Stop(ctx)
		}

		metrics.DashboardDeactivated()
	})

	return a.closeErr
}

func copySummary(s stats.Summary) stats.Summary {
	if s.ActiveTask != nil {
		s.ActiveTask = s.ActiveTask.Clone()
	}

	return s
}
