// Package api exposes the HTTP surface: sessions, workers, tasks and their
// lifecycle, the dashboard and the live location map.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/nadmax/fieldpay/internal/currency"
	"github.com/nadmax/fieldpay/internal/dashboard"
	"github.com/nadmax/fieldpay/internal/httputil"
	"github.com/nadmax/fieldpay/internal/location"
	"github.com/nadmax/fieldpay/internal/metrics"
	"github.com/nadmax/fieldpay/internal/middleware"
	"github.com/nadmax/fieldpay/internal/queue"
	"github.com/nadmax/fieldpay/internal/repository"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/task"
	"github.com/nadmax/fieldpay/internal/worker/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SessionStore interface {
	middleware.SessionResolver
	Create(ctx context.Context, w models.Worker) (string, error)
	Revoke(ctx context.Context, token string) error
}

type Locator interface {
	Positions(ctx context.Context) ([]location.Position, error)
	Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]location.Position, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// Deps are the collaborators the API routes to. Jobs may be nil, in which
// case no assignment emails are queued.
type Deps struct {
	Tasks          repository.TaskRepository
	Workers        repository.WorkerRepository
	Sessions       SessionStore
	Dashboard      *dashboard.Service
	Locations      Locator
	Jobs           Enqueuer
	AdminAPIKey    string
	CurrencySymbol string
	OriginPatterns []string
}

type API struct {
	deps   Deps
	router chi.Router
	now    func() time.Time
}

type CreateWorkerRequest struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type CreateSessionRequest struct {
	WorkerID string `json:"worker_id"`
}

type CreateSessionResponse struct {
	Token  string        `json:"token"`
	Worker models.Worker `json:"worker"`
}

type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssignedTo  string     `json:"assigned_to"`
	Price       *float64   `json:"price"`
	DueDate     *time.Time `json:"due_date"`
}

func NewAPI(deps Deps) *API {
	if deps.CurrencySymbol == "" {
		deps.CurrencySymbol = currency.DefaultSymbol
	}

	a := &API{
		deps: deps,
		now:  time.Now,
	}

	a.setupRoutes()
	return a
}

func (a *API) setupRoutes() {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.MetricsMiddleware)

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.Handler())

	dash := dashboard.NewHandler(a.deps.Dashboard, a.deps.OriginPatterns...)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(a.deps.AdminAPIKey))

			r.Post("/sessions", a.createSession)
			r.Post("/workers", a.createWorker)
			r.Post("/tasks", a.createTask)
			r.Get("/locations", a.listLocations)
			r.Get("/locations/nearby", a.nearbyLocations)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(a.deps.Sessions))

			r.Delete("/sessions", a.deleteSession)
			r.Get("/tasks", a.listTasks)
			r.Get("/tasks/{id}", a.getTask)
			r.Post("/tasks/{id}/start", a.transition("start", (*task.Task).Start))
			r.Post("/tasks/{id}/pause", a.transition("pause", (*task.Task).Pause))
			r.Post("/tasks/{id}/resume", a.transition("resume", (*task.Task).Resume))
			r.Post("/tasks/{id}/complete", a.transition("complete", (*task.Task).Complete))
			r.Get("/dashboard", dash.GetDashboard)
			r.Get("/dashboard/live", dash.Live)
		})
	})

	a.router = r
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, v any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			slog.Warn("failed to close request body", "error", err)
		}
	}()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (a *API) createWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.FullName == "" {
		httputil.WriteJSONError(w, "full_name is required", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	worker := &models.Worker{ID: req.ID, FullName: req.FullName, Email: req.Email}
	if err := a.deps.Workers.SaveWorker(r.Context(), worker); err != nil {
		slog.Error("failed to save worker", "worker_id", worker.ID, "error", err)
		httputil.WriteJSONError(w, "Failed to save worker", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, worker)
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	worker, ok := a.lookupWorker(w, r, req.WorkerID)
	if !ok {
		return
	}

	token, err := a.deps.Sessions.Create(r.Context(), *worker)
	if err != nil {
		slog.Error("failed to create session", "worker_id", worker.ID, "error", err)
		httputil.WriteJSONError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, CreateSessionResponse{Token: token, Worker: *worker})
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Sessions.Revoke(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		slog.Error("failed to revoke session", "error", err)
		httputil.WriteJSONError(w, "Failed to revoke session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) lookupWorker(w http.ResponseWriter, r *http.Request, workerID string) (*models.Worker, bool) {
	if workerID == "" {
		httputil.WriteJSONError(w, "worker_id is required", http.StatusBadRequest)
		return nil, false
	}

	worker, err := a.deps.Workers.GetWorker(r.Context(), workerID)
	if errors.Is(err, repository.ErrNotFound) {
		httputil.WriteJSONError(w, "Worker not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.Error("failed to load worker", "worker_id", workerID, "error", err)
		httputil.WriteJSONError(w, "Failed to load worker", http.StatusInternalServerError)
		return nil, false
	}

	return worker, true
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Title == "" {
		httputil.WriteJSONError(w, "title is required", http.StatusBadRequest)
		return
	}
	if req.Price != nil && *req.Price < 0 {
		httputil.WriteJSONError(w, "price must not be negative", http.StatusBadRequest)
		return
	}

	worker, ok := a.lookupWorker(w, r, req.AssignedTo)
	if !ok {
		return
	}

	t := task.NewTask(req.Title, req.Description, worker.ID, req.Price, req.DueDate)
	if err := a.deps.Tasks.SaveTask(r.Context(), t); err != nil {
		slog.Error("failed to save task", "task_id", t.ID, "error", err)
		httputil.WriteJSONError(w, "Failed to save task", http.StatusInternalServerError)
		return
	}

	a.notifyAssignment(r.Context(), worker, t)

	httputil.WriteJSON(w, http.StatusCreated, t)
}

// notifyAssignment queues an email to the assignee. Failing to queue does not
// fail the assignment.
func (a *API) notifyAssignment(ctx context.Context, worker *models.Worker, t *task.Task) {
	if a.deps.Jobs == nil || worker.Email == "" {
		return
	}

	body := fmt.Sprintf("You have a new task: %s\nPrice: %s\n",
		t.Title, currency.FormatWith(a.deps.CurrencySymbol, t.PriceOrZero()))
	if t.DueDate != nil {
		body += "Due: " + t.DueDate.UTC().Format("1/2/2006") + "\n"
	}

	job := queue.NewJob(handlers.SendEmailJob, map[string]any{
		"to":      worker.Email,
		"to_name": worker.FullName,
		"subject": "New task assigned: " + t.Title,
		"body":    body,
	})
	job.Priority = queue.PriorityHigh

	if err := a.deps.Jobs.Enqueue(ctx, job); err != nil {
		slog.Warn("failed to queue assignment email", "task_id", t.ID, "error", err)
	}
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	worker, _ := middleware.WorkerFromContext(r.Context())

	tasks, err := a.deps.Tasks.ListTasksByAssignee(r.Context(), worker.ID)
	if err != nil {
		slog.Error("failed to list tasks", "worker_id", worker.ID, "error", err)
		httputil.WriteJSONError(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}

	httputil.WriteJSON(w, http.StatusOK, tasks)
}

// ownTask loads the task in the URL and hides tasks assigned to others.
func (a *API) ownTask(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	worker, _ := middleware.WorkerFromContext(r.Context())
	taskID := chi.URLParam(r, "id")

	t, err := a.deps.Tasks.GetTask(r.Context(), taskID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && t.AssignedTo != worker.ID) {
		httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.Error("failed to load task", "task_id", taskID, "error", err)
		httputil.WriteJSONError(w, "Failed to load task", http.StatusInternalServerError)
		return nil, false
	}

	return t, true
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := a.ownTask(w, r)
	if !ok {
		return
	}

	httputil.WriteJSON(w, http.StatusOK, t)
}

func (a *API) transition(name string, apply func(*task.Task, time.Time) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := a.ownTask(w, r)
		if !ok {
			return
		}

		from := t.Progress()
		if err := apply(t, a.now()); err != nil {
			metrics.RecordTaskTransition(name, err)
			if errors.Is(err, task.ErrInvalidTransition) {
				httputil.WriteJSONError(w, err.Error(), http.StatusConflict)
				return
			}
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		err := a.deps.Tasks.UpdateTaskProgress(r.Context(), t, from)
		metrics.RecordTaskTransition(name, err)
		if errors.Is(err, repository.ErrConflict) {
			httputil.WriteJSONError(w, "Task was changed by another request", http.StatusConflict)
			return
		}
		if err != nil {
			slog.Error("failed to persist task progress", "task_id", t.ID, "transition", name, "error", err)
			httputil.WriteJSONError(w, "Failed to update task", http.StatusInternalServerError)
			return
		}

		slog.Info("task transitioned", "task_id", t.ID, "transition", name, "status", t.Status)
		httputil.WriteJSON(w, http.StatusOK, t)
	}
}

func (a *API) listLocations(w http.ResponseWriter, r *http.Request) {
	positions, err := a.deps.Locations.Positions(r.Context())
	if err != nil {
		slog.Error("failed to list positions", "error", err)
		httputil.WriteJSONError(w, "Failed to list positions", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, positions)
}

func (a *API) nearbyLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	radius, errRadius := strconv.ParseFloat(q.Get("radius_km"), 64)
	if errLat != nil || errLon != nil || errRadius != nil {
		httputil.WriteJSONError(w, "lat, lon and radius_km must be numbers", http.StatusBadRequest)
		return
	}

	positions, err := a.deps.Locations.Nearby(r.Context(), lat, lon, radius)
	if errors.Is(err, location.ErrInvalidPosition) {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("failed to search positions", "error", err)
		httputil.WriteJSONError(w, "Failed to search positions", http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, positions)
}
