package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/fieldpay/internal/dashboard"
	"github.com/nadmax/fieldpay/internal/location"
	"github.com/nadmax/fieldpay/internal/queue"
	"github.com/nadmax/fieldpay/internal/repository"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/session"
	"github.com/nadmax/fieldpay/internal/task"
	"github.com/nadmax/fieldpay/internal/worker/handlers"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminKey = "test-admin-key"

type testEnv struct {
	api      *API
	repo     *repository.MockPostgresRepository
	queue    *queue.Queue
	tracker  *location.Tracker
	sessions *session.Store
	mr       *miniredis.Miniredis
	clock    time.Time
}

func setupTestAPI(t *testing.T) *testEnv {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := repository.NewMockPostgresRepository()

	sessions, err := session.NewStore(client, session.Options{TTL: time.Hour})
	require.NoError(t, err)

	q, err := queue.NewQueue(context.Background(), client)
	require.NoError(t, err)

	tracker := location.NewTracker(client, repo, 5*time.Minute)

	env := &testEnv{
		repo:     repo,
		queue:    q,
		tracker:  tracker,
		sessions: sessions,
		mr:       mr,
		clock:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	env.api = NewAPI(Deps{
		Tasks:       repo,
		Workers:     repo,
		Sessions:    sessions,
		Dashboard:   dashboard.NewService(repo, tracker, "$"),
		Locations:   tracker,
		Jobs:        q,
		AdminAPIKey: adminKey,
	})
	env.api.now = func() time.Time { return env.clock }

	t.Cleanup(func() {
		sessions.Close()
		_ = client.Close()
		mr.Close()
	})

	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.api.ServeHTTP(w, req)
	return w
}

func (e *testEnv) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return e.do(t, method, path, body, map[string]string{"X-API-Key": adminKey})
}

func (e *testEnv) as(t *testing.T, token, method, path string, body any) *httptest.ResponseRecorder {
	return e.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

// signIn creates a worker and returns a session token for them.
func (e *testEnv) signIn(t *testing.T, id string) string {
	t.Helper()

	require.NoError(t, e.repo.SaveWorker(context.Background(), &models.Worker{
		ID: id, FullName: "Worker " + id, Email: id + "@example.com",
	}))

	w := e.admin(t, http.MethodPost, "/api/sessions", CreateSessionRequest{WorkerID: id})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func (e *testEnv) assign(t *testing.T, workerID, title string, price float64) *task.Task {
	t.Helper()

	w := e.admin(t, http.MethodPost, "/api/tasks", CreateTaskRequest{
		Title: title, AssignedTo: workerID, Price: &price,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var tk task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tk))
	return &tk
}

func TestHealthz(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestAPI(t)
	env.do(t, http.MethodGet, "/healthz", nil, nil)

	w := env.do(t, http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fieldpay_http_requests_total")
}

func TestCreateWorker(t *testing.T) {
	env := setupTestAPI(t)

	w := env.admin(t, http.MethodPost, "/api/workers", CreateWorkerRequest{
		FullName: "Ada Field", Email: "ada@example.com",
	})

	assert.Equal(t, http.StatusCreated, w.Code)

	var worker models.Worker
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &worker))
	assert.NotEmpty(t, worker.ID)
	assert.Equal(t, "Ada Field", env.repo.Workers[worker.ID].FullName)
}

func TestCreateWorker_Validation(t *testing.T) {
	env := setupTestAPI(t)

	w := env.admin(t, http.MethodPost, "/api/workers", CreateWorkerRequest{Email: "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.admin(t, http.MethodPost, "/api/workers", map[string]string{"nickname": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes_RequireKey(t *testing.T) {
	env := setupTestAPI(t)

	paths := []struct{ method, path string }{
		{http.MethodPost, "/api/workers"},
		{http.MethodPost, "/api/sessions"},
		{http.MethodPost, "/api/tasks"},
		{http.MethodGet, "/api/locations"},
		{http.MethodGet, "/api/locations/nearby?lat=0&lon=0&radius_km=1"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := env.do(t, p.method, p.path, nil, map[string]string{"X-API-Key": "wrong"})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestSessionRoutes_RequireToken(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodGet, "/api/dashboard", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.as(t, "not-a-token", http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSession_UnknownWorker(t *testing.T) {
	env := setupTestAPI(t)

	w := env.admin(t, http.MethodPost, "/api/sessions", CreateSessionRequest{WorkerID: "ghost"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSession(t *testing.T) {
	env := setupTestAPI(t)
	token := env.signIn(t, "worker-1")

	w := env.as(t, token, http.MethodDelete, "/api/sessions", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	env.sessions.Wait()
	w = env.as(t, token, http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateTask(t *testing.T) {
	env := setupTestAPI(t)
	env.signIn(t, "worker-1")
	due := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	price := 120.0

	w := env.admin(t, http.MethodPost, "/api/tasks", CreateTaskRequest{
		Title:       "Fix fence",
		Description: "North side",
		AssignedTo:  "worker-1",
		Price:       &price,
		DueDate:     &due,
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var tk task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tk))
	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, task.StatusPending, tk.Status)
	assert.Equal(t, "worker-1", tk.AssignedTo)
	assert.True(t, env.repo.WasTaskSaved(tk.ID))

	job, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job, "assignment email should be queued")
	assert.Equal(t, handlers.SendEmailJob, job.Type)
	assert.Equal(t, "worker-1@example.com", job.Payload["to"])
	assert.Equal(t, "New task assigned: Fix fence", job.Payload["subject"])
	assert.Contains(t, job.Payload["body"], "$120.00")
	assert.Contains(t, job.Payload["body"], "3/9/2026")
}

func TestCreateTask_Validation(t *testing.T) {
	env := setupTestAPI(t)
	env.signIn(t, "worker-1")
	negative := -5.0

	tests := []struct {
		name         string
		body         any
		expectedCode int
	}{
		{name: "missing title", body: CreateTaskRequest{AssignedTo: "worker-1"}, expectedCode: http.StatusBadRequest},
		{name: "missing assignee", body: CreateTaskRequest{Title: "x"}, expectedCode: http.StatusBadRequest},
		{name: "unknown assignee", body: CreateTaskRequest{Title: "x", AssignedTo: "ghost"}, expectedCode: http.StatusNotFound},
		{name: "negative price", body: CreateTaskRequest{Title: "x", AssignedTo: "worker-1", Price: &negative}, expectedCode: http.StatusBadRequest},
		{name: "invalid json", body: "not an object", expectedCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.admin(t, http.MethodPost, "/api/tasks", tt.body)
			assert.Equal(t, tt.expectedCode, w.Code)
		})
	}
}

func TestListTasks_OnlyOwn(t *testing.T) {
	env := setupTestAPI(t)
	ada := env.signIn(t, "ada")
	bob := env.signIn(t, "bob")
	env.assign(t, "ada", "Fix fence", 10)
	env.assign(t, "bob", "Paint door", 20)

	w := env.as(t, ada, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tasks []task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "Fix fence", tasks[0].Title)

	w = env.as(t, bob, http.MethodGet, "/api/tasks", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "Paint door", tasks[0].Title)
}

func TestListTasks_Empty(t *testing.T) {
	env := setupTestAPI(t)
	token := env.signIn(t, "worker-1")

	w := env.as(t, token, http.MethodGet, "/api/tasks", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetTask(t *testing.T) {
	env := setupTestAPI(t)
	ada := env.signIn(t, "ada")
	bob := env.signIn(t, "bob")
	tk := env.assign(t, "ada", "Fix fence", 10)

	w := env.as(t, ada, http.MethodGet, "/api/tasks/"+tk.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.as(t, bob, http.MethodGet, "/api/tasks/"+tk.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "other workers' tasks are hidden")

	w = env.as(t, ada, http.MethodGet, "/api/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskLifecycle(t *testing.T) {
	env := setupTestAPI(t)
	token := env.signIn(t, "worker-1")
	tk := env.assign(t, "worker-1", "Fix fence", 100)
	base := env.clock

	steps := []struct {
		action string
		at     time.Duration
		status task.Status
	}{
		{action: "start", at: 0, status: task.StatusInProgress},
		{action: "pause", at: time.Hour, status: task.StatusInProgress},
		{action: "resume", at: 90 * time.Minute, status: task.StatusInProgress},
		{action: "complete", at: 3 * time.Hour, status: task.StatusCompleted},
	}

	for _, step := range steps {
		env.clock = base.Add(step.at)

		w := env.as(t, token, http.MethodPost, "/api/tasks/"+tk.ID+"/"+step.action, nil)
		require.Equal(t, http.StatusOK, w.Code, step.action)

		var got task.Task
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, step.status, got.Status, step.action)
	}

	assert.Equal(t, 4, env.repo.GetUpdateTaskProgressCallCount())
	stored := env.repo.Tasks[tk.ID]
	assert.Equal(t, (30 * time.Minute).Milliseconds(), stored.TotalPauseMs)

	w := env.as(t, token, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var v dashboard.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, 1, v.Summary.CompletedTasks)
	assert.Equal(t, 100.0, v.Summary.TotalEarnings)
	assert.Equal(t, 2.5, v.Summary.AverageCompletionTime)
	assert.Equal(t, "2.5h", v.Display.AverageCompletionTime)
}

func TestTaskTransition_Invalid(t *testing.T) {
	env := setupTestAPI(t)
	token := env.signIn(t, "worker-1")
	tk := env.assign(t, "worker-1", "Fix fence", 100)

	for _, action := range []string{"pause", "resume", "complete"} {
		t.Run(action, func(t *testing.T) {
			w := env.as(t, token, http.MethodPost, "/api/tasks/"+tk.ID+"/"+action, nil)
			assert.Equal(t, http.StatusConflict, w.Code)
		})
	}

	assert.Equal(t, 0, env.repo.GetUpdateTaskProgressCallCount())
}

func TestTaskTransition_PersistFails(t *testing.T) {
	env := setupTestAPI(t)
	token := env.signIn(t, "worker-1")
	tk := env.assign(t, "worker-1", "Fix fence", 100)
	env.repo.UpdateTaskProgressError = errors.New("connection reset")

	w := env.as(t, token, http.MethodPost, "/api/tasks/"+tk.ID+"/start", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	status, _ := env.repo.GetTaskStatus(tk.ID)
	assert.Equal(t, task.StatusPending, status)
}

func TestDashboard_FetchFailed(t *testing.T) {
	env := setupTestAPI(t)
	token := env.signIn(t, "worker-1")
	env.repo.SetListError(errors.New("timeout"))

	w := env.as(t, token, http.MethodGet, "/api/dashboard", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var v dashboard.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.True(t, v.FetchFailed)
	assert.Equal(t, "$0.00", v.Display.TotalEarnings)
}

func TestLocations(t *testing.T) {
	env := setupTestAPI(t)
	ctx := context.Background()

	paris, err := env.tracker.Start(ctx, "paris")
	require.NoError(t, err)
	require.NoError(t, paris.Report(ctx, 48.8566, 2.3522, 5))
	london, err := env.tracker.Start(ctx, "london")
	require.NoError(t, err)
	require.NoError(t, london.Report(ctx, 51.5074, -0.1278, 5))

	w := env.admin(t, http.MethodGet, "/api/locations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var all []location.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	w = env.admin(t, http.MethodGet, "/api/locations/nearby?lat=48.85&lon=2.35&radius_km=25", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var near []location.Position
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &near))
	require.Len(t, near, 1)
	assert.Equal(t, "paris", near[0].WorkerID)

	assert.Equal(t, 2, env.repo.GetSaveLocationCallCount())
}

func TestNearbyLocations_BadInput(t *testing.T) {
	env := setupTestAPI(t)

	tests := []string{
		"/api/locations/nearby",
		"/api/locations/nearby?lat=abc&lon=0&radius_km=1",
		"/api/locations/nearby?lat=0&lon=0&radius_km=0",
		"/api/locations/nearby?lat=91&lon=0&radius_km=1",
	}

	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			w := env.admin(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// racingTasks completes the task behind the handler's back right after it is
// read, the way a second request would.
type racingTasks struct {
	*repository.MockPostgresRepository
	at   time.Time
	done bool
}

func (r *racingTasks) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	t, err := r.MockPostgresRepository.GetTask(ctx, taskID)
	if err != nil || r.done {
		return t, err
	}
	r.done = true

	other := t.Clone()
	if err := other.Complete(r.at); err != nil {
		return nil, err
	}
	if err := r.MockPostgresRepository.UpdateTaskProgress(ctx, other, t.Progress()); err != nil {
		return nil, err
	}

	return t, nil
}

func TestTaskTransition_ConcurrentChangeConflicts(t *testing.T) {
	env := setupTestAPI(t)
	token := env.signIn(t, "worker-1")
	tk := env.assign(t, "worker-1", "Fix fence", 100)

	w := env.as(t, token, http.MethodPost, "/api/tasks/"+tk.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	env.api.deps.Tasks = &racingTasks{MockPostgresRepository: env.repo, at: env.clock.Add(time.Hour)}
	env.clock = env.clock.Add(2 * time.Hour)

	w = env.as(t, token, http.MethodPost, "/api/tasks/"+tk.ID+"/pause", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	status, _ := env.repo.GetTaskStatus(tk.ID)
	assert.Equal(t, task.StatusCompleted, status, "the completed task must not be reverted")
	assert.Nil(t, env.repo.Tasks[tk.ID].PausedAt)
}
