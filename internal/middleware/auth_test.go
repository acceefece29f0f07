package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	workers map[string]models.Worker
	err     error
}

func (s *stubResolver) Resolve(ctx context.Context, token string) (models.Worker, error) {
	if s.err != nil {
		return models.Worker{}, s.err
	}

	w, ok := s.workers[token]
	if !ok {
		return models.Worker{}, session.ErrUnauthenticated
	}

	return w, nil
}

func TestRequireSession(t *testing.T) {
	resolver := &stubResolver{workers: map[string]models.Worker{
		"good-token": {ID: "worker-1", FullName: "Ada Field"},
	}}

	tests := []struct {
		name         string
		header       string
		query        string
		expectedCode int
		expectedID   string
	}{
		{name: "bearer header", header: "Bearer good-token", expectedCode: http.StatusOK, expectedID: "worker-1"},
		{name: "query parameter", query: "?access_token=good-token", expectedCode: http.StatusOK, expectedID: "worker-1"},
		{name: "missing token", expectedCode: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", expectedCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good-token", expectedCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID, gotToken string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				worker, ok := WorkerFromContext(r.Context())
				require.True(t, ok)
				gotID = worker.ID
				gotToken = TokenFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/dashboard"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			RequireSession(resolver)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedCode, rec.Code)
			assert.Equal(t, tt.expectedID, gotID)
			if tt.expectedCode == http.StatusOK {
				assert.Equal(t, "good-token", gotToken)
			}
		})
	}
}

func TestRequireSession_BackendError(t *testing.T) {
	resolver := &stubResolver{err: errors.New("redis down")}
	called := false

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()

	RequireSession(resolver)(next).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name         string
		configured   string
		given        string
		expectedCode int
	}{
		{name: "matching key", configured: "s3cret", given: "s3cret", expectedCode: http.StatusOK},
		{name: "wrong key", configured: "s3cret", given: "guess", expectedCode: http.StatusUnauthorized},
		{name: "missing key", configured: "s3cret", expectedCode: http.StatusUnauthorized},
		{name: "admin disabled", configured: "", given: "", expectedCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/workers", nil)
			if tt.given != "" {
				req.Header.Set("X-API-Key", tt.given)
			}
			rec := httptest.NewRecorder()

			RequireAdmin(tt.configured)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedCode, rec.Code)
		})
	}
}

func TestWorkerFromContext_Empty(t *testing.T) {
	_, ok := WorkerFromContext(context.Background())
	assert.False(t, ok)

	_, ok = WorkerFromContext(WithWorker(context.Background(), models.Worker{}))
	assert.False(t, ok)
}
