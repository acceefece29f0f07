package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nadmax/fieldpay/internal/httputil"
	"github.com/nadmax/fieldpay/internal/repository/models"
	"github.com/nadmax/fieldpay/internal/session"
)

type SessionResolver interface {
	Resolve(ctx context.Context, token string) (models.Worker, error)
}

type workerKey struct{}

type tokenKey struct{}

func WithWorker(ctx context.Context, w models.Worker) context.Context {
	return context.WithValue(ctx, workerKey{}, w)
}

func WorkerFromContext(ctx context.Context) (models.Worker, bool) {
	w, ok := ctx.Value(workerKey{}).(models.Worker)
	return w, ok && w.ID != ""
}

// TokenFromContext returns the bearer token RequireSession authenticated.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// RequireSession resolves the bearer token to a worker. Browsers cannot set
// headers on WebSocket upgrades, so the token is also read from access_token.
func RequireSession(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)

			worker, err := sessions.Resolve(r.Context(), token)
			if errors.Is(err, session.ErrUnauthenticated) {
				httputil.WriteJSONError(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			if err != nil {
				slog.Error("failed to resolve session", "error", err)
				httputil.WriteJSONError(w, "Failed to resolve session", http.StatusInternalServerError)
				return
			}

			ctx := WithWorker(r.Context(), worker)
			ctx = context.WithValue(ctx, tokenKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequireAdmin(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get("X-API-Key")
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(given), []byte(apiKey)) != 1 {
				httputil.WriteJSONError(w, "Admin API key required", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	return r.URL.Query().Get("access_token")
}
