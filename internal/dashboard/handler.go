package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/nadmax/fieldpay/internal/httputil"
	"github.com/nadmax/fieldpay/internal/middleware"
)

const (
	MessageRefresh  = "refresh"
	MessageLocation = "location"
	MessageView     = "view"
	MessageError    = "error"
)

type ClientMessage struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

type ServerMessage struct {
	Type  string `json:"type"`
	View  *View  `json:"view,omitempty"`
	Error string `json:"error,omitempty"`
}

type Handler struct {
	svc            *Service
	originPatterns []string
}

// NewHandler serves the dashboard endpoints. originPatterns lists the hosts
// allowed to open the live WebSocket besides the server's own.
func NewHandler(svc *Service, originPatterns ...string) *Handler {
	return &Handler{svc: svc, originPatterns: originPatterns}
}

// GetDashboard renders a one-shot view without tracking. A failed fetch still
// answers 200 with the zero summary and fetch_failed set.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	worker, ok := middleware.WorkerFromContext(r.Context())
	if !ok {
		httputil.WriteJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	summary, err := h.svc.Load(r.Context(), worker.ID)

	httputil.WriteJSON(w, http.StatusOK, newView(viewState{
		worker:      worker,
		summary:     summary,
		fetchFailed: err != nil,
		symbol:      h.svc.currencySymbol,
	}))
}

// Live binds an activation to a WebSocket connection. The activation, and
// with it location tracking, ends when the connection does.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	worker, ok := middleware.WorkerFromContext(r.Context())
	if !ok {
		httputil.WriteJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	slog.Info("live dashboard connected", "worker_id", worker.ID, "remote", r.RemoteAddr)

	ctx := r.Context()
	err = h.svc.Run(ctx, worker, func(a *Activation) error {
		return serveLive(ctx, conn, a)
	})

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		slog.Info("live dashboard disconnected", "worker_id", worker.ID)
		return
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("live dashboard closed", "worker_id", worker.ID, "error", err)
	}
	_ = conn.Close(websocket.StatusInternalError, "dashboard closed")
}

func serveLive(ctx context.Context, conn *websocket.Conn, a *Activation) error {
	if err := pushView(ctx, conn, a); err != nil {
		return err
	}

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}

		switch msg.Type {
		case MessageRefresh:
			if err := a.Refresh(ctx); err != nil && !errors.Is(err, ErrFetchFailed) {
				return err
			}
		case MessageLocation:
			if err := a.ReportLocation(ctx, msg.Latitude, msg.Longitude, msg.Accuracy); err != nil {
				if werr := pushError(ctx, conn, err.Error()); werr != nil {
					return werr
				}
				continue
			}
		default:
			if err := pushError(ctx, conn, "unknown message type: "+msg.Type); err != nil {
				return err
			}
			continue
		}

		if err := pushView(ctx, conn, a); err != nil {
			return err
		}
	}
}

func pushView(ctx context.Context, conn *websocket.Conn, a *Activation) error {
	v := a.View()
	return wsjson.Write(ctx, conn, ServerMessage{Type: MessageView, View: &v})
}

func pushError(ctx context.Context, conn *websocket.Conn, message string) error {
	return wsjson.Write(ctx, conn, ServerMessage{Type: MessageError, Error: message})
}
