package websocket

import (
	"bufio"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/akmukhi/developer-self-service/internal/api/rest"
	"github.com/akmukhi/developer-self-service/internal/pkg/logger"
	"github.com/akmukhi/developer-self-service/internal/pkg/metrics"
	"github.com/akmukhi/developer-self-service/internal/service"
)

// maxLogLine bounds one scanned log line.
const maxLogLine = 1024 * 1024

// LogMessage is one frame of a log stream. Type is "log", "end" or "error".
type LogMessage struct {
	Type      string    `json:"type"`
	Pod       string    `json:"pod,omitempty"`
	Line      string    `json:"line,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	logs     service.LogsService
	upgrader websocket.Upgrader
	log      *slog.Logger
	ctx      context.Context
}

// NewHandler creates a new WebSocket handler. Browser origins are checked against
// allowedOrigins; "*" allows any.
func NewHandler(ctx context.Context, hub *Hub, logs service.LogsService, allowedOrigins []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		hub:  hub,
		logs: logs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log,
		ctx: ctx,
	}
}

// SetupRoutes registers the websocket endpoints.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/ws/environments", h.ServeEvents).Methods("GET")
	router.HandleFunc("/api/logs/{service_id}/stream", h.ServeLogStream).Methods("GET")
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin.
		return origin == "" || set["*"] || set[origin]
	}
}

// ServeEvents handles GET /ws/environments: a feed of environment create/delete events.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.With(r.Context(), h.log).Warn("WebSocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(h.hub, conn, clientID, h.log)
	metrics.WebSocketConnectionsActive.Inc()
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	h.log.Debug("WebSocket client connected", "client_id", clientID)
}

// ServeLogStream handles GET /api/logs/{service_id}/stream: follows one pod's log. Lookup
// failures are answered as plain HTTP errors before the upgrade.
func (h *Handler) ServeLogStream(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		http.Error(w, "log streaming is not configured", http.StatusNotImplemented)
		return
	}
	id := mux.Vars(r)["service_id"]
	q, err := rest.LogQueryFromRequest(r)
	if err != nil {
		rest.RespondError(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	stream, pod, err := h.logs.Follow(ctx, id, q)
	if err != nil {
		rest.RespondError(w, r, err)
		return
	}
	defer stream.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.With(r.Context(), h.log).Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	metrics.WebSocketConnectionsActive.Inc()
	defer metrics.WebSocketConnectionsActive.Dec()

	log := logger.With(r.Context(), h.log).With("service_id", id, "pod", pod)
	log.Info("Log stream opened")

	// The peer only sends control frames; a read error means it went away.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	lines := make(chan string, 64)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stream)
		sc.Buffer(make([]byte, 64*1024), maxLogLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	write := func(msg LogMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}
	closeConn := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closeConn()
			log.Info("Log stream closed")
			return

		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				msg := LogMessage{Type: "end", Pod: pod, Timestamp: time.Now().UTC()}
				if err != nil && ctx.Err() == nil {
					msg = LogMessage{Type: "error", Pod: pod, Error: err.Error(), Timestamp: time.Now().UTC()}
					log.Warn("Log stream failed", "error", err)
				}
				_ = write(msg)
				closeConn()
				log.Info("Log stream ended")
				return
			}
			if err := write(LogMessage{Type: "log", Pod: pod, Line: line, Timestamp: time.Now().UTC()}); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
