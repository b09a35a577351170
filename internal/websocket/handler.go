package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kiprono234/chat-verse/internal/session"
	"go.uber.org/zap"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	deps session.Deps

	// maxMessageSize bounds inbound frames; file bytes travel base64 encoded inside them
	maxMessageSize int64
	log            *zap.Logger

	// live counts read pumps still running; draining refuses new upgrades
	mu       sync.Mutex
	live     sync.WaitGroup
	draining bool
}

// NewHandler creates a new WebSocket handler. Inbound frames may carry an
// attachment of up to maxUpload bytes.
func NewHandler(deps session.Deps, maxUpload int64, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	deps.Logger = log
	return &Handler{
		deps:           deps,
		maxMessageSize: maxUpload*4/3 + 64*1024,
		log:            log,
	}
}

// ServeWS handles WebSocket upgrade requests at /ws
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.live.Add(1)
	h.mu.Unlock()

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.live.Done()
		h.log.Warn("upgrade_failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	h.log.Info("connection_opened", zap.String("conn", connID), zap.String("remote", r.RemoteAddr))

	sess := session.New(connID, h.deps)
	send := sess.Open(r.Context())
	client := NewClient(conn, connID, send, sess, h.maxMessageSize, h.log)

	// Start read/write pumps in separate goroutines
	go client.WritePump()
	go func() {
		defer h.live.Done()
		client.ReadPump()
	}()
}

// Drain refuses new connections and waits until every session has finished
// its read loop, including any send it was processing. The sockets must
// already be closing, e.g. after Hub.Stop. Returns ctx.Err() on timeout.
func (h *Handler) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.live.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("sessions_drained")
		return nil
	case <-ctx.Done():
		h.log.Warn("sessions_drain_timeout", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
