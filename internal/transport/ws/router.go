// Package ws serves the live event feed of the developer control surface:
// every bus event is pushed as a JSON text frame to connected clients.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"propmock/internal/platform/logging"
	"propmock/internal/platform/observability"
)

// Router upgrades HTTP connections to feed sessions.
type Router struct {
	hub      *Hub
	logger   logging.Interface
	recorder *observability.Recorder

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	queueSize        int
	baseCtx          context.Context
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	QueueSize        int
	Recorder         *observability.Recorder
	// BaseContext bounds every session. Cancelling it ends all sessions.
	BaseContext context.Context
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger logging.Interface, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		recorder:         opts.Recorder,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		queueSize:        opts.QueueSize,
		baseCtx:          base,
	}
}

// Handle upgrades the HTTP connection and launches a new feed session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanEnd := r.recorder.StartSpan(handshakeCtx, "transport.websocket", "handle")

	conn, err := r.upgrader.Upgrade(w, req, nil)
	spanEnd(err)
	if err != nil {
		r.logger.Error("handshake failed: %v", err)
		return
	}

	clientID := req.URL.Query().Get("client-id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	r.logger.Info("feed client connected: %s", clientID)

	session := NewSession(r.baseCtx, NewConnection(clientID, conn), r.logger, r.queueSize)
	r.hub.Register(session)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.Warn("feed session %s ended: %v", session.ID(), runErr)
			return
		}
		r.logger.Info("feed client disconnected: %s", session.ID())
	})
}
