package ws

import (
	"sync"

	"propmock/internal/domain/eventbus"
	"propmock/internal/platform/logging"
)

// Hub tracks the active feed sessions and fans bus events out to them.
type Hub struct {
	logger   logging.Interface
	sessions sync.Map // map[string]*Session
}

// NewHub builds a fresh session hub.
func NewHub(logger logging.Interface) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		logger: logger,
	}
}

// Attach subscribes the hub to every bus topic. Call once per bus.
func (h *Hub) Attach(bus *eventbus.Bus) error {
	return bus.SubscribeAll(h.Broadcast)
}

// Broadcast queues evt on every session.
func (h *Hub) Broadcast(evt eventbus.Event) {
	h.sessions.Range(func(_, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Send(evt)
		}
		return true
	})
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// CloseAll terminates all active sessions.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Count exposes the number of active websocket connections.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
