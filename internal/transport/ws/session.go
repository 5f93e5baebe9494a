package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"propmock/internal/domain/eventbus"
	"propmock/internal/platform/logging"
)

const (
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
	idleTimeout      = 2 * pingInterval
)

// Session streams bus events to one websocket client.
type Session struct {
	id     string
	conn   *Connection
	logger logging.Interface
	queue  chan eventbus.Event

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
}

// NewSession constructs a managed feed session.
func NewSession(parent context.Context, conn *Connection, logger logging.Interface, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:     conn.ID(),
		conn:   conn,
		logger: logger,
		queue:  make(chan eventbus.Event, queueSize),
		ctx:    sessionCtx,
		cancel: cancel,
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Send queues evt without blocking. A full queue closes the session.
func (s *Session) Send(evt eventbus.Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- evt:
	default:
		s.Close(ErrSlowConsumer)
	}
}

// Run pumps queued events to the client until either side goes away, then
// invokes onDone.
func (s *Session) Run(onDone func(error)) {
	readErr := make(chan error, 1)
	go func() { readErr <- s.conn.ReadLoop(idleTimeout) }()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var runErr error
	defer func() {
		s.Close(runErr)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			if cause := context.Cause(s.ctx); !errors.Is(cause, ErrSessionShutdown) {
				runErr = cause
			}
			return
		case <-readErr:
			// client went away
			return
		case evt := <-s.queue:
			if err := s.conn.WriteJSON(evt, time.Now().Add(writeTimeout)); err != nil {
				runErr = err
				return
			}
		case <-ticker.C:
			if err := s.conn.WritePing(time.Now().Add(writeTimeout)); err != nil {
				runErr = err
				return
			}
		}
	}
}

// Close terminates the session. Only the first call has an effect.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancel(reason)
	if err := s.conn.Close(); err != nil && s.logger != nil {
		s.logger.Warn("session %s connection close failed: %v", s.id, err)
	}
}
