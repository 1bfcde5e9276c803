// Package subscriber provides the websocket session a broker uses to push
// messages to an attached subscriber.
package subscriber

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tanmay-xvx/meshbus/internals/logging"
	"github.com/tanmay-xvx/meshbus/internals/models"
)

var (
	// ErrSessionClosed is returned when delivering to a closed session.
	ErrSessionClosed = errors.New("subscriber session closed")

	// ErrSendBufferFull is returned when the session cannot keep up.
	ErrSendBufferFull = errors.New("subscriber send buffer full")
)

// Session is one subscriber's websocket connection. It is the callback
// handle a broker stores for the subscriber.
type Session struct {
	ID   string
	User string
	Conn *websocket.Conn
	Send chan models.ServerMsg
	Done chan struct{}

	mu        sync.RWMutex
	closed    bool
	started   bool
	closeOnce sync.Once
	log       logging.Logger
}

// NewSession creates a session for user over conn.
// The buf parameter sets the buffer size for the Send channel.
func NewSession(user string, conn *websocket.Conn, buf int, log logging.Logger) *Session {
	if buf <= 0 {
		buf = 100
	}
	if log == nil {
		log = logging.NewNop()
	}

	id := uuid.NewString()
	return &Session{
		ID:   id,
		User: user,
		Conn: conn,
		Send: make(chan models.ServerMsg, buf),
		Done: make(chan struct{}),
		log:  log.WithFields(map[string]interface{}{"user": user, "session": id}),
	}
}

// StartWriter launches the goroutine that drains Send into the websocket.
// It is the only goroutine that writes to Conn. Done is closed when it exits.
func (s *Session) StartWriter(ctx context.Context, writeTimeout time.Duration) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.Done)

		for {
			select {
			case <-ctx.Done():
				s.log.Debug("Session writer: context cancelled")
				return

			case msg, ok := <-s.Send:
				if !ok {
					return
				}

				if writeTimeout > 0 {
					if err := s.Conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
						s.log.WithError(err).Warn("Session writer: failed to set write deadline")
						return
					}
				}

				if err := s.Conn.WriteJSON(msg); err != nil {
					s.log.WithError(err).Warn("Session writer: failed to write message")
					return
				}
			}
		}
	}()
}

// ReceiveMessage queues a published message for the subscriber. It never
// blocks the publishing broker.
func (s *Session) ReceiveMessage(text string) error {
	return s.enqueue(models.NewServerMsg(models.MsgTypeMessage, "", text))
}

// Reply queues a response to a subscriber request.
func (s *Session) Reply(msg models.ServerMsg) error {
	return s.enqueue(msg)
}

func (s *Session) enqueue(msg models.ServerMsg) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.IsActive() {
		return ErrSessionClosed
	}

	select {
	case s.Send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer, waits for it to finish and closes the connection.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.started
		close(s.Send)
		s.mu.Unlock()

		if started {
			<-s.Done
		}

		if s.Conn != nil {
			s.Conn.Close()
		}
		s.log.Debug("Session closed")
	})
}

// IsActive reports whether the writer is still running.
func (s *Session) IsActive() bool {
	select {
	case <-s.Done:
		return false
	default:
		return true
	}
}
