package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/trip-negotiation/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// Message is the envelope written to websocket clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsConn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSSession is one connected user. Writes go through a buffered channel
// drained by a single goroutine.
type WSSession struct {
	userID string
	conn   wsConn
	send   chan Message
	done   chan struct{}
	once   sync.Once
}

func (s *WSSession) writeLoop(r *WSRegistry) {
	defer r.Remove(s)
	for msg := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteJSON(msg); err != nil {
			r.logger.Warn("ws send failed", "user_id", s.userID, "error", err)
			return
		}
	}
}

// Done is closed once the session has been dropped.
func (s *WSSession) Done() <-chan struct{} { return s.done }

// WSRegistry holds at most one session per user; a new connection
// replaces the old one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	buffer   int
	logger   *slog.Logger
}

func NewWSRegistry(buffer int, logger *slog.Logger) *WSRegistry {
	if buffer <= 0 {
		buffer = 16
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), buffer: buffer, logger: logger}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) *WSSession {
	return r.add(userID, conn)
}

func (r *WSRegistry) add(userID string, conn wsConn) *WSSession {
	s := &WSSession{userID: userID, conn: conn, send: make(chan Message, r.buffer), done: make(chan struct{})}
	r.mu.Lock()
	old := r.sessions[userID]
	r.sessions[userID] = s
	r.mu.Unlock()
	if old != nil {
		r.drop(old)
	} else {
		observability.NotificationSessions.Inc()
	}
	go s.writeLoop(r)
	return s
}

// Remove drops the session if it is still the registered one for its user.
func (r *WSRegistry) Remove(s *WSSession) {
	r.mu.Lock()
	current := r.sessions[s.userID] == s
	if current {
		delete(r.sessions, s.userID)
	}
	r.mu.Unlock()
	if current {
		observability.NotificationSessions.Dec()
	}
	r.drop(s)
}

func (r *WSRegistry) drop(s *WSSession) {
	s.once.Do(func() {
		close(s.done)
		close(s.send)
		_ = s.conn.Close()
	})
}

// Notify queues msg for the user. A full buffer means the client stopped
// reading, so the session is dropped.
func (r *WSRegistry) Notify(userID string, msg Message) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return ErrNoSession
	}
	select {
	case <-s.done:
		return ErrNoSession
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		r.logger.Warn("ws buffer full, dropping session", "user_id", userID)
		go r.Remove(s)
		return ErrNoSession
	}
}

func (r *WSRegistry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}
