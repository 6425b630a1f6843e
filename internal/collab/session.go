package collab

import (
	"sync"

	"github.com/google/uuid"
)

// Session is one authenticated connection's identity and subscription state.
// Identity is resolved once at connect time and never changes; a reconnecting
// client always gets a brand-new Session.
type Session struct {
	ID          string
	UserID      string
	DisplayName string
	ProjectID   string

	mu       sync.Mutex
	pageID   string
	outbound chan []byte
	closed   bool
}

// NewSession constructs a session with a fresh identifier and an outbound
// buffer of the given size.
func NewSession(userID, displayName, projectID string, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		ProjectID:   projectID,
		outbound:    make(chan []byte, bufferSize),
	}
}

// PageID returns the page the session is currently subscribed to, if any.
func (s *Session) PageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageID
}

// setPage records the current subscription and returns the page it replaced.
func (s *Session) setPage(pageID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.pageID
	s.pageID = pageID
	return previous
}

// Outbound exposes the stream of marshalled messages to be written to the
// connection.
func (s *Session) Outbound() <-chan []byte {
	return s.outbound
}

// send enqueues a payload without blocking. A slow consumer loses messages
// rather than stalling the broadcaster; delivery is best-effort.
func (s *Session) send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.outbound <- payload:
		return true
	default:
		return false
	}
}

// close terminates the outbound stream. Safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbound)
}
