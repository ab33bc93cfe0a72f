package chat

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// UnknownUser is the identity of a session that has not authenticated yet.
const UnknownUser = "UNKNOWN_USER"

// State is the protocol state of a session.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the server side of one client connection.
// Conn is owned by the session; everything else talks to the peer through Send.
type Session struct {
	ID         string
	Conn       net.Conn
	RemoteAddr string

	username atomic.Pointer[string]
	state    atomic.Int32

	mu     sync.Mutex
	closed bool
	out    chan []byte
}

func NewSession(conn net.Conn, outboundBuffer int) *Session {
	if outboundBuffer <= 0 {
		outboundBuffer = 32
	}
	s := &Session{
		ID:   uuid.NewString(),
		Conn: conn,
		out:  make(chan []byte, outboundBuffer),
	}
	if conn != nil {
		s.RemoteAddr = conn.RemoteAddr().String()
	}
	s.setUsername(UnknownUser)
	return s
}

func (s *Session) Username() string {
	return *s.username.Load()
}

func (s *Session) setUsername(name string) {
	s.username.Store(&name)
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) Authenticated() bool {
	return s.State() == StateAuthenticated
}

// Send queues b for the outbound writer without blocking.
func (s *Session) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.out <- b:
		return nil
	default:
		return ErrOutboundFull
	}
}

// Outbound is drained by the session's writer goroutine.
func (s *Session) Outbound() <-chan []byte {
	return s.out
}

// Close stops accepting outbound messages. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}
