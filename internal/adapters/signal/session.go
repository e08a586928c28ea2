package signal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhan2892005/study-space-media/internal/core"
	"github.com/nhan2892005/study-space-media/internal/domain"
	"github.com/nhan2892005/study-space-media/internal/media"
)

type SessionState int32

const (
	StateConnected SessionState = iota
	StateAuthenticated
	StateInRoom
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "inRoom"
	default:
		return "closed"
	}
}

// Session is the server-side state machine for one signaling
// connection. All fields behind mu; never hold mu across network I/O or
// across another session's lock.
type Session struct {
	id   string
	ctx  context.Context
	conn core.SignalConnection

	lastSeen atomic.Int64 // unix nano

	mu            sync.Mutex
	state         SessionState
	user          *domain.User
	roomID        domain.ChannelID
	router        *media.Router
	sendTransport string
	recvTransport string
	producers     map[string]string // producer id -> tag
	consumers     map[string]struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) User() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) Room() domain.ChannelID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// roomView returns the in-room snapshot needed by handlers, or false if
// the session is not in the named room.
func (s *Session) roomView(channelID string) (*media.Router, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInRoom || s.router == nil {
		return nil, false
	}
	if channelID != "" && s.roomID != domain.ChannelID(channelID) {
		return nil, false
	}
	return s.router, true
}
