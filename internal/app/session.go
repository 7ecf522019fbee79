// Package app holds the room protocols: admission, fan-out handling and the
// session lifecycle they hang off.
package app

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
)

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAdmitted
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live client connection bound to a room group. It owns one
// bus subscription and one presence entry; both are released in Closing.
type Session struct {
	ID    core.SessionID
	User  domain.User
	Room  *domain.Room
	Group string

	Conn core.ClientConn
	Sub  core.Subscription

	state atomic.Int32
}

func NewSession(user domain.User, room *domain.Room, conn core.ClientConn) *Session {
	return &Session{
		ID:    core.SessionID(uuid.NewString()),
		User:  user,
		Room:  room,
		Group: domain.GroupKey(room.Category, room.ID),
		Conn:  conn,
	}
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// advance moves the state forward. Transitions never go backwards; returns
// false when the session already reached (or passed) the target, which makes
// the Closing sequence safe to trigger from several goroutines.
func (s *Session) advance(to SessionState) bool {
	for {
		cur := s.state.Load()
		if SessionState(cur) >= to {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}
