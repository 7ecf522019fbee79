package core

import (
	"context"
	"errors"

	"github.com/dkeye/relay/internal/domain"
)

// Frame is a raw payload crossing the client transport.
type Frame []byte

type SessionID string

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrRoomFull        = errors.New("room full")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ClientConn abstracts the client-facing transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type ClientConn interface {
	TrySend(Frame) error
	CloseWithCode(code int, reason string)
	Close()
}

// Presence is the cross-instance occupancy set per group. Every mutation is
// atomic in the backing store; Join is idempotent per identity. Any error
// means the caller must reject, never admit.
type Presence interface {
	Join(ctx context.Context, group, identity string) (int64, error)
	Leave(ctx context.Context, group, identity string) (int64, error)
	Members(ctx context.Context, group string) ([]string, error)
	Count(ctx context.Context, group string) (int64, error)
}

// Subscription is one session's binding to a group. Close unsubscribes and
// eventually closes the Events channel.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Bus fans events out to every current subscriber of a group, publisher
// included. Per-group FIFO; no ordering across groups. The bus knows nothing
// about rooms, identities or capacity.
type Bus interface {
	Subscribe(ctx context.Context, group string) (Subscription, error)
	Publish(ctx context.Context, group string, ev Event) error
}

// RoomStore resolves room metadata; read-only to the relay.
type RoomStore interface {
	Room(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

type UserStore interface {
	User(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// MessageStore mints the durable chat record; the relay never invents
// message ids or timestamps itself.
type MessageStore interface {
	SaveMessage(ctx context.Context, room domain.RoomID, author domain.UserID, body string) (*domain.Message, error)
}
