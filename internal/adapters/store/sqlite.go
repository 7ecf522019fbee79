// Package store persists rooms, users and messages over SQLite. The relay
// only reads rooms and users; the create helpers exist for the management
// layer and for seeding.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	created_by TEXT NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(id),
	body TEXT NOT NULL,
	created_by TEXT NOT NULL REFERENCES users(id),
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);
`

type Store struct {
	db *sql.DB
}

// Open opens the store and applies the schema. Startup owns schema setup so
// callers never coordinate migrations themselves.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// One pooled conn, or each conn would see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Room(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, created_by FROM rooms WHERE id = ?`, string(id),
	).Scan(&room.ID, &room.Name, &room.Category, &room.CreatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch room %s: %w", id, err)
	}
	return &room, nil
}

func (s *Store) User(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username FROM users WHERE id = ?`, string(id),
	).Scan(&user.ID, &user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return &user, nil
}

// SaveMessage durably stores a chat message and returns the full record,
// author embedded, ready to serialize for broadcast.
func (s *Store) SaveMessage(ctx context.Context, room domain.RoomID, author domain.UserID, body string) (*domain.Message, error) {
	user, err := s.User(ctx, author)
	if err != nil {
		return nil, err
	}
	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		Room:      room,
		Body:      body,
		CreatedBy: *user,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, body, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(msg.ID), string(room), body, string(author), msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return msg, nil
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username) VALUES (?, ?)`, string(user.ID), user.Username,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, room *domain.Room) error {
	if !room.Category.Valid() {
		return fmt.Errorf("create room: bad category %q", room.Category)
	}
	if room.ID == "" {
		room.ID = domain.RoomID(uuid.NewString())
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, category, created_by) VALUES (?, ?, ?, ?)`,
		string(room.ID), room.Name, string(room.Category), string(room.CreatedBy),
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}
