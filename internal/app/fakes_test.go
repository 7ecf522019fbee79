package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
)

type fakePresence struct {
	mu     sync.Mutex
	groups map[string]map[string]struct{}
	fail   error
}

func newFakePresence() *fakePresence {
	return &fakePresence{groups: make(map[string]map[string]struct{})}
}

func (f *fakePresence) Join(_ context.Context, group, identity string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	if f.groups[group] == nil {
		f.groups[group] = make(map[string]struct{})
	}
	f.groups[group][identity] = struct{}{}
	return int64(len(f.groups[group])), nil
}

func (f *fakePresence) Leave(_ context.Context, group, identity string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	delete(f.groups[group], identity)
	return int64(len(f.groups[group])), nil
}

func (f *fakePresence) Members(_ context.Context, group string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([]string, 0, len(f.groups[group]))
	for id := range f.groups[group] {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakePresence) Count(_ context.Context, group string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return 0, f.fail
	}
	return int64(len(f.groups[group])), nil
}

type fakeMessages struct {
	mu    sync.Mutex
	saved []*domain.Message
	fail  error
}

func (f *fakeMessages) SaveMessage(_ context.Context, room domain.RoomID, author domain.UserID, body string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	msg := &domain.Message{
		ID:        domain.MessageID(fmt.Sprintf("m%d", len(f.saved)+1)),
		Room:      room,
		Body:      body,
		CreatedBy: domain.User{ID: author, Username: string(author)},
		CreatedAt: time.Now().UTC(),
	}
	f.saved = append(f.saved, msg)
	return msg, nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeConn struct {
	mu        sync.Mutex
	frames    []core.Frame
	closed    bool
	closeCode int
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) CloseWithCode(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// startDeliver mimics the ws deliver pump: forward bus events into the
// session's conn until the subscription closes.
func startDeliver(ctrl Controller, s *Session) {
	go func() {
		for ev := range s.Sub.Events() {
			if frame, ok := ctrl.Forward(s, ev); ok {
				_ = s.Conn.TrySend(frame)
			}
		}
	}()
}

func waitFrames(t *testing.T, c *fakeConn, n int) []core.Frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		frames := c.Frames()
		if len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %d", n, len(c.Frames()))
	return nil
}

func testUser(name string) domain.User {
	return domain.User{ID: domain.UserID(name), Username: name}
}

func chatRoom() *domain.Room {
	return &domain.Room{ID: "r1", Name: "general", Category: domain.CategoryChat, CreatedBy: "alice"}
}

func videoRoom() *domain.Room {
	return &domain.Room{ID: "r1", Name: "standup", Category: domain.CategoryVideo, CreatedBy: "alice"}
}
