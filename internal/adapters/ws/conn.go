// Package ws is the websocket transport adapter: upgrade, pump loops and
// the close-code contract clients rely on.
package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/relay/internal/core"
)

// Application close codes. Clients use these to tell a non-retryable
// rejection (bad auth / bad room) from a retryable one (room full).
const (
	CloseInvalid  = 4001
	CloseRoomFull = 4002
)

var ErrBackpressure = errors.New("backpressure")

const controlWriteWait = time.Second

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// CloseWithCode sends a close frame best-effort, then tears the connection
// down. WriteControl is safe next to a concurrent writePump write.
func (c *wsConn) CloseWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteWait))
	c.Close()
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
