package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/core"
)

func (h *Handler) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			// Closing the conn here unblocks a readPump stuck in ReadMessage,
			// so server shutdown still runs the full Closing sequence.
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout())); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

// deliverPump drains the session's bus subscription and forwards whatever
// the controller decides belongs to this client.
func (h *Handler) deliverPump(ctx context.Context, sess *app.Session, ctrl app.Controller, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sess.Sub.Events():
			if !ok {
				return
			}
			frame, fwd := ctrl.Forward(sess, ev)
			if !fwd {
				continue
			}
			if err := c.TrySend(frame); err != nil {
				log.Warn().Err(err).Str("module", "ws").Str("sid", string(sess.ID)).Msg("deliver dropped")
			}
		}
	}
}

func (h *Handler) readPump(ctx context.Context, cancel context.CancelFunc, sess *app.Session, ctrl app.Controller, c *wsConn) {
	defer func() {
		log.Info().Str("module", "ws").Str("sid", string(sess.ID)).Msg("readPump closing")
		cancel()
		// Fresh context: the session one is already canceled, and the Closing
		// sequence still has store round-trips to run.
		ctrl.Close(context.Background(), sess)
		h.Registry.Unbind(sess.ID)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "ws").Str("sid", string(sess.ID)).Msg("readPump read error")
				return
			}
			h.handleFrame(ctx, sess, ctrl, data)
		}
	}
}

// handleFrame guards the frame boundary: whatever goes wrong inside one
// frame must not take the session's goroutine down with it, or presence
// leaks and peers never see the departure.
func (h *Handler) handleFrame(ctx context.Context, sess *app.Session, ctrl app.Controller, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("module", "ws").Str("sid", string(sess.ID)).Msg("frame handler panic")
		}
	}()
	ctrl.HandleFrame(ctx, sess, core.Frame(data))
}
