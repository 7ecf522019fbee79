package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
)

// IdentityKey is where the auth middleware leaves the resolved user on the
// gin context. A connection without one is rejected before admission.
const IdentityKey = "identity"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	Rooms    core.RoomStore
	Registry *app.Registry
	Chat     *app.ChatController
	Video    *app.VideoController

	ReadLimit    int64
	SendBuffer   int
	WriteTimeout time.Duration
}

func (h *Handler) HandleChat(ctx context.Context, c *gin.Context) {
	h.serve(ctx, c, domain.CategoryChat, h.Chat)
}

func (h *Handler) HandleVideo(ctx context.Context, c *gin.Context) {
	h.serve(ctx, c, domain.CategoryVideo, h.Video)
}

func (h *Handler) sendBuffer() int {
	if h.SendBuffer > 0 {
		return h.SendBuffer
	}
	return 32
}

func (h *Handler) writeTimeout() time.Duration {
	if h.WriteTimeout > 0 {
		return h.WriteTimeout
	}
	return 5 * time.Second
}

func roomFullMessage(cat domain.RoomCategory) string {
	if cat == domain.CategoryVideo {
		return "This room is currently full."
	}
	return "Chat room is full. Please try again later."
}

func (h *Handler) serve(ctx context.Context, c *gin.Context, cat domain.RoomCategory, ctrl app.Controller) {
	wsc, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade")
		return
	}
	conn := &wsConn{conn: wsc, send: make(chan core.Frame, h.sendBuffer())}
	if h.ReadLimit > 0 {
		wsc.SetReadLimit(h.ReadLimit)
	}

	user, ok := identityFrom(c)
	if !ok {
		log.Warn().Str("module", "ws").Str("room", c.Param("room")).Msg("unauthenticated connection")
		conn.CloseWithCode(CloseInvalid, "unauthenticated")
		return
	}

	roomID := domain.RoomID(c.Param("room"))
	room, err := h.Rooms.Room(c.Request.Context(), roomID)
	if err != nil || room.Category != cat {
		log.Warn().Err(err).Str("module", "ws").Str("room", string(roomID)).Str("user", user.Username).Msg("room invalid")
		conn.CloseWithCode(CloseInvalid, "room invalid")
		return
	}

	sess := app.NewSession(user, room, conn)
	if err := ctrl.Admit(ctx, sess); err != nil {
		h.rejectAdmission(wsc, conn, cat, err)
		return
	}

	sessCtx, cancel := context.WithCancel(ctx)
	h.Registry.Bind(sess, cancel)

	go h.writePump(sessCtx, conn)
	go h.deliverPump(sessCtx, sess, ctrl, conn)
	go h.readPump(sessCtx, cancel, sess, ctrl, conn)
}

// rejectAdmission runs before any pump exists, so the error notice is
// written on the raw socket directly.
func (h *Handler) rejectAdmission(wsc *websocket.Conn, conn *wsConn, cat domain.RoomCategory, err error) {
	if errors.Is(err, core.ErrRoomFull) {
		notice, _ := json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{"error", roomFullMessage(cat)})
		_ = wsc.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
		_ = wsc.WriteMessage(websocket.TextMessage, notice)
		conn.CloseWithCode(CloseRoomFull, "room full")
		return
	}
	// Dependency failure: admission fails closed, with a code clients do not
	// treat as a protocol rejection.
	log.Error().Err(err).Str("module", "ws").Msg("admission failed")
	conn.CloseWithCode(websocket.CloseInternalServerErr, "admission failed")
}

func identityFrom(c *gin.Context) (domain.User, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return domain.User{}, false
	}
	u, ok := v.(domain.User)
	return u, ok
}
