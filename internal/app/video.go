package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/core"
)

// VideoController runs peer discovery and the addressed signaling relay.
// The bus stays broadcast-only; each session filters by the envelope's
// recipient, which is fine for groups bounded by call capacity.
type VideoController struct {
	Presence core.Presence
	Bus      core.Bus
	Capacity int
}

// Admit reads occupancy before adding the caller: at or over the limit
// means reject, and the reject path never has to undo anything. The
// member snapshot taken here doubles as the existing_users notice, which is
// what makes peer discovery immune to join/announce races.
func (c *VideoController) Admit(ctx context.Context, s *Session) error {
	members, err := c.Presence.Members(ctx, s.Group)
	if err != nil {
		return fmt.Errorf("video admit: %w", err)
	}
	if len(members) >= c.Capacity {
		return core.ErrRoomFull
	}

	sub, err := c.Bus.Subscribe(ctx, s.Group)
	if err != nil {
		return fmt.Errorf("video admit: %w", err)
	}
	if _, err := c.Presence.Join(ctx, s.Group, s.User.Username); err != nil {
		_ = sub.Close()
		return fmt.Errorf("video admit: %w", err)
	}
	s.Sub = sub
	s.advance(StateAdmitted)

	log.Info().Str("module", "app.video").Str("group", s.Group).Str("user", s.User.Username).Msg("peer connected")

	out, err := json.Marshal(struct {
		Type  string   `json:"type"`
		Users []string `json:"users"`
	}{"existing_users", members})
	if err == nil {
		if serr := s.Conn.TrySend(out); serr != nil {
			log.Warn().Err(serr).Str("module", "app.video").Str("sid", string(s.ID)).Msg("send existing users")
		}
	}

	// Exclude carries our session id so self-delivery of the announcement is
	// filtered in Forward, not suppressed at the bus.
	if err := c.Bus.Publish(ctx, s.Group, core.Event{Kind: core.EventNewPeer, Username: s.User.Username, Exclude: s.ID}); err != nil {
		log.Warn().Err(err).Str("module", "app.video").Str("group", s.Group).Msg("publish new peer")
	}
	s.advance(StateActive)
	return nil
}

// HandleFrame relays one signaling envelope. Frames without a recipient are
// dropped; otherwise the sender identity is stamped in and the full envelope
// goes to the group.
func (c *VideoController) HandleFrame(ctx context.Context, s *Session, data core.Frame) {
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("module", "app.video").Str("group", s.Group).Msg("bad signal frame")
		return
	}
	to, _ := env["to"].(string)
	if to == "" {
		return
	}
	env["from"] = s.User.Username

	payload, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.video").Msg("marshal envelope")
		return
	}
	ev := core.Event{Kind: core.EventSignal, From: s.User.Username, To: to, Payload: payload}
	if err := c.Bus.Publish(ctx, s.Group, ev); err != nil {
		log.Error().Err(err).Str("module", "app.video").Str("group", s.Group).Msg("publish envelope")
	}
}

func (c *VideoController) Forward(s *Session, ev core.Event) (core.Frame, bool) {
	switch ev.Kind {
	case core.EventSignal:
		if ev.To != s.User.Username {
			return nil, false
		}
		return core.Frame(ev.Payload), true
	case core.EventNewPeer:
		if ev.Exclude == s.ID {
			return nil, false
		}
		out, err := json.Marshal(struct {
			Type     string `json:"type"`
			Username string `json:"username"`
		}{"new_peer", ev.Username})
		if err != nil {
			return nil, false
		}
		return out, true
	case core.EventUserLeft:
		out, err := json.Marshal(struct {
			Type string `json:"type"`
			From string `json:"from"`
		}{"user_left", ev.From})
		if err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

// Close removes presence first, then tells the remaining peers who left so
// they can tear down their side of the call.
func (c *VideoController) Close(ctx context.Context, s *Session) {
	if !s.advance(StateClosing) {
		return
	}
	if _, err := c.Presence.Leave(ctx, s.Group, s.User.Username); err != nil {
		log.Error().Err(err).Str("module", "app.video").Str("group", s.Group).Msg("presence leave")
	}
	if err := c.Bus.Publish(ctx, s.Group, core.Event{Kind: core.EventUserLeft, From: s.User.Username}); err != nil {
		log.Warn().Err(err).Str("module", "app.video").Str("group", s.Group).Msg("publish user left")
	}
	if s.Sub != nil {
		_ = s.Sub.Close()
	}
	log.Info().Str("module", "app.video").Str("group", s.Group).Str("user", s.User.Username).Msg("peer disconnected")
	s.advance(StateClosed)
}
