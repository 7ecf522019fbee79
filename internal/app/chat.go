package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/core"
)

// ChatController runs the chat room protocol: capacity-gated admission,
// member count notices, and persist-then-broadcast message fan-out.
type ChatController struct {
	Presence core.Presence
	Bus      core.Bus
	Messages core.MessageStore
	Capacity int
	Limiter  *MessageRateLimiter
}

// Admit joins presence first and checks the resulting count. Capacity N
// means at most N concurrent members, so the check is "count after join
// <= N"; a rejected joiner is removed again immediately so no phantom
// occupant stays behind.
func (c *ChatController) Admit(ctx context.Context, s *Session) error {
	count, err := c.Presence.Join(ctx, s.Group, s.User.Username)
	if err != nil {
		return fmt.Errorf("chat admit: %w", err)
	}
	if count > int64(c.Capacity) {
		if _, err := c.Presence.Leave(ctx, s.Group, s.User.Username); err != nil {
			log.Error().Err(err).Str("module", "app.chat").Str("group", s.Group).Msg("undo rejected join")
		}
		return core.ErrRoomFull
	}
	s.advance(StateAdmitted)

	sub, err := c.Bus.Subscribe(ctx, s.Group)
	if err != nil {
		if _, lerr := c.Presence.Leave(ctx, s.Group, s.User.Username); lerr != nil {
			log.Error().Err(lerr).Str("module", "app.chat").Str("group", s.Group).Msg("undo join after subscribe failure")
		}
		return fmt.Errorf("chat admit: %w", err)
	}
	s.Sub = sub

	log.Info().Str("module", "app.chat").Str("group", s.Group).Str("user", s.User.Username).Int64("count", count).Msg("user connected")

	if err := c.Bus.Publish(ctx, s.Group, core.Event{Kind: core.EventMemberCount, Count: count}); err != nil {
		// Members catch up on the next join/leave; the session itself is fine.
		log.Warn().Err(err).Str("module", "app.chat").Str("group", s.Group).Msg("publish member count")
	}
	s.advance(StateActive)
	return nil
}

// HandleFrame expects {"message": string}. Empty or malformed frames are
// dropped without a reply so a buggy client cannot turn its own noise into
// visible room errors.
func (c *ChatController) HandleFrame(ctx context.Context, s *Session, data core.Frame) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		log.Debug().Err(err).Str("module", "app.chat").Str("group", s.Group).Msg("bad chat frame")
		return
	}
	if in.Message == "" {
		return
	}
	if c.Limiter != nil && !c.Limiter.Allow(s.User.ID) {
		log.Debug().Str("module", "app.chat").Str("user", s.User.Username).Msg("rate limited")
		return
	}

	msg, err := c.Messages.SaveMessage(ctx, s.Room.ID, s.User.ID, in.Message)
	if err != nil {
		// Persistence failure drops this one message; the session stays up.
		log.Error().Err(err).Str("module", "app.chat").Str("group", s.Group).Msg("save message")
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "app.chat").Msg("marshal message")
		return
	}
	if err := c.Bus.Publish(ctx, s.Group, core.Event{Kind: core.EventChatMessage, Payload: body}); err != nil {
		log.Error().Err(err).Str("module", "app.chat").Str("group", s.Group).Msg("publish message")
	}
}

// Forward relays persisted records verbatim to everyone, sender included;
// count notices are rewrapped into the client frame format.
func (c *ChatController) Forward(s *Session, ev core.Event) (core.Frame, bool) {
	switch ev.Kind {
	case core.EventChatMessage:
		return core.Frame(ev.Payload), true
	case core.EventMemberCount:
		out, err := json.Marshal(struct {
			Type  string `json:"type"`
			Count int64  `json:"count"`
		}{"user_count", ev.Count})
		if err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

// Close releases presence before announcing the new count, so a racing
// joiner can never read a stale occupancy that still includes us.
func (c *ChatController) Close(ctx context.Context, s *Session) {
	if !s.advance(StateClosing) {
		return
	}
	count, err := c.Presence.Leave(ctx, s.Group, s.User.Username)
	if err != nil {
		log.Error().Err(err).Str("module", "app.chat").Str("group", s.Group).Msg("presence leave")
	}
	if s.Sub != nil {
		_ = s.Sub.Close()
	}
	if err == nil {
		if perr := c.Bus.Publish(ctx, s.Group, core.Event{Kind: core.EventMemberCount, Count: count}); perr != nil {
			log.Warn().Err(perr).Str("module", "app.chat").Str("group", s.Group).Msg("publish member count")
		}
	}
	if c.Limiter != nil {
		c.Limiter.Forget(s.User.ID)
	}
	log.Info().Str("module", "app.chat").Str("group", s.Group).Str("user", s.User.Username).Msg("user disconnected")
	s.advance(StateClosed)
}
