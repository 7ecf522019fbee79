package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/core"
)

// Redis fans out over one pub/sub channel per group, so sessions on
// different server instances observe the same per-group event order.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func channel(group string) string {
	return "group:" + group
}

func (b *Redis) Publish(ctx context.Context, group string, ev core.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus publish %s: %w", group, err)
	}
	if err := b.client.Publish(ctx, channel(group), body).Err(); err != nil {
		return fmt.Errorf("bus publish %s: %w", group, err)
	}
	return nil
}

func (b *Redis) Subscribe(ctx context.Context, group string) (core.Subscription, error) {
	ps := b.client.Subscribe(ctx, channel(group))
	// Receive blocks until redis confirms the subscription; events published
	// after this point are guaranteed to reach the subscriber.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus subscribe %s: %w", group, err)
	}
	s := &redisSub{ps: ps, group: group, ch: make(chan core.Event, subBuffer)}
	go s.loop()
	return s, nil
}

type redisSub struct {
	ps    *redis.PubSub
	group string
	ch    chan core.Event
}

func (s *redisSub) loop() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var ev core.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warn().Err(err).Str("module", "bus").Str("group", s.group).Msg("undecodable event dropped")
			continue
		}
		select {
		case s.ch <- ev:
		default:
			log.Warn().Str("module", "bus").Str("group", s.group).Msg("slow subscriber, event dropped")
		}
	}
}

func (s *redisSub) Events() <-chan core.Event { return s.ch }

func (s *redisSub) Close() error {
	return s.ps.Close()
}
