// Package presence implements the occupancy registry over redis sets, the
// one mutable resource shared by every server instance.
package presence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func key(group string) string {
	return "room:" + group + ":users"
}

// Join adds identity to the group set and returns the resulting count.
// SADD is a no-op for an identity already present, so double joins never
// inflate occupancy.
func (p *Redis) Join(ctx context.Context, group, identity string) (int64, error) {
	if err := p.client.SAdd(ctx, key(group), identity).Err(); err != nil {
		return 0, fmt.Errorf("presence join %s: %w", group, err)
	}
	count, err := p.client.SCard(ctx, key(group)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence join %s: %w", group, err)
	}
	log.Debug().Str("module", "presence").Str("group", group).Str("user", identity).Int64("count", count).Msg("joined")
	return count, nil
}

func (p *Redis) Leave(ctx context.Context, group, identity string) (int64, error) {
	if err := p.client.SRem(ctx, key(group), identity).Err(); err != nil {
		return 0, fmt.Errorf("presence leave %s: %w", group, err)
	}
	count, err := p.client.SCard(ctx, key(group)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence leave %s: %w", group, err)
	}
	log.Debug().Str("module", "presence").Str("group", group).Str("user", identity).Int64("count", count).Msg("left")
	return count, nil
}

func (p *Redis) Members(ctx context.Context, group string) ([]string, error) {
	members, err := p.client.SMembers(ctx, key(group)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members %s: %w", group, err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

func (p *Redis) Count(ctx context.Context, group string) (int64, error) {
	count, err := p.client.SCard(ctx, key(group)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", group, err)
	}
	return count, nil
}
