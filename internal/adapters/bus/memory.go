// Package bus provides the group fan-out primitive. Events published to a
// group reach every current subscriber of that group, publisher included.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/core"
)

const subBuffer = 32

// Memory is a single-process bus. Suitable for standalone deployments and
// tests; a multi-instance deployment needs the redis bus.
type Memory struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memorySub)}
}

func (b *Memory) Subscribe(_ context.Context, group string) (core.Subscription, error) {
	s := &memorySub{bus: b, group: group, ch: make(chan core.Event, subBuffer)}
	b.mu.Lock()
	b.subs[group] = append(b.subs[group], s)
	b.mu.Unlock()
	return s, nil
}

// Publish delivers under the bus lock, which serializes publishers and gives
// per-group FIFO. A subscriber with a full buffer loses the event; the
// publisher never blocks on it.
func (b *Memory) Publish(_ context.Context, group string, ev core.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[group] {
		select {
		case s.ch <- ev:
		default:
			log.Warn().Str("module", "bus").Str("group", group).Msg("slow subscriber, event dropped")
		}
	}
	return nil
}

type memorySub struct {
	bus   *Memory
	group string
	ch    chan core.Event
	once  sync.Once
}

func (s *memorySub) Events() <-chan core.Event { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		list := b.subs[s.group]
		for i, cur := range list {
			if cur == s {
				b.subs[s.group] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[s.group]) == 0 {
			delete(b.subs, s.group)
		}
		// Closing under the lock: no publisher can be mid-send on this channel.
		close(s.ch)
		b.mu.Unlock()
	})
	return nil
}
