package events

import (
	"context"
	"path"
	"sync"
)

// LocalBus is an in-process Bus for single node deployments and tests.
// Patterns use the same glob syntax as Redis PSUBSCRIBE for the channels this service emits.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[int]*localSub
	next int
}

type localSub struct {
	patterns []string
	ch       chan localMsg
}

type localMsg struct {
	channel string
	payload []byte
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[int]*localSub)}
}

func (b *LocalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.matches(channel) {
			continue
		}
		select {
		case s.ch <- localMsg{channel: channel, payload: payload}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error {
	sub := &localSub{patterns: patterns, ch: make(chan localMsg, 256)}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.ch:
			handler(msg.channel, msg.payload)
		}
	}
}

func (s *localSub) matches(channel string) bool {
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}
