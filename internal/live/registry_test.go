package live

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"matjip-chat/internal/events"
)

type fakeTransport struct {
	mu           sync.Mutex
	subscribes   []string
	unsubscribes []string
	err          error
}

func (f *fakeTransport) SendSubscribe(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, channel)
	return f.err
}

func (f *fakeTransport) SendUnsubscribe(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, channel)
	return f.err
}

func TestRegistryCoalescesSubscriptions(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRegistry(nil)
	r.setTransport(tr)

	a := r.Subscribe("room:r1", func(json.RawMessage) {})
	b := r.Subscribe("room:r1", func(json.RawMessage) {})
	assert.Equal(t, []string{"room:r1"}, tr.subscribes)

	a.Close()
	a.Close()
	assert.Empty(t, tr.unsubscribes)
	assert.True(t, r.Has("room:r1"))

	b.Close()
	assert.Equal(t, []string{"room:r1"}, tr.unsubscribes)
	assert.False(t, r.Has("room:r1"))
}

func TestRegistryUnsubscribeRemovesAllHandlers(t *testing.T) {
	tr := &fakeTransport{}
	r := NewRegistry(nil)
	r.setTransport(tr)

	calls := 0
	r.Subscribe("room:r1", func(json.RawMessage) { calls++ })
	r.Subscribe("room:r1", func(json.RawMessage) { calls++ })

	r.Dispatch(events.NewEventFrame("room:r1", []byte(`{}`)))
	assert.Equal(t, 2, calls)

	r.Unsubscribe("room:r1")
	r.Unsubscribe("room:r1")
	assert.Equal(t, []string{"room:r1"}, tr.unsubscribes)

	r.Dispatch(events.NewEventFrame("room:r1", []byte(`{}`)))
	assert.Equal(t, 2, calls, "events after unsubscribe must be dropped")
}

func TestRegistryKeysAndClear(t *testing.T) {
	r := NewRegistry(nil)
	r.Subscribe("user:1:notifications", func(json.RawMessage) {})
	r.Subscribe("room:b", func(json.RawMessage) {})
	r.Subscribe("room:a", func(json.RawMessage) {})

	assert.Equal(t, []string{"room:a", "room:b", "user:1:notifications"}, r.Keys())

	r.Clear()
	assert.Empty(t, r.Keys())
}

func TestRegistryToleratesDisconnectedTransport(t *testing.T) {
	tr := &fakeTransport{err: assert.AnError}
	r := NewRegistry(nil)
	r.setTransport(tr)

	sub := r.Subscribe("room:r1", func(json.RawMessage) {})
	assert.Equal(t, []string{"room:r1"}, r.Keys())
	sub.Close()
	assert.Empty(t, r.Keys())
}
