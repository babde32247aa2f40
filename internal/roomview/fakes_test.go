package roomview

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"matjip-chat/internal/api"
	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/live"
)

type published struct {
	channel string
	payload any
}

type fakeConn struct {
	mu         sync.Mutex
	state      live.State
	published  []published
	publishErr error
	listeners  []func(live.State)
}

func (c *fakeConn) State() live.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) Publish(channel string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{channel: channel, payload: payload})
	return nil
}

func (c *fakeConn) OnStateChange(fn func(live.State)) func() {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
	return func() {}
}

func (c *fakeConn) setState(s live.State) {
	c.mu.Lock()
	c.state = s
	listeners := append([]func(live.State){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (c *fakeConn) publishedOn(channel string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, p := range c.published {
		if p.channel == channel {
			out = append(out, p)
		}
	}
	return out
}

type fakeAPI struct {
	mu        sync.Mutex
	pages     map[int][]domain.Message
	last      bool
	getErr    error
	sendResp  domain.Message
	sendErr   error
	sent      []string
	markReads int
	getCalls  int
	// onSend runs while the send request is in flight.
	onSend func()
}

func (a *fakeAPI) GetMessages(_ context.Context, _ api.RoomRef, page, size int) (domain.Page[domain.Message], error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getCalls++
	if a.getErr != nil {
		return domain.Page[domain.Message]{}, a.getErr
	}
	content := append([]domain.Message(nil), a.pages[page]...)
	p := domain.NewPage(content, page, size, int64(len(content)))
	p.Last = a.last || a.pages[page+1] == nil
	return p, nil
}

func (a *fakeAPI) SendMessage(_ context.Context, _ api.RoomRef, content, _ string) (domain.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, content)
	if a.onSend != nil {
		a.onSend()
	}
	if a.sendErr != nil {
		return domain.Message{}, a.sendErr
	}
	return a.sendResp, nil
}

func (a *fakeAPI) MarkRead(context.Context, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markReads++
	return nil
}

func (a *fakeAPI) setPage(page int, msgs ...domain.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pages == nil {
		a.pages = make(map[int][]domain.Message)
	}
	a.pages[page] = msgs
}

func (a *fakeAPI) markReadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markReads
}

const me int64 = 1

type harness struct {
	view     *View
	api      *fakeAPI
	conn     *fakeConn
	registry *live.Registry
	room     domain.Room
}

func newHarness(t *testing.T, room domain.Room, state live.State, initial ...domain.Message) *harness {
	t.Helper()
	h := &harness{
		api:      &fakeAPI{},
		conn:     &fakeConn{state: state},
		registry: live.NewRegistry(nil),
		room:     room,
	}
	h.api.setPage(0, initial...)
	v, err := Open(context.Background(), room, h.api, h.conn, h.registry, Options{UserID: me})
	require.NoError(t, err)
	t.Cleanup(v.Close)
	h.view = v
	return h
}

func (h *harness) deliver(t *testing.T, channel string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	h.registry.Dispatch(events.NewEventFrame(channel, data))
}
