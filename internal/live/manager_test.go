package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matjip-chat/internal/events"
	matjip_errors "matjip-chat/pkg/errors"
)

type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	silent  bool
	accepts atomic.Int32

	mu     sync.Mutex
	writeM sync.Mutex
	conns  []*websocket.Conn
	frames []events.Frame
}

func newTestServer(t *testing.T, silent bool) *testServer {
	ts := &testServer{silent: silent}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ts.accepts.Add(1)
	ts.mu.Lock()
	ts.conns = append(ts.conns, conn)
	ts.mu.Unlock()

	ts.writeFrame(conn, events.Frame{Type: events.FrameConnected, UserID: 1, HeartbeatMs: 20, ReconnectMs: 10})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := events.DecodeFrame(data)
		if err != nil {
			continue
		}
		ts.mu.Lock()
		ts.frames = append(ts.frames, f)
		ts.mu.Unlock()
		if f.Type == events.FramePing && !ts.silent {
			ts.writeFrame(conn, events.Frame{Type: events.FramePong})
		}
	}
}

func (ts *testServer) writeFrame(conn *websocket.Conn, f events.Frame) {
	data, _ := events.EncodeFrame(f)
	ts.writeM.Lock()
	defer ts.writeM.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (ts *testServer) push(channel, payload string) {
	ts.mu.Lock()
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()
	ts.writeFrame(conn, events.NewEventFrame(channel, []byte(payload)))
}

func (ts *testServer) dropAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		_ = c.Close()
	}
}

func (ts *testServer) subscribesSince(n int) []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []string
	for _, f := range ts.frames[n:] {
		if f.Type == events.FrameSubscribe {
			out = append(out, f.Channel)
		}
	}
	return out
}

func (ts *testServer) frameCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.frames)
}

func newTestManager(url string) *Manager {
	return NewManager(Options{
		URL:               url,
		ReconnectDelay:    10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	}, nil, nil)
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	ts := newTestServer(t, false)
	m := newTestManager(ts.url())
	defer m.Disconnect()

	m.Connect(Session{UserID: 1, Token: "good"})
	m.Connect(Session{UserID: 1, Token: "good"})
	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), ts.accepts.Load())
}

func TestManagerPublishWhenDisconnected(t *testing.T) {
	m := newTestManager("ws://127.0.0.1:1/ws")
	err := m.Publish(events.RoomReadChannel("r1"), nil)
	assert.ErrorIs(t, err, matjip_errors.ErrNotConnected)
}

func TestManagerReconnectResubscribes(t *testing.T) {
	ts := newTestServer(t, false)
	m := newTestManager(ts.url())
	defer m.Disconnect()

	var mu sync.Mutex
	var got []string
	record := func(p json.RawMessage) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
	}
	m.Registry().Subscribe("room:r1", record)
	m.Registry().Subscribe("user:1:notifications", record)

	m.Connect(Session{UserID: 1, Token: "good"})
	require.Eventually(t, func() bool {
		return len(ts.subscribesSince(0)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mark := ts.frameCount()
	ts.dropAll()

	require.Eventually(t, func() bool {
		return ts.accepts.Load() == 2 && len(ts.subscribesSince(mark)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"room:r1", "user:1:notifications"}, ts.subscribesSince(mark))
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)

	ts.push("room:r1", `{"id":1}`)
	ts.push("user:1:notifications", `{"id":2}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerReplaysBeforeConnectedFires(t *testing.T) {
	ts := newTestServer(t, false)
	m := newTestManager(ts.url())
	defer m.Disconnect()

	m.Registry().Subscribe("room:r1", func(json.RawMessage) {})
	m.OnStateChange(func(s State) {
		if s == StateConnected {
			_ = m.Publish(events.RoomReadChannel("r1"), nil)
		}
	})
	m.Connect(Session{UserID: 1, Token: "good"})

	require.Eventually(t, func() bool { return ts.frameCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	assert.Equal(t, events.FrameSubscribe, ts.frames[0].Type)
	assert.Equal(t, "room:r1", ts.frames[0].Channel)
	assert.Equal(t, events.FramePublish, ts.frames[1].Type)
	assert.Equal(t, "room:r1:read", ts.frames[1].Channel)
}

func TestManagerStalledReplayDoesNotBlockCallers(t *testing.T) {
	ts := newTestServer(t, false)
	m := newTestManager(ts.url())
	defer m.Disconnect()

	m.Registry().Subscribe("room:r1", func(json.RawMessage) {})

	// Hold the socket writer so the replay stalls mid-handshake.
	m.writeMu.Lock()
	m.Connect(Session{UserID: 1, Token: "good"})
	require.Eventually(t, func() bool { return ts.accepts.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Equal(t, StateConnecting, m.State())
		assert.ErrorIs(t, m.Publish(events.RoomReadChannel("r1"), nil), matjip_errors.ErrNotConnected)
		m.Registry().Subscribe("room:r2", func(json.RawMessage) {})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callers blocked behind the replay")
	}
	m.writeMu.Unlock()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ts.subscribesSince(0)) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"room:r1", "room:r2"}, ts.subscribesSince(0))
}

func TestManagerMissedHeartbeatsForceReconnect(t *testing.T) {
	ts := newTestServer(t, true)
	m := newTestManager(ts.url())
	defer m.Disconnect()

	var states []State
	var mu sync.Mutex
	m.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	m.Connect(Session{UserID: 1, Token: "good"})
	require.Eventually(t, func() bool { return ts.accepts.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(states), 4)
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting}, states[:4])
}

func TestManagerDisconnectClearsRegistryAndStops(t *testing.T) {
	ts := newTestServer(t, false)
	m := newTestManager(ts.url())

	m.Registry().Subscribe("room:r1", func(json.RawMessage) {})
	m.Connect(Session{UserID: 1, Token: "good"})
	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)

	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, m.Registry().Keys())
	_, ok := m.Session()
	assert.False(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), ts.accepts.Load())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManagerRejectedSessionStopsRetrying(t *testing.T) {
	ts := newTestServer(t, false)
	m := newTestManager(ts.url())

	m.Connect(Session{UserID: 1, Token: "bad"})
	require.Eventually(t, func() bool {
		_, ok := m.Session()
		return !ok && m.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), ts.accepts.Load())
}
