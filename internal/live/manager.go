package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"matjip-chat/internal/events"
	matjip_errors "matjip-chat/pkg/errors"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultHeartbeatInterval = 4 * time.Second
	DefaultMissedHeartbeats  = 3
	DefaultHandshakeTimeout  = 10 * time.Second

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Session identifies the authenticated user a connection is scoped to.
type Session struct {
	UserID int64
	Token  string
}

type Options struct {
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	MissedHeartbeats  int
	HandshakeTimeout  time.Duration
	Dialer            *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.MissedHeartbeats <= 0 {
		o.MissedHeartbeats = DefaultMissedHeartbeats
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = o.HandshakeTimeout
		o.Dialer = &d
	}
	return o
}

// Manager owns the single live connection of a client session. Failures never reach callers;
// they become state transitions and background reconnects.
type Manager struct {
	opts     Options
	registry *Registry
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	session    *Session
	generation uint64
	cancel     context.CancelFunc
	conn       *websocket.Conn
	heartbeat  time.Duration
	reconnect  time.Duration
	listeners  map[int]func(State)
	nextListen int

	writeMu sync.Mutex
}

func NewManager(opts Options, registry *Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry(logger)
	}
	opts = opts.withDefaults()
	m := &Manager{
		opts:      opts,
		registry:  registry,
		logger:    logger,
		heartbeat: opts.HeartbeatInterval,
		reconnect: opts.ReconnectDelay,
		listeners: make(map[int]func(State)),
	}
	registry.setTransport(m)
	return m
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the active session, if any.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// OnStateChange registers fn for every state transition and returns a function that removes it.
// Listeners run outside the manager lock and must not block.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextListen
	m.nextListen++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Connect starts the connection loop for sess. It is a no-op while a session is active.
func (m *Manager) Connect(sess Session) {
	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return
	}
	m.generation++
	gen := m.generation
	ctx, cancel := context.WithCancel(context.Background())
	m.session = &sess
	m.cancel = cancel
	m.heartbeat = m.opts.HeartbeatInterval
	m.reconnect = m.opts.ReconnectDelay
	m.mu.Unlock()

	m.setState(gen, StateConnecting)
	go m.run(ctx, gen, sess)
}

// Disconnect tears down the connection and clears the registry. An in-flight dial observes the
// new generation and aborts.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.session = nil
	cancel := m.cancel
	m.cancel = nil
	conn := m.conn
	m.conn = nil
	prev := m.state
	m.state = StateDisconnected
	m.registry.Clear()
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	cancel()
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(writeWait))
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	if prev != StateDisconnected {
		notify(listeners, StateDisconnected)
	}
}

// Publish sends payload on channel. It never queues: ErrNotConnected means the caller should
// take the fallback path.
func (m *Manager) Publish(channel string, payload any) error {
	f, err := events.NewPublishFrame(channel, payload)
	if err != nil {
		return err
	}
	return m.send(f)
}

func (m *Manager) SendSubscribe(channel string) error {
	return m.send(events.Frame{Type: events.FrameSubscribe, Channel: channel})
}

func (m *Manager) SendUnsubscribe(channel string) error {
	return m.send(events.Frame{Type: events.FrameUnsubscribe, Channel: channel})
}

func (m *Manager) send(f events.Frame) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return matjip_errors.ErrNotConnected
	}
	if err := m.write(conn, f); err != nil {
		m.logger.Debug("live write failed", zap.String("type", string(f.Type)), zap.Error(err))
		return fmt.Errorf("%w: %v", matjip_errors.ErrNotConnected, err)
	}
	return nil
}

func (m *Manager) write(conn *websocket.Conn, f events.Frame) error {
	data, err := events.EncodeFrame(f)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) run(ctx context.Context, gen uint64, sess Session) {
	log := m.logger.With(zap.Int64("user_id", sess.UserID))
	for {
		conn, welcome, err := m.dial(ctx, sess)
		if err == nil {
			if !m.attach(gen, conn, welcome) {
				_ = conn.Close()
				return
			}
			log.Info("live connection established")
			err = m.serve(ctx, conn)
			m.detach(conn)
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, matjip_errors.ErrSessionInvalid) {
			log.Warn("live session rejected", zap.Error(err))
			m.invalidate(gen)
			return
		}

		delay := m.reconnectDelay()
		log.Info("live connection lost, retrying", zap.Error(err), zap.Duration("delay", delay))
		if !m.setState(gen, StateDisconnected) {
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !m.setState(gen, StateConnecting) {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, sess Session) (*websocket.Conn, events.Frame, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+sess.Token)

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()
	conn, resp, err := m.opts.Dialer.DialContext(dialCtx, m.opts.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, events.Frame{}, fmt.Errorf("%w: handshake status %d", matjip_errors.ErrSessionInvalid, resp.StatusCode)
		}
		return nil, events.Frame{}, fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(m.opts.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, events.Frame{}, fmt.Errorf("waiting for welcome: %w", err)
	}
	welcome, err := events.DecodeFrame(data)
	if err != nil || welcome.Type != events.FrameConnected {
		_ = conn.Close()
		return nil, events.Frame{}, fmt.Errorf("unexpected first frame: %s", data)
	}
	return conn, welcome, nil
}

// attach publishes conn as the active connection and replays the registry before any
// listener learns about the CONNECTED state. Replay writes happen outside m.mu; keys added
// meanwhile are picked up before the state flips.
func (m *Manager) attach(gen uint64, conn *websocket.Conn, welcome events.Frame) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	if welcome.HeartbeatMs > 0 {
		m.heartbeat = time.Duration(welcome.HeartbeatMs) * time.Millisecond
	}
	if welcome.ReconnectMs > 0 {
		m.reconnect = time.Duration(welcome.ReconnectMs) * time.Millisecond
	}
	m.conn = conn
	m.mu.Unlock()

	replayed := make(map[string]struct{})
	for {
		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return false
		}
		var missing []string
		for _, key := range m.registry.Keys() {
			if _, ok := replayed[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) == 0 {
			m.state = StateConnected
			listeners := m.snapshotListeners()
			m.mu.Unlock()
			notify(listeners, StateConnected)
			return true
		}
		m.mu.Unlock()

		for _, key := range missing {
			replayed[key] = struct{}{}
			if err := m.write(conn, events.Frame{Type: events.FrameSubscribe, Channel: key}); err != nil {
				m.logger.Warn("replay subscribe failed", zap.String("channel", key), zap.Error(err))
			}
		}
	}
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

// serve is the connection's single read loop. Handlers registered in the registry run here.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	m.mu.Lock()
	interval := m.heartbeat
	m.mu.Unlock()
	liveness := interval * time.Duration(m.opts.MissedHeartbeats)

	alive := func() { _ = conn.SetReadDeadline(time.Now().Add(liveness)) }
	alive()
	conn.SetPongHandler(func(string) error {
		alive()
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		alive()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	stop := make(chan struct{})
	defer close(stop)
	go m.heartbeatLoop(ctx, conn, interval, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		alive()

		f, err := events.DecodeFrame(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case events.FrameEvent:
			m.registry.Dispatch(f)
		case events.FramePing:
			if err := m.write(conn, events.Frame{Type: events.FramePong}); err != nil {
				return err
			}
		case events.FrameError:
			m.logger.Warn("server rejected frame",
				zap.String("channel", f.Channel),
				zap.String("code", f.Code),
				zap.String("message", f.Message))
		}
	}
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := m.write(conn, events.Frame{Type: events.FramePing}); err != nil {
				m.logger.Debug("heartbeat write failed", zap.Error(err))
				return
			}
		}
	}
}

func (m *Manager) invalidate(gen uint64) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.session = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	prev := m.state
	m.state = StateDisconnected
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	if prev != StateDisconnected {
		notify(listeners, StateDisconnected)
	}
}

func (m *Manager) reconnectDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnect
}

// setState reports false when gen is no longer the current session.
func (m *Manager) setState(gen uint64, s State) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	if m.state == s {
		m.mu.Unlock()
		return true
	}
	m.state = s
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	notify(listeners, s)
	return true
}

func (m *Manager) snapshotListeners() []func(State) {
	out := make([]func(State), 0, len(m.listeners))
	for id := 0; id < m.nextListen; id++ {
		if fn, ok := m.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}
