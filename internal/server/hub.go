package server

import (
	"context"
	"sync"
	"time"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"

	"go.uber.org/zap"
)

// ChatBackend is satisfied by *services.ChatService.
type ChatBackend interface {
	RoomAccess
	SendMessage(ctx context.Context, userID int64, roomUUID, content, clientMessageID string) (domain.Message, error)
	MarkRead(ctx context.Context, userID int64, roomUUID string) (domain.ReadNotification, error)
}

type HubOptions struct {
	// Heartbeat is both the server ping period and the interval announced to clients.
	Heartbeat time.Duration
	// Reconnect is the delay clients are told to wait before reconnecting.
	Reconnect             time.Duration
	MissedHeartbeats      int
	MaxConnectionsPerUser int
	RateLimits            RateLimits
}

func (o HubOptions) withDefaults() HubOptions {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 4 * time.Second
	}
	if o.Reconnect <= 0 {
		o.Reconnect = 5 * time.Second
	}
	if o.MissedHeartbeats <= 0 {
		o.MissedHeartbeats = 3
	}
	if o.MaxConnectionsPerUser <= 0 {
		o.MaxConnectionsPerUser = 10
	}
	if o.RateLimits == (RateLimits{}) {
		o.RateLimits = DefaultRateLimits
	}
	return o
}

func (o HubOptions) pongWait() time.Duration {
	return o.Heartbeat * time.Duration(o.MissedHeartbeats)
}

type hubOp int

const (
	opRegister hubOp = iota
	opUnregister
	opSubscribe
	opUnsubscribe
)

type hubRequest struct {
	op      hubOp
	client  *Client
	channel string
	done    chan struct{}
}

// Hub tracks live connections and which channels each one follows. All membership changes run
// on the Run loop in submission order; deliveries only read.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	byUser   map[int64]map[string]*Client
	channels map[string]map[*Client]struct{}

	requests chan hubRequest
	done     chan struct{}

	chat       ChatBackend
	authorizer *ChannelAuthorizer
	opts       HubOptions
	logger     *WebSocketLogger
}

func NewHub(chat ChatBackend, opts HubOptions, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		byUser:     make(map[int64]map[string]*Client),
		channels:   make(map[string]map[*Client]struct{}),
		requests:   make(chan hubRequest, 512),
		done:       make(chan struct{}),
		chat:       chat,
		authorizer: NewChannelAuthorizer(chat),
		opts:       opts.withDefaults(),
		logger:     NewWebSocketLogger(logger),
	}
}

// Run processes membership changes until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case req := <-h.requests:
			switch req.op {
			case opRegister:
				h.addClient(req.client)
			case opUnregister:
				h.removeClient(req.client)
			case opSubscribe:
				h.subscribeToChannel(req.client, req.channel)
			case opUnsubscribe:
				h.unsubscribeFromChannel(req.client, req.channel)
			}
			close(req.done)
		}
	}
}

// submit hands req to the loop and waits until it is applied. It returns false once the hub stopped.
func (h *Hub) submit(req hubRequest) bool {
	req.done = make(chan struct{})
	select {
	case h.requests <- req:
	case <-h.done:
		return false
	}
	select {
	case <-req.done:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Register(client *Client) bool {
	return h.submit(hubRequest{op: opRegister, client: client})
}

func (h *Hub) Unregister(client *Client) {
	h.submit(hubRequest{op: opUnregister, client: client})
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.submit(hubRequest{op: opSubscribe, client: client, channel: channel})
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.submit(hubRequest{op: opUnsubscribe, client: client, channel: channel})
}

// Deliver wraps payload in an event frame and queues it for every subscriber of channel.
func (h *Hub) Deliver(channel string, payload []byte) {
	data, err := events.EncodeFrame(events.NewEventFrame(channel, payload))
	if err != nil {
		h.logger.logger.Error("encode event failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		c.enqueue(data)
	}
}

// Welcome is the first frame of every connection.
func (h *Hub) Welcome(userID int64) events.Frame {
	return events.Frame{
		Type:        events.FrameConnected,
		UserID:      userID,
		HeartbeatMs: h.opts.Heartbeat.Milliseconds(),
		ReconnectMs: h.opts.Reconnect.Milliseconds(),
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients := h.byUser[client.user.ID]
	if userClients == nil {
		userClients = make(map[string]*Client)
		h.byUser[client.user.ID] = userClients
	}

	if len(userClients) >= h.opts.MaxConnectionsPerUser {
		var oldest *Client
		for _, c := range userClients {
			if oldest == nil || c.connectedAt.Before(oldest.connectedAt) {
				oldest = c
			}
		}
		h.logger.Warn("max connections per user reached", oldest.user.ID, oldest.clientID)
		h.removeLocked(oldest)
		oldest.conn.Close()
	}

	h.clients[client.clientID] = client
	h.byUser[client.user.ID][client.clientID] = client
	h.logger.Info("client connected", client.user.ID, client.clientID)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.clientID]; !ok {
		return
	}
	h.removeLocked(client)
	h.logger.Info("client disconnected", client.user.ID, client.clientID,
		zap.Duration("connected_for", time.Since(client.connectedAt)))
}

func (h *Hub) removeLocked(client *Client) {
	for channel := range client.channels {
		if subscribers, ok := h.channels[channel]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	client.channels = make(map[string]bool)

	delete(h.clients, client.clientID)
	if userClients, ok := h.byUser[client.user.ID]; ok {
		delete(userClients, client.clientID)
		if len(userClients) == 0 {
			delete(h.byUser, client.user.ID)
		}
	}
	client.close()
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.clientID]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.channels[channel] = true
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(client.channels, channel)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		h.removeLocked(client)
	}
}
