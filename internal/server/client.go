package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/services"
	matjip_errors "matjip-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	frameTimeout   = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Rate limits per minute
type RateLimits struct {
	MaxPublish   int
	MaxSubscribe int
	MaxPing      int
}

var DefaultRateLimits = RateLimits{
	MaxPublish:   60,
	MaxSubscribe: 120,
	MaxPing:      120,
}

// ClientRateLimiter is a per-connection token bucket refilled every minute.
type ClientRateLimiter struct {
	limits          RateLimits
	publishTokens   int
	subscribeTokens int
	pingTokens      int
	lastRefill      time.Time
	mu              sync.Mutex
}

func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	rl := &ClientRateLimiter{limits: limits, lastRefill: time.Now()}
	rl.refillTokens()
	return rl
}

func (rl *ClientRateLimiter) Allow(t events.FrameType) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastRefill) >= time.Minute {
		rl.refillTokens()
		rl.lastRefill = now
	}

	var tokens *int
	switch t {
	case events.FramePublish:
		tokens = &rl.publishTokens
	case events.FrameSubscribe, events.FrameUnsubscribe:
		tokens = &rl.subscribeTokens
	case events.FramePing:
		tokens = &rl.pingTokens
	default:
		return true
	}
	if *tokens > 0 {
		*tokens--
		return true
	}
	return false
}

func (rl *ClientRateLimiter) refillTokens() {
	rl.publishTokens = rl.limits.MaxPublish
	rl.subscribeTokens = rl.limits.MaxSubscribe
	rl.pingTokens = rl.limits.MaxPing
}

// Client represents a single live connection.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	user         domain.User
	clientID     string
	channels     map[string]bool // owned by the hub loop
	rateLimiter  *ClientRateLimiter
	connectedAt  time.Time
	lastActivity atomic.Int64
	logger       *WebSocketLogger

	mu     sync.Mutex
	closed bool
}

func NewClient(hub *Hub, conn *websocket.Conn, user domain.User, logger *WebSocketLogger) *Client {
	now := time.Now()
	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		user:        user,
		clientID:    uuid.NewString(),
		channels:    make(map[string]bool),
		rateLimiter: NewClientRateLimiter(hub.opts.RateLimits),
		connectedAt: now,
		logger:      logger,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Client) UserID() int64 { return c.user.ID }

// enqueue queues data for the write pump. Slow consumers lose frames rather than stall the hub.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("client send buffer full", c.user.ID, c.clientID)
		return false
	}
}

func (c *Client) sendFrame(f events.Frame) {
	data, err := events.EncodeFrame(f)
	if err != nil {
		c.logger.Error("encode frame failed", c.user.ID, c.clientID, err)
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(channel string, err error) {
	c.sendFrame(events.NewErrorFrame(channel, services.ErrorCode(err), err.Error()))
}

// close stops the write pump. Called by the hub only.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pongWait := c.hub.opts.pongWait()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket unexpected close", c.user.ID, c.clientID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()

		f, err := events.DecodeFrame(message)
		if err != nil {
			c.logger.Warn("dropping malformed frame", c.user.ID, c.clientID, zap.Error(err))
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f events.Frame) {
	if !c.rateLimiter.Allow(f.Type) {
		c.logger.Warn("rate limit exceeded", c.user.ID, c.clientID, zap.String("frame", string(f.Type)))
		c.sendError(f.Channel, matjip_errors.ErrRateLimited)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	switch f.Type {
	case events.FramePing:
		c.sendFrame(events.Frame{Type: events.FramePong})
	case events.FramePong:
	case events.FrameSubscribe:
		if err := c.hub.authorizer.CanSubscribe(ctx, c.user.ID, f.Channel); err != nil {
			c.logger.Debug("subscription denied", c.user.ID, c.clientID, zap.String("channel", f.Channel), zap.Error(err))
			c.sendError(f.Channel, err)
			return
		}
		c.hub.Subscribe(c, f.Channel)
	case events.FrameUnsubscribe:
		c.hub.Unsubscribe(c, f.Channel)
	case events.FramePublish:
		if err := c.handlePublish(ctx, f); err != nil {
			if !matjip_errors.IsAuthorization(err) && services.HTTPStatus(err) >= 500 {
				c.logger.Error("publish failed", c.user.ID, c.clientID, err, zap.String("channel", f.Channel))
			}
			c.sendError(f.Channel, err)
		}
	default:
		c.sendError(f.Channel, matjip_errors.ErrInvalidInput)
	}
}

// handlePublish routes client publishes. The sender is always the authenticated user.
func (c *Client) handlePublish(ctx context.Context, f events.Frame) error {
	ch, err := events.ParseChannel(f.Channel)
	if err != nil {
		return matjip_errors.ErrInvalidInput
	}
	switch ch.Kind {
	case events.KindRoomSend:
		var p domain.SendPayload
		if len(f.Payload) == 0 {
			return matjip_errors.ErrEmptyMessage
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return matjip_errors.ErrInvalidInput
		}
		_, err := c.hub.chat.SendMessage(ctx, c.user.ID, ch.RoomUUID, p.Content, p.ClientMessageID)
		return err
	case events.KindRoomRead:
		_, err := c.hub.chat.MarkRead(ctx, c.user.ID, ch.RoomUUID)
		return err
	default:
		return matjip_errors.ErrForbidden
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.Heartbeat)
	idleLimit := c.hub.opts.pongWait() * 2
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("write failed", c.user.ID, c.clientID, zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			if time.Since(time.Unix(0, c.lastActivity.Load())) > idleLimit {
				c.logger.Info("client idle timeout", c.user.ID, c.clientID)
				return
			}
		}
	}
}
