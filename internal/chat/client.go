package chat

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"matjip-chat/config"
	"matjip-chat/internal/api"
	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/inbox"
	"matjip-chat/internal/live"
	"matjip-chat/internal/roomview"
	matjip_errors "matjip-chat/pkg/errors"
)

type Options struct {
	Config    config.ClientConfig
	Notifier  inbox.Notifier
	Navigator inbox.Navigator
	Logger    *zap.Logger
}

// Client is one signed-in chat session: the live connection, the room list and at most one
// open room.
type Client struct {
	opts     Options
	logger   *zap.Logger
	base     *api.Client
	registry *live.Registry
	manager  *live.Manager

	mu       sync.Mutex
	api      *api.Client
	userID   int64
	inbox    *inbox.Aggregator
	view     *roomview.View
	notifSub *live.Subscription
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	registry := live.NewRegistry(logger.Named("registry"))
	manager := live.NewManager(live.Options{
		URL:               cfg.WSURL,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatInterval: cfg.HeartbeatEvery,
		MissedHeartbeats:  cfg.MissedHeartbeats,
	}, registry, logger.Named("live"))

	apiOpts := []api.Option{api.WithLogger(logger.Named("api"))}
	if cfg.HTTPTimeout > 0 {
		apiOpts = append(apiOpts, api.WithTimeout(cfg.HTTPTimeout))
	}
	return &Client{
		opts:     opts,
		logger:   logger,
		base:     api.New(cfg.APIURL, "", apiOpts...),
		registry: registry,
		manager:  manager,
	}
}

// Login starts the session: connects, follows the user's notification channel and loads rooms.
func (c *Client) Login(ctx context.Context, userID int64, token string) error {
	c.mu.Lock()
	if c.userID != 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: already signed in as %d", matjip_errors.ErrConflict, c.userID)
	}
	c.userID = userID
	c.api = c.base.WithToken(token)
	c.inbox = inbox.New(c.api, inbox.Options{
		UserID:    userID,
		Notifier:  c.opts.Notifier,
		Navigator: c.opts.Navigator,
		Logger:    c.logger.Named("inbox"),
	})
	c.notifSub = c.registry.Subscribe(events.UserNotificationChannel(userID), c.inbox.HandleNotification)
	agg := c.inbox
	c.mu.Unlock()

	c.manager.Connect(live.Session{UserID: userID, Token: token})
	return agg.Refresh(ctx)
}

// Logout closes the open room and disconnects. The registry is cleared with the connection so a
// reconnect in flight cannot resubscribe.
func (c *Client) Logout() {
	c.CloseRoom()
	c.mu.Lock()
	c.userID = 0
	c.notifSub = nil
	c.mu.Unlock()
	c.manager.Disconnect()
}

func (c *Client) State() live.State {
	return c.manager.State()
}

func (c *Client) OnStateChange(fn func(live.State)) func() {
	return c.manager.OnStateChange(fn)
}

func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) Inbox() *inbox.Aggregator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox
}

// View returns the open room, or nil.
func (c *Client) View() *roomview.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Client) session() (*api.Client, *inbox.Aggregator, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == 0 {
		return nil, nil, 0, matjip_errors.ErrSessionInvalid
	}
	return c.api, c.inbox, c.userID, nil
}

// OpenRoom closes the current room and opens roomUUID. Authorization failures leave no room open.
func (c *Client) OpenRoom(ctx context.Context, roomUUID string) (*roomview.View, error) {
	client, agg, userID, err := c.session()
	if err != nil {
		return nil, err
	}
	c.CloseRoom()

	room, err := client.GetRoomByUUID(ctx, roomUUID)
	if err != nil {
		return nil, err
	}
	view, err := roomview.Open(ctx, room, client, c.manager, c.registry, roomview.Options{
		UserID:       userID,
		PollInterval: c.opts.Config.PollInterval,
		Logger:       c.logger.Named("roomview"),
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.view = view
	c.mu.Unlock()
	agg.Open(roomUUID)
	return view, nil
}

// CloseRoom unsubscribes the open room before returning.
func (c *Client) CloseRoom() {
	c.mu.Lock()
	view := c.view
	c.view = nil
	agg := c.inbox
	c.mu.Unlock()

	if view != nil {
		view.Close()
	}
	if agg != nil {
		agg.Close()
	}
}

// Focus refreshes the room list and the open room after the client returns to the foreground.
func (c *Client) Focus(ctx context.Context) error {
	_, agg, _, err := c.session()
	if err != nil {
		return err
	}
	if err := agg.Focus(ctx); err != nil {
		return err
	}
	if view := c.View(); view != nil {
		return view.Refresh(ctx)
	}
	return nil
}

func (c *Client) GetOrCreateRoom(ctx context.Context, otherUserID int64) (domain.Room, error) {
	client, agg, _, err := c.session()
	if err != nil {
		return domain.Room{}, err
	}
	room, err := client.GetOrCreateRoom(ctx, otherUserID)
	if err != nil {
		return domain.Room{}, err
	}
	agg.Upsert(room)
	return room, nil
}

func (c *Client) CreateGroupRoom(ctx context.Context, name string, memberIDs []int64) (domain.Room, error) {
	client, agg, _, err := c.session()
	if err != nil {
		return domain.Room{}, err
	}
	room, err := client.CreateGroupRoom(ctx, name, memberIDs)
	if err != nil {
		return domain.Room{}, err
	}
	agg.Upsert(room)
	return room, nil
}

func (c *Client) InviteToRoom(ctx context.Context, roomUUID string, userIDs []int64) (domain.Room, error) {
	client, agg, _, err := c.session()
	if err != nil {
		return domain.Room{}, err
	}
	room, err := client.InviteToRoom(ctx, roomUUID, userIDs)
	if err != nil {
		return domain.Room{}, err
	}
	agg.Upsert(room)
	return room, nil
}

func (c *Client) RenameRoom(ctx context.Context, roomUUID, name string) (domain.Room, error) {
	client, agg, _, err := c.session()
	if err != nil {
		return domain.Room{}, err
	}
	room, err := client.RenameRoom(ctx, roomUUID, name)
	if err != nil {
		return domain.Room{}, err
	}
	agg.Upsert(room)
	return room, nil
}

func (c *Client) RoomMembers(ctx context.Context, roomUUID string) ([]domain.Member, error) {
	client, _, _, err := c.session()
	if err != nil {
		return nil, err
	}
	return client.RoomMembers(ctx, roomUUID)
}

// LeaveRoom leaves roomUUID, closing it first when it is the open room.
func (c *Client) LeaveRoom(ctx context.Context, roomUUID string) error {
	client, agg, _, err := c.session()
	if err != nil {
		return err
	}
	if view := c.View(); view != nil && view.Room().UUID == roomUUID {
		c.CloseRoom()
	}
	if err := client.LeaveRoom(ctx, roomUUID); err != nil {
		return err
	}
	agg.Remove(roomUUID)
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, roomUUID string, messageID int64) error {
	client, _, _, err := c.session()
	if err != nil {
		return err
	}
	if err := client.DeleteMessage(ctx, roomUUID, messageID); err != nil {
		return err
	}
	if view := c.View(); view != nil && view.Room().UUID == roomUUID {
		view.Remove(messageID)
	}
	return nil
}

func (c *Client) BlockUser(ctx context.Context, userID int64) error {
	client, _, _, err := c.session()
	if err != nil {
		return err
	}
	return client.BlockUser(ctx, userID)
}
