package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"matjip-chat/internal/domain"
)

const DefaultPageSize = 100

// RoomLister loads the user's room list.
type RoomLister interface {
	GetRooms(ctx context.Context, page, size int) (domain.Page[domain.Room], error)
}

// Target is where activating a notification leads.
type Target struct {
	RoomUUID string
}

func (t Target) Path() string {
	return "/chat?room=" + url.QueryEscape(t.RoomUUID)
}

// Notification is a platform level alert for a message in a room the user is not viewing.
type Notification struct {
	Title  string
	Body   string
	Icon   string
	Tag    string
	Target Target
}

type Notifier interface {
	Notify(n Notification)
}

type Navigator interface {
	Navigate(t Target)
}

type Options struct {
	UserID    int64
	PageSize  int
	Notifier  Notifier
	Navigator Navigator
	Logger    *zap.Logger
}

// Aggregator is the single writer of the room list and its unread counters.
type Aggregator struct {
	api    RoomLister
	opts   Options
	logger *zap.Logger
	group  singleflight.Group

	mu        sync.Mutex
	rooms     []domain.Room
	active    string
	loaded    bool
	listeners []func()
}

func New(lister RoomLister, opts Options) *Aggregator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Aggregator{api: lister, opts: opts, logger: opts.Logger}
}

// OnChange registers fn to run after every change of the list.
func (a *Aggregator) OnChange(fn func()) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Aggregator) changed() {
	a.mu.Lock()
	listeners := append([]func(){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Refresh replaces the list with the server's. Concurrent calls share one request.
func (a *Aggregator) Refresh(ctx context.Context) error {
	_, err, _ := a.group.Do("rooms", func() (any, error) {
		p, err := a.api.GetRooms(ctx, 0, a.opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load rooms: %w", err)
		}
		rooms := append([]domain.Room(nil), p.Content...)

		a.mu.Lock()
		for i := range rooms {
			if rooms[i].UUID == a.active {
				rooms[i].UnreadCount = 0
			}
		}
		sortRooms(rooms)
		a.rooms = rooms
		a.loaded = true
		a.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return err
	}
	a.changed()
	return nil
}

// Focus corrects drift accumulated while the client was in the background.
func (a *Aggregator) Focus(ctx context.Context) error {
	return a.Refresh(ctx)
}

// HandleNotification decodes a payload from the user's notification channel.
func (a *Aggregator) HandleNotification(payload json.RawMessage) {
	var evt domain.NotificationEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		a.logger.Warn("dropping malformed notification", zap.Error(err))
		return
	}
	a.OnNotification(evt)
}

// OnNotification folds a cross-room message into the list. Rooms not in the list are dropped
// until the next refresh.
func (a *Aggregator) OnNotification(evt domain.NotificationEvent) {
	a.mu.Lock()
	i := a.indexLocked(evt.RoomUUID)
	if i < 0 {
		a.mu.Unlock()
		a.logger.Info("dropping notification for unknown room", zap.String("room_uuid", evt.RoomUUID))
		return
	}
	r := &a.rooms[i]
	r.LastMessage = evt.Message.Content
	r.LastMessageAt = evt.Message.CreatedAt
	alert := evt.RoomUUID != a.active && evt.Message.SenderID != a.opts.UserID
	if alert {
		r.UnreadCount++
	}
	sortRooms(a.rooms)
	a.mu.Unlock()

	a.changed()
	if alert && a.opts.Notifier != nil {
		a.opts.Notifier.Notify(Notification{
			Title:  evt.Message.SenderName,
			Body:   evt.Message.Content,
			Icon:   evt.Message.SenderAvatar,
			Tag:    "chat-" + evt.RoomUUID,
			Target: Target{RoomUUID: evt.RoomUUID},
		})
	}
}

// Activate handles a click on a notification.
func (a *Aggregator) Activate(t Target) {
	a.Open(t.RoomUUID)
	if a.opts.Navigator != nil {
		a.opts.Navigator.Navigate(t)
	}
}

// Open marks roomUUID as the room being viewed and zeroes its unread count.
func (a *Aggregator) Open(roomUUID string) {
	a.mu.Lock()
	a.active = roomUUID
	if i := a.indexLocked(roomUUID); i >= 0 {
		a.rooms[i].UnreadCount = 0
	}
	a.mu.Unlock()
	a.changed()
}

// Close clears the active room.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.active = ""
	a.mu.Unlock()
}

func (a *Aggregator) Active() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Upsert adds or replaces a room, e.g. one just created by this user.
func (a *Aggregator) Upsert(room domain.Room) {
	a.mu.Lock()
	if i := a.indexLocked(room.UUID); i >= 0 {
		a.rooms[i] = room
	} else {
		a.rooms = append(a.rooms, room)
	}
	sortRooms(a.rooms)
	a.mu.Unlock()
	a.changed()
}

// Remove drops a room the user left.
func (a *Aggregator) Remove(roomUUID string) {
	a.mu.Lock()
	i := a.indexLocked(roomUUID)
	if i >= 0 {
		a.rooms = append(a.rooms[:i], a.rooms[i+1:]...)
	}
	if a.active == roomUUID {
		a.active = ""
	}
	a.mu.Unlock()
	if i >= 0 {
		a.changed()
	}
}

// Rooms returns the list sorted by last activity, newest first.
func (a *Aggregator) Rooms() []domain.Room {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Room(nil), a.rooms...)
}

func (a *Aggregator) Room(roomUUID string) (domain.Room, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := a.indexLocked(roomUUID); i >= 0 {
		return a.rooms[i], true
	}
	return domain.Room{}, false
}

func (a *Aggregator) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded
}

func (a *Aggregator) TotalUnread() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, r := range a.rooms {
		total += r.UnreadCount
	}
	return total
}

// BadgeLabel renders an unread count for a badge: empty for zero, capped at "99+".
func BadgeLabel(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

func (a *Aggregator) indexLocked(roomUUID string) int {
	for i, r := range a.rooms {
		if r.UUID == roomUUID {
			return i
		}
	}
	return -1
}

func sortRooms(rooms []domain.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].LastMessageAt.After(rooms[j].LastMessageAt)
	})
}
