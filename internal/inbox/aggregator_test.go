package inbox

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matjip-chat/internal/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLister struct {
	rooms []domain.Room
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeLister) GetRooms(context.Context, int, int) (domain.Page[domain.Room], error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return domain.NewPage(append([]domain.Room(nil), f.rooms...), 0, 100, int64(len(f.rooms))), nil
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

type recordingNavigator struct{ targets []Target }

func (r *recordingNavigator) Navigate(t Target) { r.targets = append(r.targets, t) }

func rooms() []domain.Room {
	return []domain.Room{
		{UUID: "room-x", Type: domain.RoomTypeDirect, LastMessageAt: base.Add(2 * time.Hour), UnreadCount: 0},
		{UUID: "room-z", Type: domain.RoomTypeDirect, LastMessageAt: base.Add(time.Hour), UnreadCount: 2},
		{UUID: "room-y", Type: domain.RoomTypeGroup, LastMessageAt: base, UnreadCount: 0},
	}
}

func uuids(rs []domain.Room) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.UUID)
	}
	return out
}

func notification(room string, sender int64, at time.Time) domain.NotificationEvent {
	return domain.NotificationEvent{
		RoomUUID: room,
		Message: domain.MessageEvent{
			ID: 77, SenderID: sender, SenderName: "Mina", SenderAvatar: "mina.png",
			Content: "저녁 어디서 먹어?", CreatedAt: at,
		},
	}
}

func TestNotificationForOtherRoomIncrementsAndMovesToTop(t *testing.T) {
	notifier := &recordingNotifier{}
	agg := New(&fakeLister{rooms: rooms()}, Options{UserID: 1, Notifier: notifier})
	require.NoError(t, agg.Refresh(context.Background()))
	agg.Open("room-x")

	agg.OnNotification(notification("room-y", 2, base.Add(3*time.Hour)))

	list := agg.Rooms()
	assert.Equal(t, []string{"room-y", "room-x", "room-z"}, uuids(list))
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "저녁 어디서 먹어?", list[0].LastMessage)
	assert.Equal(t, 0, list[1].UnreadCount)
	assert.Equal(t, 3, agg.TotalUnread())

	require.Len(t, notifier.got, 1)
	assert.Equal(t, "Mina", notifier.got[0].Title)
	assert.Equal(t, "chat-room-y", notifier.got[0].Tag)
	assert.Equal(t, "/chat?room=room-y", notifier.got[0].Target.Path())
}

func TestNotificationForActiveRoomDoesNotCount(t *testing.T) {
	notifier := &recordingNotifier{}
	agg := New(&fakeLister{rooms: rooms()}, Options{UserID: 1, Notifier: notifier})
	require.NoError(t, agg.Refresh(context.Background()))
	agg.Open("room-z")

	agg.OnNotification(notification("room-z", 2, base.Add(3*time.Hour)))

	r, ok := agg.Room("room-z")
	require.True(t, ok)
	assert.Equal(t, 0, r.UnreadCount)
	assert.Empty(t, notifier.got)
	assert.Equal(t, "room-z", agg.Rooms()[0].UUID)
}

func TestNotificationForUnknownRoomIsDropped(t *testing.T) {
	agg := New(&fakeLister{rooms: rooms()}, Options{UserID: 1})
	require.NoError(t, agg.Refresh(context.Background()))

	agg.OnNotification(notification("room-new", 2, base.Add(3*time.Hour)))
	assert.Equal(t, []string{"room-x", "room-z", "room-y"}, uuids(agg.Rooms()))
	assert.Equal(t, 2, agg.TotalUnread())
}

func TestActivateOpensRoomAndNavigates(t *testing.T) {
	nav := &recordingNavigator{}
	agg := New(&fakeLister{rooms: rooms()}, Options{UserID: 1, Navigator: nav})
	require.NoError(t, agg.Refresh(context.Background()))

	agg.OnNotification(notification("room-y", 2, base.Add(3*time.Hour)))
	agg.Activate(Target{RoomUUID: "room-y"})

	r, _ := agg.Room("room-y")
	assert.Equal(t, 0, r.UnreadCount)
	assert.Equal(t, "room-y", agg.Active())
	assert.Equal(t, []Target{{RoomUUID: "room-y"}}, nav.targets)
}

func TestHandleNotificationDecodesPayload(t *testing.T) {
	agg := New(&fakeLister{rooms: rooms()}, Options{UserID: 1})
	require.NoError(t, agg.Refresh(context.Background()))

	data, err := json.Marshal(notification("room-y", 2, base.Add(3*time.Hour)))
	require.NoError(t, err)
	agg.HandleNotification(data)
	agg.HandleNotification([]byte(`{broken`))

	assert.Equal(t, "room-y", agg.Rooms()[0].UUID)
	assert.Equal(t, 3, agg.TotalUnread())
}

func TestRefreshIsCoalesced(t *testing.T) {
	lister := &fakeLister{rooms: rooms(), gate: make(chan struct{})}
	agg := New(lister, Options{UserID: 1})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, agg.Focus(context.Background()))
		}()
	}
	require.Eventually(t, func() bool { return lister.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(lister.gate)
	wg.Wait()

	assert.LessOrEqual(t, lister.calls.Load(), int32(2))
	assert.True(t, agg.Loaded())
}

func TestBadgeLabel(t *testing.T) {
	assert.Equal(t, "", BadgeLabel(0))
	assert.Equal(t, "7", BadgeLabel(7))
	assert.Equal(t, "99", BadgeLabel(99))
	assert.Equal(t, "99+", BadgeLabel(100))
}

func TestUpsertAndRemove(t *testing.T) {
	agg := New(&fakeLister{rooms: rooms()}, Options{UserID: 1})
	require.NoError(t, agg.Refresh(context.Background()))

	agg.Upsert(domain.Room{UUID: "room-new", Type: domain.RoomTypeGroup, LastMessageAt: base.Add(5 * time.Hour)})
	assert.Equal(t, "room-new", agg.Rooms()[0].UUID)

	agg.Open("room-new")
	agg.Remove("room-new")
	assert.Equal(t, "", agg.Active())
	assert.Len(t, agg.Rooms(), 3)
}
