package roomview

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/live"
	matjip_errors "matjip-chat/pkg/errors"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func directRoom() domain.Room {
	return domain.Room{ID: 10, UUID: "room-x", Type: domain.RoomTypeDirect, MemberCount: 2}
}

func groupRoom() domain.Room {
	return domain.Room{ID: 20, UUID: "room-g", Type: domain.RoomTypeGroup, Name: "Dinner club", MemberCount: 5}
}

func msg(id, sender int64, offset time.Duration, content string) domain.Message {
	return domain.Message{ID: id, SenderID: sender, Content: content, CreatedAt: base.Add(offset), IsMine: sender == me}
}

func event(m domain.Message) domain.MessageEvent {
	return domain.NewMessageEvent(m)
}

func ids(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestSendFallbackReplacesOptimistic(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateDisconnected)
	h.api.sendResp = domain.Message{ID: 501, SenderID: me, Content: "hello", CreatedAt: base, ClientMessageID: ""}

	h.view.SetDraft("hello")
	require.NoError(t, h.view.Send(context.Background()))

	entries := h.view.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(501), entries[0].ID)
	assert.False(t, entries[0].Pending())
	assert.True(t, entries[0].IsMine)
	assert.Equal(t, "", h.view.Draft())
	assert.Equal(t, PhaseSuccess, h.view.Phase())
	assert.Equal(t, []string{"hello"}, h.api.sent)
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateDisconnected, msg(1, 2, 0, "hi"))
	h.api.sendErr = errors.New("gateway timeout")

	draft := "  맛집 추천해줘 \n"
	h.view.SetDraft(draft)
	err := h.view.Send(context.Background())
	require.Error(t, err)

	assert.Equal(t, []int64{1}, ids(h.view.Entries()))
	assert.Equal(t, draft, h.view.Draft())
	assert.Equal(t, PhaseFailure, h.view.Phase())
}

func TestSendFailureDiscardsTypingWhileInFlight(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateDisconnected)
	h.api.sendErr = errors.New("gateway timeout")
	h.api.onSend = func() { h.view.SetDraft("그리고") }

	h.view.SetDraft("냉면집 어디야? ")
	require.Error(t, h.view.Send(context.Background()))
	assert.Equal(t, "냉면집 어디야? ", h.view.Draft())
}

func TestSendRejectsEmptyDraft(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected)
	h.view.SetDraft("   ")
	assert.ErrorIs(t, h.view.Send(context.Background()), matjip_errors.ErrEmptyMessage)
	assert.Empty(t, h.view.Entries())
}

func TestLiveSendThenEchoLeavesOneEntry(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected)

	h.view.SetDraft(" hello ")
	require.NoError(t, h.view.Send(context.Background()))
	assert.Equal(t, PhaseLiveSendAttempted, h.view.Phase())

	sends := h.conn.publishedOn(events.RoomSendChannel("room-x"))
	require.Len(t, sends, 1)
	payload := sends[0].payload.(domain.SendPayload)
	assert.Equal(t, "hello", payload.Content)

	entries := h.view.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending())

	echo := event(msg(700, me, time.Second, "hello"))
	echo.ClientMessageID = payload.ClientMessageID
	h.deliver(t, events.RoomChannel("room-x"), echo)
	h.deliver(t, events.RoomChannel("room-x"), echo)

	entries = h.view.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(700), entries[0].ID)
	assert.False(t, entries[0].Pending())
	assert.True(t, entries[0].IsMine)
}

func TestSelfEchoWithoutMatchIsDiscarded(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected)

	h.view.SetDraft("hello")
	require.NoError(t, h.view.Send(context.Background()))
	h.deliver(t, events.RoomChannel("room-x"), event(msg(700, me, time.Second, "hello")))

	entries := h.view.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending())
}

func TestOwnSystemEventIsShown(t *testing.T) {
	h := newHarness(t, groupRoom(), live.StateConnected)
	readChannel := events.RoomReadChannel("room-g")
	require.Len(t, h.conn.publishedOn(readChannel), 1)

	notice := msg(7, me, time.Second, "Mina invited Joon")
	notice.MessageType = domain.MessageTypeSystem
	h.deliver(t, events.RoomChannel("room-g"), event(notice))
	h.deliver(t, events.RoomChannel("room-g"), event(notice))

	assert.Equal(t, []int64{7}, ids(h.view.Entries()))
	assert.Len(t, h.conn.publishedOn(readChannel), 1, "own notices do not signal read")
}

func TestPublishFailureFallsBack(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected)
	h.conn.publishErr = matjip_errors.ErrNotConnected
	h.api.sendResp = domain.Message{ID: 502, SenderID: me, Content: "hey", CreatedAt: base}

	h.view.SetDraft("hey")
	require.NoError(t, h.view.Send(context.Background()))
	assert.Equal(t, []int64{502}, ids(h.view.Entries()))
}

func TestReplyQuoteRewritesContent(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateDisconnected)
	h.api.sendResp = domain.Message{ID: 9, SenderID: me, CreatedAt: base}

	original := domain.Message{ID: 3, SenderName: "Mina", Content: "This ramen place is worth the queue"}
	h.view.ReplyTo(&original)
	h.view.SetDraft("agreed")
	require.NoError(t, h.view.Send(context.Background()))

	assert.Equal(t, "> Mina: This ramen place is w...\n\nagreed", h.api.sent[0])
}

func TestPeerEventsDedupAndSignalRead(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected, msg(1, 2, 0, "a"))
	readChannel := events.RoomReadChannel("room-x")
	require.Len(t, h.conn.publishedOn(readChannel), 1, "read signal on first connect")

	e := event(msg(2, 2, time.Second, "b"))
	h.deliver(t, events.RoomChannel("room-x"), e)
	h.deliver(t, events.RoomChannel("room-x"), e)

	assert.Equal(t, []int64{1, 2}, ids(h.view.Entries()))
	assert.Len(t, h.conn.publishedOn(readChannel), 2)
}

func TestReadSignalOncePerViewLifetime(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected)
	readChannel := events.RoomReadChannel("room-x")

	h.conn.setState(live.StateDisconnected)
	h.conn.setState(live.StateConnecting)
	h.conn.setState(live.StateConnected)

	assert.Len(t, h.conn.publishedOn(readChannel), 1)
}

func TestOrderingWithTrailingOptimistic(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected, msg(5, 2, 5*time.Second, "e"))
	h.view.opts.Now = func() time.Time { return base.Add(-time.Hour) }

	h.view.SetDraft("mine")
	require.NoError(t, h.view.Send(context.Background()))

	h.deliver(t, events.RoomChannel("room-x"), event(msg(3, 2, 3*time.Second, "c")))
	h.deliver(t, events.RoomChannel("room-x"), event(msg(7, 2, 5*time.Second, "g")))
	h.deliver(t, events.RoomChannel("room-x"), event(msg(6, 2, 5*time.Second, "f")))

	entries := h.view.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, []int64{3, 5, 6, 7}, ids(entries[:4]))
	assert.True(t, entries[4].Pending())
	for i := 1; i < 4; i++ {
		assert.False(t, entries[i].Message.Before(entries[i-1].Message))
	}
}

func TestGroupReadCountNeverRegresses(t *testing.T) {
	room := groupRoom()
	own := msg(900, me, 0, "who is in")
	own.MemberCount = 4
	earlier := msg(800, me, -time.Minute, "dinner?")
	earlier.MemberCount = 4
	h := newHarness(t, room, live.StateConnected, earlier, own)

	id := int64(900)
	for _, count := range []int{1, 3, 2} {
		c := count
		h.deliver(t, events.RoomReadChannel(room.UUID), domain.ReadNotification{ReadByUserID: 3, MessageID: &id, ReadCount: &c})
	}

	entries := h.view.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[1].ReadCount)
	assert.True(t, entries[1].IsRead)
	assert.Equal(t, 1, entries[1].UnreadByPeers())
	assert.Equal(t, 3, entries[0].ReadCount, "earlier own messages are raised too")
}

func TestDirectReadNotificationMarksAllOwnRead(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected,
		msg(1, me, 0, "a"), msg(2, 2, time.Second, "b"), msg(3, me, 2*time.Second, "c"))

	h.deliver(t, events.RoomReadChannel("room-x"), domain.ReadNotification{ReadByUserID: me})
	for _, e := range h.view.Entries() {
		assert.False(t, e.IsRead)
	}

	h.deliver(t, events.RoomReadChannel("room-x"), domain.ReadNotification{ReadByUserID: 2})
	for _, e := range h.view.Entries() {
		if e.IsMine {
			assert.True(t, e.IsRead, "message %d", e.ID)
		}
	}
}

func TestMalformedEventIsDropped(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected, msg(1, 2, 0, "a"))
	h.registry.Dispatch(events.NewEventFrame(events.RoomChannel("room-x"), []byte(`{"id":"nope"`)))
	h.registry.Dispatch(events.NewEventFrame(events.RoomReadChannel("room-x"), []byte(`[]`)))
	assert.Equal(t, []int64{1}, ids(h.view.Entries()))
}

func TestLegacyRoomPageIsReversed(t *testing.T) {
	fa := &fakeAPI{}
	fa.setPage(0, msg(3, 2, 2*time.Second, "c"), msg(2, 2, time.Second, "b"), msg(1, me, 0, "a"))
	room := domain.Room{ID: 42, Type: domain.RoomTypeDirect}

	v, err := Open(context.Background(), room, fa, &fakeConn{}, live.NewRegistry(nil), Options{UserID: me})
	require.NoError(t, err)
	defer v.Close()

	entries := v.Entries()
	assert.Equal(t, []int64{1, 2, 3}, ids(entries))
	assert.True(t, entries[0].IsMine)
}

func TestOpenFailsOnAuthorization(t *testing.T) {
	fa := &fakeAPI{getErr: matjip_errors.ErrBlockedUser}
	v, err := Open(context.Background(), directRoom(), fa, &fakeConn{}, live.NewRegistry(nil), Options{UserID: me})
	assert.Nil(t, v)
	assert.True(t, matjip_errors.IsAuthorization(err))
}

func TestCloseStopsFurtherEvents(t *testing.T) {
	h := newHarness(t, directRoom(), live.StateConnected)
	h.view.Close()

	assert.False(t, h.registry.Has(events.RoomChannel("room-x")))
	h.deliver(t, events.RoomChannel("room-x"), event(msg(1, 2, 0, "late")))
	assert.Empty(t, h.view.Entries())

	h.view.SetDraft("x")
	assert.ErrorIs(t, h.view.Send(context.Background()), matjip_errors.ErrRoomClosed)
}

func TestPollingWhileDisconnected(t *testing.T) {
	fa := &fakeAPI{}
	fa.setPage(0, msg(1, 2, 0, "a"))
	conn := &fakeConn{state: live.StateDisconnected}

	v, err := Open(context.Background(), directRoom(), fa, conn, live.NewRegistry(nil),
		Options{UserID: me, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer v.Close()

	assert.Eventually(t, func() bool { return fa.markReadCount() == 1 }, time.Second, 5*time.Millisecond)

	fa.setPage(0, msg(1, 2, 0, "a"), msg(2, 2, time.Second, "b"))
	assert.Eventually(t, func() bool { return len(v.Entries()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestPollingConvergesReadState(t *testing.T) {
	fa := &fakeAPI{}
	fa.setPage(0, msg(1, me, 0, "a"))
	conn := &fakeConn{state: live.StateDisconnected}

	v, err := Open(context.Background(), directRoom(), fa, conn, live.NewRegistry(nil),
		Options{UserID: me, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer v.Close()
	require.False(t, v.Entries()[0].IsRead)

	read := msg(1, me, 0, "a")
	read.IsRead = true
	fa.setPage(0, read, msg(2, 2, time.Second, "b"))
	assert.Eventually(t, func() bool {
		entries := v.Entries()
		return len(entries) == 2 && entries[0].IsRead
	}, time.Second, 5*time.Millisecond)

	// a stale page never lowers what was already seen
	fa.setPage(0, msg(1, me, 0, "a"), msg(2, 2, time.Second, "b"))
	require.NoError(t, v.Refresh(context.Background()))
	assert.True(t, v.Entries()[0].IsRead)
}

func TestRefreshConvergesGroupReadCount(t *testing.T) {
	own := msg(1, me, 0, "a")
	own.MemberCount = 4
	h := newHarness(t, groupRoom(), live.StateConnected, own)

	var changes atomic.Int32
	h.view.OnChange(func() { changes.Add(1) })

	seen := own
	seen.ReadCount = 3
	h.api.setPage(0, seen)
	require.NoError(t, h.view.Refresh(context.Background()))

	entry := h.view.Entries()[0]
	assert.Equal(t, 3, entry.ReadCount)
	assert.True(t, entry.IsRead)
	assert.Equal(t, 1, entry.UnreadByPeers())
	assert.Equal(t, int32(1), changes.Load())

	seen.ReadCount = 2
	h.api.setPage(0, seen)
	require.NoError(t, h.view.Refresh(context.Background()))
	assert.Equal(t, 3, h.view.Entries()[0].ReadCount)
	assert.Equal(t, int32(1), changes.Load())
}

func TestLoadOlderMergesPages(t *testing.T) {
	fa := &fakeAPI{}
	fa.setPage(0, msg(3, 2, 3*time.Second, "c"))
	fa.setPage(1, msg(1, 2, time.Second, "a"), msg(2, 2, 2*time.Second, "b"))

	v, err := Open(context.Background(), directRoom(), fa, &fakeConn{state: live.StateConnected}, live.NewRegistry(nil), Options{UserID: me})
	require.NoError(t, err)
	defer v.Close()

	more, err := v.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []int64{1, 2, 3}, ids(v.Entries()))

	more, err = v.LoadOlder(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
}
