package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matjip-chat/internal/domain"
	matjip_errors "matjip-chat/pkg/errors"
)

func seedRoom(t *testing.T, repos Repositories, typ domain.RoomType, members ...int64) domain.Room {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repos.Users.EnsureExists(ctx, members))
	room := domain.Room{Type: typ}
	require.NoError(t, repos.Rooms.Create(ctx, &room, members[0], members))
	return room
}

func TestMemoryDirectRoomIsUnique(t *testing.T) {
	repos := NewMemory().Repositories()
	ctx := context.Background()
	room := seedRoom(t, repos, domain.RoomTypeDirect, 1, 2)
	assert.Equal(t, 2, room.MemberCount)
	assert.Equal(t, domain.MemberRoleOwner, room.Members[0].Role)

	dup := domain.Room{Type: domain.RoomTypeDirect}
	assert.ErrorIs(t, repos.Rooms.Create(ctx, &dup, 2, []int64{2, 1}), matjip_errors.ErrAlreadyExists)

	found, err := repos.Rooms.FindDirect(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, room.UUID, found.UUID)
}

func TestMemoryMessagePagingNewestFirst(t *testing.T) {
	repos := NewMemory().Repositories()
	ctx := context.Background()
	room := seedRoom(t, repos, domain.RoomTypeDirect, 1, 2)

	for i := 0; i < 5; i++ {
		m := domain.Message{RoomID: room.ID, SenderID: 1, Content: "m"}
		require.NoError(t, repos.Messages.Create(ctx, &m))
	}

	page0, total, err := repos.Messages.ListByRoom(ctx, room.ID, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, []int64{4, 5}, []int64{page0[0].ID, page0[1].ID})

	page2, _, err := repos.Messages.ListByRoom(ctx, room.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, int64(1), page2[0].ID)
}

func TestMemoryClientMessageIDIsUnique(t *testing.T) {
	repos := NewMemory().Repositories()
	ctx := context.Background()
	room := seedRoom(t, repos, domain.RoomTypeDirect, 1, 2)

	m := domain.Message{RoomID: room.ID, SenderID: 1, Content: "hi", ClientMessageID: "c1"}
	require.NoError(t, repos.Messages.Create(ctx, &m))
	again := domain.Message{RoomID: room.ID, SenderID: 1, Content: "hi", ClientMessageID: "c1"}
	assert.ErrorIs(t, repos.Messages.Create(ctx, &again), matjip_errors.ErrAlreadyExists)

	found, err := repos.Messages.FindByClientID(ctx, room.ID, 1, "c1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, found.ID)
}

func TestMemoryCursorNeverMovesBack(t *testing.T) {
	repos := NewMemory().Repositories()
	ctx := context.Background()
	room := seedRoom(t, repos, domain.RoomTypeGroup, 1, 2, 3)

	for i := 0; i < 3; i++ {
		m := domain.Message{RoomID: room.ID, SenderID: 1, Content: "m"}
		require.NoError(t, repos.Messages.Create(ctx, &m))
	}

	require.NoError(t, repos.Reads.Advance(ctx, room.ID, 2, 3))
	require.NoError(t, repos.Reads.Advance(ctx, room.ID, 2, 1))
	cursors, err := repos.Reads.Cursors(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursors[2])

	unread, err := repos.Reads.UnreadCount(ctx, room.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	assert.ErrorIs(t, repos.Reads.Advance(ctx, room.ID, 99, 1), matjip_errors.ErrNotFound)
}
