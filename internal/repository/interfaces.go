package repository

import (
	"context"

	"matjip-chat/internal/domain"
)

type UserRepository interface {
	// Upsert records the display fields the identity provider vouched for.
	Upsert(ctx context.Context, u domain.User) error
	// EnsureExists creates placeholder rows for ids never seen before.
	EnsureExists(ctx context.Context, ids []int64) error
	GetByID(ctx context.Context, id int64) (domain.User, error)
	Block(ctx context.Context, blockerID, blockedID int64) error
	// IsBlocked reports a block in either direction.
	IsBlocked(ctx context.Context, a, b int64) (bool, error)
}

type RoomRepository interface {
	// Create inserts room with members. For DIRECT rooms a concurrent duplicate returns
	// ErrAlreadyExists.
	Create(ctx context.Context, room *domain.Room, ownerID int64, memberIDs []int64) error
	GetByUUID(ctx context.Context, uuid string) (domain.Room, error)
	GetByID(ctx context.Context, id int64) (domain.Room, error)
	FindDirect(ctx context.Context, a, b int64) (domain.Room, error)
	ListForUser(ctx context.Context, userID int64, page, size int) ([]domain.Room, int64, error)
	AddMembers(ctx context.Context, roomID int64, userIDs []int64) error
	RemoveMember(ctx context.Context, roomID, userID int64) error
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	Rename(ctx context.Context, roomID int64, name string) error
}

type MessageRepository interface {
	// Create assigns ID and CreatedAt and updates the room's last message. A repeated
	// (room, sender, clientMessageId) returns ErrAlreadyExists.
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id int64) (domain.Message, error)
	FindByClientID(ctx context.Context, roomID, senderID int64, clientMessageID string) (domain.Message, error)
	// ListByRoom pages newest first: page 0 holds the latest size messages. Each page is
	// returned in ascending id order.
	ListByRoom(ctx context.Context, roomID int64, page, size int) ([]domain.Message, int64, error)
	LatestID(ctx context.Context, roomID int64) (int64, error)
	Delete(ctx context.Context, roomID, id int64) error
}

// ReadCursorRepository stores how far each member has read a room.
type ReadCursorRepository interface {
	// Advance moves the cursor forward only.
	Advance(ctx context.Context, roomID, userID, messageID int64) error
	// Cursors maps member id to last read message id.
	Cursors(ctx context.Context, roomID int64) (map[int64]int64, error)
	UnreadCount(ctx context.Context, roomID, userID int64) (int, error)
}

// Repositories bundles the stores the chat service needs.
type Repositories struct {
	Users    UserRepository
	Rooms    RoomRepository
	Messages MessageRepository
	Reads    ReadCursorRepository
}
