package proxy

import (
	"context"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/repository"
	matjip_errors "matjip-chat/pkg/errors"
)

// AccessControl answers whether a user may see or act on a room.
type AccessControl struct {
	userRepo repository.UserRepository
	roomRepo repository.RoomRepository
}

func NewAccessControl(userRepo repository.UserRepository, roomRepo repository.RoomRepository) *AccessControl {
	return &AccessControl{userRepo: userRepo, roomRepo: roomRepo}
}

// CanViewRoom requires membership. In a direct room a block in either direction hides the room.
func (a *AccessControl) CanViewRoom(ctx context.Context, userID int64, room domain.Room) error {
	if err := a.ensureMember(ctx, room.ID, userID); err != nil {
		return err
	}
	return a.ensureNotBlocked(ctx, userID, room)
}

func (a *AccessControl) CanSendMessage(ctx context.Context, userID int64, room domain.Room) error {
	return a.CanViewRoom(ctx, userID, room)
}

// CanManageRoom gates invite and rename. Only group rooms can be managed and any member may do so.
func (a *AccessControl) CanManageRoom(ctx context.Context, userID int64, room domain.Room) error {
	if !room.IsGroup() {
		return matjip_errors.ErrInvalidInput
	}
	return a.ensureMember(ctx, room.ID, userID)
}

// CanMessageUser is checked before a direct room is opened with targetID.
func (a *AccessControl) CanMessageUser(ctx context.Context, userID, targetID int64) error {
	if userID == targetID {
		return matjip_errors.ErrInvalidInput
	}
	blocked, err := a.userRepo.IsBlocked(ctx, userID, targetID)
	if err != nil {
		return err
	}
	if blocked {
		return matjip_errors.ErrBlockedUser
	}
	return nil
}

func (a *AccessControl) ensureMember(ctx context.Context, roomID, userID int64) error {
	ok, err := a.roomRepo.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return matjip_errors.ErrRoomAccessDenied
	}
	return nil
}

func (a *AccessControl) ensureNotBlocked(ctx context.Context, userID int64, room domain.Room) error {
	if room.IsGroup() {
		return nil
	}
	for _, m := range room.Members {
		if m.User.ID == userID {
			continue
		}
		return a.CanMessageUser(ctx, userID, m.User.ID)
	}
	return nil
}
