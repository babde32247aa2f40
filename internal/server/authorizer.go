package server

import (
	"context"
	"fmt"

	"matjip-chat/internal/events"
	matjip_errors "matjip-chat/pkg/errors"
)

// RoomAccess is satisfied by *services.ChatService.
type RoomAccess interface {
	CanSubscribe(ctx context.Context, userID int64, roomUUID string) error
}

// ChannelAuthorizer decides which channels a connection may subscribe to.
type ChannelAuthorizer struct {
	rooms RoomAccess
}

func NewChannelAuthorizer(rooms RoomAccess) *ChannelAuthorizer {
	return &ChannelAuthorizer{rooms: rooms}
}

// CanSubscribe allows a user's own notification channel and the event channels of rooms the user
// belongs to. Publish-only channels and anything unparsable are denied.
func (a *ChannelAuthorizer) CanSubscribe(ctx context.Context, userID int64, channel string) error {
	ch, err := events.ParseChannel(channel)
	if err != nil {
		return fmt.Errorf("%w: %v", matjip_errors.ErrInvalidInput, err)
	}
	switch ch.Kind {
	case events.KindUserNotifications:
		if ch.UserID != userID {
			return matjip_errors.ErrForbidden
		}
		return nil
	case events.KindRoom, events.KindRoomRead:
		return a.rooms.CanSubscribe(ctx, userID, ch.RoomUUID)
	default:
		return matjip_errors.ErrForbidden
	}
}
