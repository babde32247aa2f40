package events

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel prefixes and suffixes of the live protocol.
const (
	ChannelPrefixRoom          = "room:"
	ChannelPrefixUser          = "user:"
	ChannelSuffixRead          = ":read"
	ChannelSuffixSend          = ":send"
	ChannelSuffixNotifications = ":notifications"
)

// Bus patterns that cover every fan-out channel.
var BusPatterns = []string{ChannelPrefixRoom + "*", ChannelPrefixUser + "*"}

// RoomChannel carries MessageEvents for one room.
func RoomChannel(roomUUID string) string {
	return ChannelPrefixRoom + roomUUID
}

// RoomReadChannel carries ReadNotifications and is also the publish target for read signals.
func RoomReadChannel(roomUUID string) string {
	return ChannelPrefixRoom + roomUUID + ChannelSuffixRead
}

// RoomSendChannel is the publish target for outbound messages.
func RoomSendChannel(roomUUID string) string {
	return ChannelPrefixRoom + roomUUID + ChannelSuffixSend
}

// UserNotificationChannel carries cross-room NotificationEvents for one user.
func UserNotificationChannel(userID int64) string {
	return ChannelPrefixUser + strconv.FormatInt(userID, 10) + ChannelSuffixNotifications
}

type ChannelKind int

const (
	KindUnknown ChannelKind = iota
	KindRoom
	KindRoomRead
	KindRoomSend
	KindUserNotifications
)

func (k ChannelKind) String() string {
	switch k {
	case KindRoom:
		return "room"
	case KindRoomRead:
		return "room-read"
	case KindRoomSend:
		return "room-send"
	case KindUserNotifications:
		return "user-notifications"
	default:
		return "unknown"
	}
}

// Channel is a parsed channel key.
type Channel struct {
	Kind     ChannelKind
	RoomUUID string
	UserID   int64
}

// ParseChannel splits a channel key into its kind and identifier.
func ParseChannel(key string) (Channel, error) {
	switch {
	case strings.HasPrefix(key, ChannelPrefixRoom):
		rest := strings.TrimPrefix(key, ChannelPrefixRoom)
		kind := KindRoom
		switch {
		case strings.HasSuffix(rest, ChannelSuffixRead):
			kind, rest = KindRoomRead, strings.TrimSuffix(rest, ChannelSuffixRead)
		case strings.HasSuffix(rest, ChannelSuffixSend):
			kind, rest = KindRoomSend, strings.TrimSuffix(rest, ChannelSuffixSend)
		}
		if rest == "" || strings.Contains(rest, ":") {
			return Channel{}, fmt.Errorf("invalid room channel %q", key)
		}
		return Channel{Kind: kind, RoomUUID: rest}, nil
	case strings.HasPrefix(key, ChannelPrefixUser) && strings.HasSuffix(key, ChannelSuffixNotifications):
		raw := strings.TrimSuffix(strings.TrimPrefix(key, ChannelPrefixUser), ChannelSuffixNotifications)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Channel{}, fmt.Errorf("invalid user channel %q", key)
		}
		return Channel{Kind: KindUserNotifications, UserID: id}, nil
	}
	return Channel{}, fmt.Errorf("unknown channel %q", key)
}
