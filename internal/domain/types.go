package domain

import "strings"

type RoomType string

const (
	RoomTypeDirect RoomType = "DIRECT"
	RoomTypeGroup  RoomType = "GROUP"
)

type MemberRole string

const (
	MemberRoleOwner  MemberRole = "OWNER"
	MemberRoleMember MemberRole = "MEMBER"
)

type MessageType string

const (
	MessageTypeUser   MessageType = "USER"
	MessageTypeSystem MessageType = "SYSTEM"
)

// UnmarshalText accepts the legacy "NORMAL" spelling older servers still emit.
func (t *MessageType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "", "USER", "NORMAL":
		*t = MessageTypeUser
	case "SYSTEM":
		*t = MessageTypeSystem
	default:
		*t = MessageType(text)
	}
	return nil
}
