package domain

import (
	"fmt"
	"strings"
	"time"
)

type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Member struct {
	ID       int64      `json:"id"`
	User     User       `json:"user"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

// Room is a chat channel as seen by one viewer. UnreadCount and OtherUser are relative
// to that viewer.
type Room struct {
	ID            int64     `json:"id"`
	UUID          string    `json:"uuid"`
	Type          RoomType  `json:"roomType"`
	Name          string    `json:"name,omitempty"`
	OtherUser     *User     `json:"otherUser,omitempty"`
	Members       []Member  `json:"members,omitempty"`
	MemberCount   int       `json:"memberCount"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}

func (r Room) IsGroup() bool {
	return r.Type == RoomTypeGroup
}

// Validate checks the membership invariants of the room type.
func (r Room) Validate() error {
	switch r.Type {
	case RoomTypeDirect:
		if r.Name != "" {
			return fmt.Errorf("direct room %s must not carry a name", r.UUID)
		}
		if len(r.Members) > 0 && len(r.Members) != 2 {
			return fmt.Errorf("direct room %s has %d members, want 2", r.UUID, len(r.Members))
		}
	case RoomTypeGroup:
		if len(r.Members) > 0 && len(r.Members) < 2 {
			return fmt.Errorf("group room %s has %d members, want at least 2", r.UUID, len(r.Members))
		}
	default:
		return fmt.Errorf("room %s has unknown type %q", r.UUID, r.Type)
	}
	return nil
}

// DisplayName is the label a room list shows to viewerID.
func (r Room) DisplayName(viewerID int64) string {
	if !r.IsGroup() {
		if r.OtherUser != nil && r.OtherUser.Name != "" {
			return r.OtherUser.Name
		}
		for _, m := range r.Members {
			if m.User.ID != viewerID {
				return m.User.Name
			}
		}
		return "Unknown user"
	}
	if r.Name != "" {
		return r.Name
	}
	names := make([]string, 0, 3)
	for _, m := range r.Members {
		if m.User.ID == viewerID {
			continue
		}
		names = append(names, m.User.Name)
		if len(names) == 3 {
			break
		}
	}
	if len(names) == 0 {
		return "Group chat"
	}
	return strings.Join(names, ", ")
}

// OtherMemberCount is the number of members besides the viewer.
func (r Room) OtherMemberCount() int {
	if r.MemberCount <= 0 {
		return 0
	}
	return r.MemberCount - 1
}
