package domain

import "time"

// Message is a chat message as rendered for one viewer.
type Message struct {
	ID              int64       `json:"id"`
	RoomID          int64       `json:"roomId"`
	SenderID        int64       `json:"senderId"`
	SenderName      string      `json:"senderName"`
	SenderAvatar    string      `json:"senderAvatar"`
	Content         string      `json:"content"`
	CreatedAt       time.Time   `json:"createdAt"`
	MessageType     MessageType `json:"messageType"`
	IsRead          bool        `json:"isRead"`
	IsMine          bool        `json:"isMine"`
	ReadCount       int         `json:"readCount,omitempty"`
	MemberCount     int         `json:"memberCount,omitempty"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
}

// UnreadByPeers is the "N unread" badge of a group message. Zero means nothing to show.
func (m Message) UnreadByPeers() int {
	if n := m.MemberCount - m.ReadCount; n > 0 {
		return n
	}
	return 0
}

// Before orders confirmed messages by (createdAt, id).
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
