package domain

import "time"

// MessageEvent is the live shape of a new message on a room channel.
type MessageEvent struct {
	ID              int64       `json:"id"`
	RoomID          int64       `json:"roomId"`
	SenderID        int64       `json:"senderId"`
	SenderName      string      `json:"senderName"`
	SenderAvatar    string      `json:"senderAvatar"`
	Content         string      `json:"content"`
	CreatedAt       time.Time   `json:"createdAt"`
	MessageType     MessageType `json:"messageType"`
	MemberCount     int         `json:"memberCount,omitempty"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
}

// ToMessage renders the event for viewerID.
func (e MessageEvent) ToMessage(viewerID int64) Message {
	return Message{
		ID:              e.ID,
		RoomID:          e.RoomID,
		SenderID:        e.SenderID,
		SenderName:      e.SenderName,
		SenderAvatar:    e.SenderAvatar,
		Content:         e.Content,
		CreatedAt:       e.CreatedAt,
		MessageType:     e.MessageType,
		IsMine:          e.SenderID == viewerID,
		MemberCount:     e.MemberCount,
		ClientMessageID: e.ClientMessageID,
	}
}

func NewMessageEvent(m Message) MessageEvent {
	return MessageEvent{
		ID:              m.ID,
		RoomID:          m.RoomID,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		SenderAvatar:    m.SenderAvatar,
		Content:         m.Content,
		CreatedAt:       m.CreatedAt,
		MessageType:     m.MessageType,
		MemberCount:     m.MemberCount,
		ClientMessageID: m.ClientMessageID,
	}
}

// ReadNotification announces that ReadByUserID has read a room up to now.
// MessageID and ReadCount are only set for group rooms.
type ReadNotification struct {
	RoomUUID     string `json:"roomUuid,omitempty"`
	ReadByUserID int64  `json:"readByUserId"`
	MessageID    *int64 `json:"messageId,omitempty"`
	ReadCount    *int   `json:"readCount,omitempty"`
}

// NotificationEvent is delivered on a user's cross-room channel.
type NotificationEvent struct {
	RoomUUID string       `json:"roomUuid"`
	Message  MessageEvent `json:"message"`
}

// SendPayload is published to room:{uuid}:send.
type SendPayload struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}
