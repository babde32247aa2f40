package httpdto

// GetOrCreateRoomRequest opens (or reuses) the direct room with TargetUserID.
type GetOrCreateRoomRequest struct {
	TargetUserID int64 `json:"targetUserId"`
}

type CreateGroupRoomRequest struct {
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"memberIds"`
}

type InviteRequest struct {
	UserIDs []int64 `json:"userIds"`
}

type RenameRoomRequest struct {
	Name string `json:"name"`
}

type SendMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

type MessagePageQuery struct {
	Page int `form:"page"`
	Size int `form:"size"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Normalize clamps the query to sane bounds.
func (q MessagePageQuery) Normalize() MessagePageQuery {
	if q.Page < 0 {
		q.Page = 0
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}
	return q
}

type MarkReadResponse struct {
	RoomUUID     string `json:"roomUuid"`
	ReadByUserID int64  `json:"readByUserId"`
}

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type DevTokenRequest struct {
	UserID int64  `json:"userId"`
	Name   string `json:"name"`
}
