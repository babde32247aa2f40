package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(id int64, name string) Member {
	return Member{ID: id, User: User{ID: id, Name: name}, Role: MemberRoleMember}
}

func TestRoomValidate(t *testing.T) {
	tests := []struct {
		name    string
		room    Room
		wantErr bool
	}{
		{"direct with two members", Room{Type: RoomTypeDirect, Members: []Member{member(1, "a"), member(2, "b")}}, false},
		{"direct with a name", Room{Type: RoomTypeDirect, Name: "x"}, true},
		{"direct with three members", Room{Type: RoomTypeDirect, Members: []Member{member(1, "a"), member(2, "b"), member(3, "c")}}, true},
		{"group with one member", Room{Type: RoomTypeGroup, Members: []Member{member(1, "a")}}, true},
		{"group with three members", Room{Type: RoomTypeGroup, Name: "dinner", Members: []Member{member(1, "a"), member(2, "b"), member(3, "c")}}, false},
		{"unknown type", Room{Type: "CHANNEL"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.room.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRoomDisplayName(t *testing.T) {
	group := Room{Type: RoomTypeGroup, Members: []Member{
		member(1, "me"), member(2, "Jiwoo"), member(3, "Minho"), member(4, "Sora"), member(5, "Yuna"),
	}}
	assert.Equal(t, "Jiwoo, Minho, Sora", group.DisplayName(1))

	group.Name = "Friday noodles"
	assert.Equal(t, "Friday noodles", group.DisplayName(1))

	direct := Room{Type: RoomTypeDirect, OtherUser: &User{ID: 2, Name: "Jiwoo"}}
	assert.Equal(t, "Jiwoo", direct.DisplayName(1))
	assert.Equal(t, "Unknown user", Room{Type: RoomTypeDirect}.DisplayName(1))
}

func TestMessageTypeAcceptsLegacyNormal(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"messageType":"NORMAL"}`), &m))
	assert.Equal(t, MessageTypeUser, m.MessageType)

	require.NoError(t, json.Unmarshal([]byte(`{"id":2,"messageType":"SYSTEM"}`), &m))
	assert.Equal(t, MessageTypeSystem, m.MessageType)
}

func TestMessageUnreadByPeers(t *testing.T) {
	assert.Equal(t, 3, Message{MemberCount: 4, ReadCount: 1}.UnreadByPeers())
	assert.Equal(t, 0, Message{MemberCount: 4, ReadCount: 4}.UnreadByPeers())
	assert.Equal(t, 0, Message{}.UnreadByPeers())
}

func TestMessageBeforeBreaksTiesByID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, Message{ID: 1, CreatedAt: at}.Before(Message{ID: 2, CreatedAt: at}))
	assert.True(t, Message{ID: 9, CreatedAt: at}.Before(Message{ID: 2, CreatedAt: at.Add(time.Second)}))
}

func TestNewPage(t *testing.T) {
	p := NewPage([]int{1, 2}, 0, 2, 5)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.First)
	assert.False(t, p.Last)

	empty := NewPage[int](nil, 0, 20, 0)
	assert.NotNil(t, empty.Content)
	assert.True(t, empty.Last)
}
