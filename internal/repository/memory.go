package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"matjip-chat/internal/domain"
	matjip_errors "matjip-chat/pkg/errors"
)

// Memory is an in-process store implementing every repository. It backs development runs
// without DATABASE_URL and the service tests.
type Memory struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[int64]domain.User
	blocks   map[[2]int64]struct{}
	rooms    map[int64]*memRoom
	byUUID   map[string]int64
	direct   map[string]int64
	messages map[int64]*memMessage
	nextRoom int64
	nextMsg  int64
	nextMem  int64
}

type memRoom struct {
	room    domain.Room
	members []domain.Member
	cursors map[int64]int64
	msgIDs  []int64
}

type memMessage struct {
	msg     domain.Message
	deleted bool
}

func NewMemory() *Memory {
	return &Memory{
		now:      time.Now,
		users:    make(map[int64]domain.User),
		blocks:   make(map[[2]int64]struct{}),
		rooms:    make(map[int64]*memRoom),
		byUUID:   make(map[string]int64),
		direct:   make(map[string]int64),
		messages: make(map[int64]*memMessage),
	}
}

// SetClock overrides the time source for created timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Repositories() Repositories {
	return Repositories{
		Users:    memUsers{m},
		Rooms:    memRooms{m},
		Messages: memMessages{m},
		Reads:    memReads{m},
	}
}

type memUsers struct{ *Memory }
type memRooms struct{ *Memory }
type memMessages struct{ *Memory }
type memReads struct{ *Memory }

func (m memUsers) Upsert(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.users[u.ID]; ok && u.Avatar == "" {
		u.Avatar = old.Avatar
	}
	m.users[u.ID] = u
	return nil
}

func (m memUsers) EnsureExists(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.users[id]; !ok {
			m.users[id] = domain.User{ID: id}
		}
	}
	return nil
}

func (m memUsers) GetByID(_ context.Context, id int64) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, matjip_errors.ErrNotFound
	}
	return u, nil
}

func (m memUsers) Block(_ context.Context, blockerID, blockedID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[[2]int64{blockerID, blockedID}] = struct{}{}
	return nil
}

func (m memUsers) IsBlocked(_ context.Context, a, b int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ab := m.blocks[[2]int64{a, b}]
	_, ba := m.blocks[[2]int64{b, a}]
	return ab || ba, nil
}

func (m *Memory) roomLocked(r *memRoom) domain.Room {
	out := r.room
	out.Members = make([]domain.Member, len(r.members))
	for i, mem := range r.members {
		mem.User = m.users[mem.User.ID]
		out.Members[i] = mem
	}
	out.MemberCount = len(r.members)
	return out
}

func (m memRooms) Create(_ context.Context, room *domain.Room, ownerID int64, memberIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var key string
	if room.Type == domain.RoomTypeDirect && len(memberIDs) == 2 {
		key = directKey(memberIDs[0], memberIDs[1])
		if _, ok := m.direct[key]; ok {
			return matjip_errors.ErrAlreadyExists
		}
	}
	if room.UUID == "" {
		room.UUID = uuid.NewString()
	}
	if _, ok := m.byUUID[room.UUID]; ok {
		return matjip_errors.ErrAlreadyExists
	}

	m.nextRoom++
	room.ID = m.nextRoom
	room.LastMessageAt = m.now()
	r := &memRoom{room: *room, cursors: make(map[int64]int64)}
	r.room.Members = nil
	for _, id := range memberIDs {
		m.addMemberLocked(r, id, id == ownerID)
	}
	m.rooms[room.ID] = r
	m.byUUID[room.UUID] = room.ID
	if key != "" {
		m.direct[key] = room.ID
	}
	*room = m.roomLocked(r)
	return nil
}

func (m *Memory) addMemberLocked(r *memRoom, userID int64, owner bool) {
	if _, ok := r.cursors[userID]; ok {
		return
	}
	role := domain.MemberRoleMember
	if owner {
		role = domain.MemberRoleOwner
	}
	m.nextMem++
	r.members = append(r.members, domain.Member{
		ID:       m.nextMem,
		User:     domain.User{ID: userID},
		Role:     role,
		JoinedAt: m.now(),
	})
	r.cursors[userID] = 0
}

func (m memRooms) GetByUUID(_ context.Context, roomUUID string) (domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUUID[roomUUID]
	if !ok {
		return domain.Room{}, matjip_errors.ErrNotFound
	}
	return m.roomLocked(m.rooms[id]), nil
}

func (m memRooms) GetByID(_ context.Context, id int64) (domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.Room{}, matjip_errors.ErrNotFound
	}
	return m.roomLocked(r), nil
}

func (m memRooms) FindDirect(_ context.Context, a, b int64) (domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.direct[directKey(a, b)]
	if !ok {
		return domain.Room{}, matjip_errors.ErrNotFound
	}
	return m.roomLocked(m.rooms[id]), nil
}

func (m memRooms) ListForUser(_ context.Context, userID int64, page, size int) ([]domain.Room, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []domain.Room
	for _, r := range m.rooms {
		if _, ok := r.cursors[userID]; ok {
			all = append(all, m.roomLocked(r))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastMessageAt.Equal(all[j].LastMessageAt) {
			return all[i].LastMessageAt.After(all[j].LastMessageAt)
		}
		return all[i].ID > all[j].ID
	})
	total := int64(len(all))
	start := offset(page, size)
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m memRooms) AddMembers(_ context.Context, roomID int64, userIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return matjip_errors.ErrNotFound
	}
	for _, id := range userIDs {
		m.addMemberLocked(r, id, false)
	}
	return nil
}

func (m memRooms) RemoveMember(_ context.Context, roomID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return matjip_errors.ErrNotFound
	}
	if _, ok := r.cursors[userID]; !ok {
		return matjip_errors.ErrNotFound
	}
	delete(r.cursors, userID)
	for i, mem := range r.members {
		if mem.User.ID == userID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	return nil
}

func (m memRooms) IsMember(_ context.Context, roomID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return false, nil
	}
	_, member := r.cursors[userID]
	return member, nil
}

func (m memRooms) Rename(_ context.Context, roomID int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return matjip_errors.ErrNotFound
	}
	r.room.Name = name
	return nil
}

func (m memMessages) Create(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[msg.RoomID]
	if !ok {
		return matjip_errors.ErrNotFound
	}
	if msg.ClientMessageID != "" {
		for _, id := range r.msgIDs {
			old := m.messages[id].msg
			if old.SenderID == msg.SenderID && old.ClientMessageID == msg.ClientMessageID {
				return matjip_errors.ErrAlreadyExists
			}
		}
	}
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageTypeUser
	}
	m.nextMsg++
	msg.ID = m.nextMsg
	msg.CreatedAt = m.now()
	u := m.users[msg.SenderID]
	msg.SenderName, msg.SenderAvatar = u.Name, u.Avatar

	m.messages[msg.ID] = &memMessage{msg: *msg}
	r.msgIDs = append(r.msgIDs, msg.ID)
	r.room.LastMessage = msg.Content
	r.room.LastMessageAt = msg.CreatedAt
	return nil
}

func (m memMessages) GetByID(_ context.Context, id int64) (domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm, ok := m.messages[id]
	if !ok || mm.deleted {
		return domain.Message{}, matjip_errors.ErrNotFound
	}
	return mm.msg, nil
}

func (m memMessages) FindByClientID(_ context.Context, roomID, senderID int64, clientMessageID string) (domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return domain.Message{}, matjip_errors.ErrNotFound
	}
	for _, id := range r.msgIDs {
		msg := m.messages[id].msg
		if msg.SenderID == senderID && msg.ClientMessageID == clientMessageID {
			return msg, nil
		}
	}
	return domain.Message{}, matjip_errors.ErrNotFound
}

func (m memMessages) live(r *memRoom) []domain.Message {
	var out []domain.Message
	for _, id := range r.msgIDs {
		if mm := m.messages[id]; !mm.deleted {
			out = append(out, mm.msg)
		}
	}
	return out
}

func (m memMessages) ListByRoom(_ context.Context, roomID int64, page, size int) ([]domain.Message, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, 0, matjip_errors.ErrNotFound
	}
	all := m.live(r)
	total := int64(len(all))
	end := len(all) - offset(page, size)
	if end <= 0 {
		return nil, total, nil
	}
	start := end - size
	if start < 0 {
		start = 0
	}
	return append([]domain.Message(nil), all[start:end]...), total, nil
}

func (m memMessages) LatestID(_ context.Context, roomID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return 0, matjip_errors.ErrNotFound
	}
	all := m.live(r)
	if len(all) == 0 {
		return 0, nil
	}
	return all[len(all)-1].ID, nil
}

func (m memMessages) Delete(_ context.Context, roomID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.messages[id]
	if !ok || mm.deleted || mm.msg.RoomID != roomID {
		return matjip_errors.ErrNotFound
	}
	mm.deleted = true
	return nil
}

func (m memReads) Advance(_ context.Context, roomID, userID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return matjip_errors.ErrNotFound
	}
	cur, ok := r.cursors[userID]
	if !ok {
		return matjip_errors.ErrNotFound
	}
	if messageID > cur {
		r.cursors[userID] = messageID
	}
	return nil
}

func (m memReads) Cursors(_ context.Context, roomID int64) (map[int64]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, matjip_errors.ErrNotFound
	}
	out := make(map[int64]int64, len(r.cursors))
	for k, v := range r.cursors {
		out[k] = v
	}
	return out, nil
}

func (m memReads) UnreadCount(_ context.Context, roomID, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return 0, matjip_errors.ErrNotFound
	}
	cur, ok := r.cursors[userID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, id := range r.msgIDs {
		mm := m.messages[id]
		if !mm.deleted && mm.msg.ID > cur && mm.msg.SenderID != userID {
			n++
		}
	}
	return n, nil
}
