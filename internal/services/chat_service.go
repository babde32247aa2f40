package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"matjip-chat/internal/domain"
	"matjip-chat/internal/events"
	"matjip-chat/internal/proxy"
	"matjip-chat/internal/repository"
	matjip_errors "matjip-chat/pkg/errors"

	"go.uber.org/zap"
)

const (
	MaxMessageLength  = 2000
	MaxRoomNameLength = 50
)

// ChatService owns every write to a room. Writes to one room are serialized so the order of
// events on room:{uuid} matches message id order.
type ChatService struct {
	repos  repository.Repositories
	access *proxy.AccessControl
	bus    events.Publisher
	logger *zap.Logger
	locks  roomLocks
}

func NewChatService(repos repository.Repositories, bus events.Publisher, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		repos:  repos,
		access: proxy.NewAccessControl(repos.Users, repos.Rooms),
		bus:    bus,
		logger: logger,
	}
}

// EnsureUser records the identity presented by a verified token.
func (s *ChatService) EnsureUser(ctx context.Context, u domain.User) error {
	return s.repos.Users.Upsert(ctx, u)
}

func (s *ChatService) BlockUser(ctx context.Context, userID, targetID int64) error {
	if userID == targetID {
		return matjip_errors.ErrInvalidInput
	}
	if err := s.repos.Users.EnsureExists(ctx, []int64{targetID}); err != nil {
		return err
	}
	return s.repos.Users.Block(ctx, userID, targetID)
}

// GetOrCreateRoom returns the direct room between userID and targetID, creating it once.
func (s *ChatService) GetOrCreateRoom(ctx context.Context, userID, targetID int64) (domain.Room, error) {
	if err := s.access.CanMessageUser(ctx, userID, targetID); err != nil {
		return domain.Room{}, err
	}
	room, err := s.repos.Rooms.FindDirect(ctx, userID, targetID)
	if err == nil {
		return s.renderRoom(ctx, userID, room)
	}
	if !errors.Is(err, matjip_errors.ErrNotFound) {
		return domain.Room{}, err
	}

	if err := s.repos.Users.EnsureExists(ctx, []int64{targetID}); err != nil {
		return domain.Room{}, err
	}
	room = domain.Room{Type: domain.RoomTypeDirect}
	err = s.repos.Rooms.Create(ctx, &room, userID, []int64{userID, targetID})
	if errors.Is(err, matjip_errors.ErrAlreadyExists) {
		room, err = s.repos.Rooms.FindDirect(ctx, userID, targetID)
	}
	if err != nil {
		return domain.Room{}, err
	}
	return s.renderRoom(ctx, userID, room)
}

func (s *ChatService) CreateGroupRoom(ctx context.Context, userID int64, name string, memberIDs []int64) (domain.Room, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return domain.Room{}, matjip_errors.ErrInvalidInput
	}
	ids := uniqueIDs(append([]int64{userID}, memberIDs...))
	if len(ids) < 2 {
		return domain.Room{}, matjip_errors.ErrInvalidInput
	}
	if err := s.repos.Users.EnsureExists(ctx, ids); err != nil {
		return domain.Room{}, err
	}
	room := domain.Room{Type: domain.RoomTypeGroup, Name: name}
	if err := s.repos.Rooms.Create(ctx, &room, userID, ids); err != nil {
		return domain.Room{}, err
	}
	s.logger.Info("group room created", zap.String("room", room.UUID), zap.Int64("owner", userID), zap.Int("members", len(ids)))
	return s.renderRoom(ctx, userID, room)
}

func (s *ChatService) GetRoom(ctx context.Context, userID int64, roomUUID string) (domain.Room, error) {
	room, err := s.viewableRoom(ctx, userID, roomUUID)
	if err != nil {
		return domain.Room{}, err
	}
	return s.renderRoom(ctx, userID, room)
}

// RoomUUIDByID resolves a legacy numeric room id for a member.
func (s *ChatService) RoomUUIDByID(ctx context.Context, userID, roomID int64) (string, error) {
	room, err := s.repos.Rooms.GetByID(ctx, roomID)
	if err != nil {
		return "", err
	}
	if err := s.access.CanViewRoom(ctx, userID, room); err != nil {
		return "", err
	}
	return room.UUID, nil
}

func (s *ChatService) ListRooms(ctx context.Context, userID int64, page, size int) (domain.Page[domain.Room], error) {
	rooms, total, err := s.repos.Rooms.ListForUser(ctx, userID, page, size)
	if err != nil {
		return domain.Page[domain.Room]{}, err
	}
	out := make([]domain.Room, 0, len(rooms))
	for _, r := range rooms {
		rendered, err := s.renderRoom(ctx, userID, r)
		if err != nil {
			return domain.Page[domain.Room]{}, err
		}
		out = append(out, rendered)
	}
	return domain.NewPage(out, page, size, total), nil
}

func (s *ChatService) RoomMembers(ctx context.Context, userID int64, roomUUID string) ([]domain.Member, error) {
	room, err := s.viewableRoom(ctx, userID, roomUUID)
	if err != nil {
		return nil, err
	}
	return room.Members, nil
}

// ListMessages returns page of the room history rendered for userID. Page 0 is the newest.
func (s *ChatService) ListMessages(ctx context.Context, userID int64, roomUUID string, page, size int) (domain.Page[domain.Message], error) {
	room, err := s.viewableRoom(ctx, userID, roomUUID)
	if err != nil {
		return domain.Page[domain.Message]{}, err
	}
	msgs, total, err := s.repos.Messages.ListByRoom(ctx, room.ID, page, size)
	if err != nil {
		return domain.Page[domain.Message]{}, err
	}
	cursors, err := s.repos.Reads.Cursors(ctx, room.ID)
	if err != nil {
		return domain.Page[domain.Message]{}, err
	}
	for i := range msgs {
		msgs[i] = renderMessage(room, cursors, userID, msgs[i])
	}
	return domain.NewPage(msgs, page, size, total), nil
}

// SendMessage persists content and fans it out. A repeated clientMessageID from the same sender
// returns the stored message without publishing again.
func (s *ChatService) SendMessage(ctx context.Context, userID int64, roomUUID, content, clientMessageID string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, matjip_errors.ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return domain.Message{}, matjip_errors.ErrInvalidInput
	}
	room, err := s.repos.Rooms.GetByUUID(ctx, roomUUID)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.access.CanSendMessage(ctx, userID, room); err != nil {
		return domain.Message{}, err
	}

	unlock := s.locks.lock(room.ID)
	defer unlock()

	if clientMessageID != "" {
		existing, err := s.repos.Messages.FindByClientID(ctx, room.ID, userID, clientMessageID)
		if err == nil {
			return s.renderOne(ctx, room, userID, existing)
		}
		if !errors.Is(err, matjip_errors.ErrNotFound) {
			return domain.Message{}, err
		}
	}

	msg := domain.Message{
		RoomID:          room.ID,
		SenderID:        userID,
		Content:         content,
		MessageType:     domain.MessageTypeUser,
		ClientMessageID: clientMessageID,
	}
	if err := s.repos.Messages.Create(ctx, &msg); err != nil {
		if errors.Is(err, matjip_errors.ErrAlreadyExists) {
			existing, findErr := s.repos.Messages.FindByClientID(ctx, room.ID, userID, clientMessageID)
			if findErr != nil {
				return domain.Message{}, findErr
			}
			return s.renderOne(ctx, room, userID, existing)
		}
		return domain.Message{}, err
	}
	if err := s.repos.Reads.Advance(ctx, room.ID, userID, msg.ID); err != nil {
		s.logger.Warn("failed to advance sender cursor", zap.Int64("room_id", room.ID), zap.Error(err))
	}

	rendered, err := s.renderOne(ctx, room, userID, msg)
	if err != nil {
		return domain.Message{}, err
	}
	event := domain.NewMessageEvent(rendered)
	s.publish(ctx, events.RoomChannel(room.UUID), event)
	for _, m := range room.Members {
		if m.User.ID == userID {
			continue
		}
		s.publish(ctx, events.UserNotificationChannel(m.User.ID), domain.NotificationEvent{RoomUUID: room.UUID, Message: event})
	}
	return rendered, nil
}

func (s *ChatService) DeleteMessage(ctx context.Context, userID int64, roomUUID string, messageID int64) error {
	room, err := s.viewableRoom(ctx, userID, roomUUID)
	if err != nil {
		return err
	}
	msg, err := s.repos.Messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.RoomID != room.ID {
		return matjip_errors.ErrNotFound
	}
	if msg.SenderID != userID || msg.MessageType == domain.MessageTypeSystem {
		return matjip_errors.ErrForbidden
	}
	return s.repos.Messages.Delete(ctx, room.ID, messageID)
}

// MarkRead moves the reader's cursor to the newest message and announces it on room:{uuid}:read.
// Group rooms carry the newest message id and how many recipients have read it.
func (s *ChatService) MarkRead(ctx context.Context, userID int64, roomUUID string) (domain.ReadNotification, error) {
	room, err := s.viewableRoom(ctx, userID, roomUUID)
	if err != nil {
		return domain.ReadNotification{}, err
	}

	unlock := s.locks.lock(room.ID)
	defer unlock()

	latest, err := s.repos.Messages.LatestID(ctx, room.ID)
	if err != nil {
		return domain.ReadNotification{}, err
	}
	if latest > 0 {
		if err := s.repos.Reads.Advance(ctx, room.ID, userID, latest); err != nil {
			return domain.ReadNotification{}, err
		}
	}

	n := domain.ReadNotification{RoomUUID: room.UUID, ReadByUserID: userID}
	if room.IsGroup() && latest > 0 {
		msg, err := s.repos.Messages.GetByID(ctx, latest)
		if err != nil {
			return domain.ReadNotification{}, err
		}
		cursors, err := s.repos.Reads.Cursors(ctx, room.ID)
		if err != nil {
			return domain.ReadNotification{}, err
		}
		count := readCount(room, cursors, msg)
		n.MessageID = &latest
		n.ReadCount = &count
	}
	s.publish(ctx, events.RoomReadChannel(room.UUID), n)
	return n, nil
}

func (s *ChatService) InviteToRoom(ctx context.Context, userID int64, roomUUID string, userIDs []int64) (domain.Room, error) {
	room, err := s.repos.Rooms.GetByUUID(ctx, roomUUID)
	if err != nil {
		return domain.Room{}, err
	}
	if err := s.access.CanManageRoom(ctx, userID, room); err != nil {
		return domain.Room{}, err
	}

	existing := make(map[int64]bool, len(room.Members))
	for _, m := range room.Members {
		existing[m.User.ID] = true
	}
	var added []int64
	for _, id := range uniqueIDs(userIDs) {
		if !existing[id] {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return s.renderRoom(ctx, userID, room)
	}
	if err := s.repos.Users.EnsureExists(ctx, added); err != nil {
		return domain.Room{}, err
	}
	if err := s.repos.Rooms.AddMembers(ctx, room.ID, added); err != nil {
		return domain.Room{}, err
	}

	room, err = s.repos.Rooms.GetByID(ctx, room.ID)
	if err != nil {
		return domain.Room{}, err
	}
	names := make([]string, 0, len(added))
	for _, id := range added {
		names = append(names, memberName(room, id))
	}
	s.systemMessage(ctx, room, userID, fmt.Sprintf("%s invited %s", memberName(room, userID), strings.Join(names, ", ")))
	return s.renderRoom(ctx, userID, room)
}

func (s *ChatService) RenameRoom(ctx context.Context, userID int64, roomUUID, name string) (domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxRoomNameLength {
		return domain.Room{}, matjip_errors.ErrInvalidInput
	}
	room, err := s.repos.Rooms.GetByUUID(ctx, roomUUID)
	if err != nil {
		return domain.Room{}, err
	}
	if err := s.access.CanManageRoom(ctx, userID, room); err != nil {
		return domain.Room{}, err
	}
	if err := s.repos.Rooms.Rename(ctx, room.ID, name); err != nil {
		return domain.Room{}, err
	}
	room.Name = name
	s.systemMessage(ctx, room, userID, fmt.Sprintf("%s renamed the room to %q", memberName(room, userID), name))
	return s.renderRoom(ctx, userID, room)
}

// LeaveRoom removes userID from a group room. Direct rooms cannot be left.
func (s *ChatService) LeaveRoom(ctx context.Context, userID int64, roomUUID string) error {
	room, err := s.repos.Rooms.GetByUUID(ctx, roomUUID)
	if err != nil {
		return err
	}
	if err := s.access.CanManageRoom(ctx, userID, room); err != nil {
		return err
	}
	name := memberName(room, userID)
	if err := s.repos.Rooms.RemoveMember(ctx, room.ID, userID); err != nil {
		return err
	}
	room, err = s.repos.Rooms.GetByID(ctx, room.ID)
	if err != nil {
		return err
	}
	s.systemMessage(ctx, room, userID, name+" left the room")
	return nil
}

func (s *ChatService) viewableRoom(ctx context.Context, userID int64, roomUUID string) (domain.Room, error) {
	room, err := s.repos.Rooms.GetByUUID(ctx, roomUUID)
	if err != nil {
		return domain.Room{}, err
	}
	if err := s.access.CanViewRoom(ctx, userID, room); err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

// CanSubscribe authorizes a live subscription to a room channel.
func (s *ChatService) CanSubscribe(ctx context.Context, userID int64, roomUUID string) error {
	_, err := s.viewableRoom(ctx, userID, roomUUID)
	return err
}

// systemMessage records a membership change in the room history. Failures are logged only since
// the change itself already happened.
func (s *ChatService) systemMessage(ctx context.Context, room domain.Room, actorID int64, content string) {
	unlock := s.locks.lock(room.ID)
	defer unlock()

	msg := domain.Message{
		RoomID:      room.ID,
		SenderID:    actorID,
		Content:     content,
		MessageType: domain.MessageTypeSystem,
	}
	if err := s.repos.Messages.Create(ctx, &msg); err != nil {
		s.logger.Error("failed to store system message", zap.String("room", room.UUID), zap.Error(err))
		return
	}
	s.publish(ctx, events.RoomChannel(room.UUID), domain.NewMessageEvent(msg))
}

func (s *ChatService) publish(ctx context.Context, channel string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to marshal event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.Warn("failed to publish event", zap.String("channel", channel), zap.Error(err))
	}
}

func (s *ChatService) renderRoom(ctx context.Context, viewerID int64, room domain.Room) (domain.Room, error) {
	unread, err := s.repos.Reads.UnreadCount(ctx, room.ID, viewerID)
	if err != nil {
		return domain.Room{}, err
	}
	room.UnreadCount = unread
	room.MemberCount = len(room.Members)
	room.OtherUser = nil
	if !room.IsGroup() {
		for _, m := range room.Members {
			if m.User.ID != viewerID {
				u := m.User
				room.OtherUser = &u
				break
			}
		}
	}
	return room, nil
}

func (s *ChatService) renderOne(ctx context.Context, room domain.Room, viewerID int64, m domain.Message) (domain.Message, error) {
	cursors, err := s.repos.Reads.Cursors(ctx, room.ID)
	if err != nil {
		return domain.Message{}, err
	}
	return renderMessage(room, cursors, viewerID, m), nil
}

// renderMessage fills the per-viewer fields. Group user messages carry the number of recipients
// and how many of them have read it.
func renderMessage(room domain.Room, cursors map[int64]int64, viewerID int64, m domain.Message) domain.Message {
	m.IsMine = m.SenderID == viewerID
	m.ReadCount, m.MemberCount = 0, 0
	if m.MessageType == domain.MessageTypeSystem {
		m.IsRead = true
		return m
	}
	if !m.IsMine {
		m.IsRead = cursors[viewerID] >= m.ID
		if room.IsGroup() {
			m.MemberCount = recipients(room, m.SenderID)
			m.ReadCount = readCount(room, cursors, m)
		}
		return m
	}
	if room.IsGroup() {
		m.MemberCount = recipients(room, m.SenderID)
		m.ReadCount = readCount(room, cursors, m)
		m.IsRead = m.ReadCount > 0
		return m
	}
	m.IsRead = false
	for _, mem := range room.Members {
		if mem.User.ID != viewerID && cursors[mem.User.ID] >= m.ID {
			m.IsRead = true
		}
	}
	return m
}

func recipients(room domain.Room, senderID int64) int {
	n := 0
	for _, mem := range room.Members {
		if mem.User.ID != senderID {
			n++
		}
	}
	return n
}

func readCount(room domain.Room, cursors map[int64]int64, m domain.Message) int {
	n := 0
	for _, mem := range room.Members {
		if mem.User.ID != m.SenderID && cursors[mem.User.ID] >= m.ID {
			n++
		}
	}
	return n
}

func memberName(room domain.Room, userID int64) string {
	for _, m := range room.Members {
		if m.User.ID == userID && m.User.Name != "" {
			return m.User.Name
		}
	}
	return fmt.Sprintf("user %d", userID)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type roomLocks struct {
	mu    sync.Mutex
	rooms map[int64]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes writers of one room. Entries are dropped when the last holder releases.
func (l *roomLocks) lock(roomID int64) func() {
	l.mu.Lock()
	if l.rooms == nil {
		l.rooms = make(map[int64]*roomLock)
	}
	rl, ok := l.rooms[roomID]
	if !ok {
		rl = &roomLock{}
		l.rooms[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.rooms, roomID)
		}
		l.mu.Unlock()
	}
}
