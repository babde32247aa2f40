package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"matjip-chat/internal/domain"
	matjip_errors "matjip-chat/pkg/errors"
)

type PostgresRoomRepository struct {
	db DBTX
}

func NewRoomRepository(db DBTX) RoomRepository {
	return &PostgresRoomRepository{db: db}
}

const roomColumns = `r.id, r.uuid, r.room_type, COALESCE(r.name, ''), r.last_message,
	COALESCE(r.last_message_at, r.created_at)`

func scanRoom(row pgx.Row) (domain.Room, error) {
	var (
		room     domain.Room
		roomType string
	)
	if err := row.Scan(&room.ID, &room.UUID, &roomType, &room.Name, &room.LastMessage, &room.LastMessageAt); err != nil {
		return domain.Room{}, err
	}
	room.Type = domain.RoomType(roomType)
	return room, nil
}

func (r *PostgresRoomRepository) Create(ctx context.Context, room *domain.Room, ownerID int64, memberIDs []int64) error {
	if room.UUID == "" {
		room.UUID = uuid.NewString()
	}
	var key *string
	if room.Type == domain.RoomTypeDirect && len(memberIDs) == 2 {
		k := directKey(memberIDs[0], memberIDs[1])
		key = &k
	}

	err := WithTx(ctx, r.db, func(tx DBTX) error {
		var createdAt time.Time
		err := tx.QueryRow(ctx, `
			INSERT INTO chat_rooms (uuid, room_type, name, direct_key)
			VALUES ($1, $2, NULLIF($3, ''), $4)
			RETURNING id, created_at`,
			room.UUID, string(room.Type), room.Name, key).Scan(&room.ID, &createdAt)
		if err != nil {
			if isUniqueViolation(err) {
				return matjip_errors.ErrAlreadyExists
			}
			return err
		}
		room.LastMessageAt = createdAt

		for _, id := range memberIDs {
			role := domain.MemberRoleMember
			if id == ownerID {
				role = domain.MemberRoleOwner
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_room_members (room_id, user_id, role)
				VALUES ($1, $2, $3)
				ON CONFLICT (room_id, user_id) DO NOTHING`,
				room.ID, id, string(role)); err != nil {
				return fmt.Errorf("failed to add member %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	members, err := r.members(ctx, room.ID)
	if err != nil {
		return err
	}
	room.Members = members
	room.MemberCount = len(members)
	return nil
}

func (r *PostgresRoomRepository) GetByUUID(ctx context.Context, roomUUID string) (domain.Room, error) {
	return r.getOne(ctx, `SELECT `+roomColumns+` FROM chat_rooms r WHERE r.uuid = $1`, roomUUID)
}

func (r *PostgresRoomRepository) GetByID(ctx context.Context, id int64) (domain.Room, error) {
	return r.getOne(ctx, `SELECT `+roomColumns+` FROM chat_rooms r WHERE r.id = $1`, id)
}

func (r *PostgresRoomRepository) FindDirect(ctx context.Context, a, b int64) (domain.Room, error) {
	return r.getOne(ctx, `SELECT `+roomColumns+` FROM chat_rooms r WHERE r.direct_key = $1`, directKey(a, b))
}

func (r *PostgresRoomRepository) getOne(ctx context.Context, query string, arg any) (domain.Room, error) {
	room, err := scanRoom(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return domain.Room{}, notFound(err)
	}
	members, err := r.members(ctx, room.ID)
	if err != nil {
		return domain.Room{}, err
	}
	room.Members = members
	room.MemberCount = len(members)
	return room, nil
}

func (r *PostgresRoomRepository) ListForUser(ctx context.Context, userID int64, page, size int) ([]domain.Room, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_room_members WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+roomColumns+`
		FROM chat_rooms r
		JOIN chat_room_members m ON m.room_id = r.id AND m.user_id = $1
		ORDER BY COALESCE(r.last_message_at, r.created_at) DESC, r.id DESC
		LIMIT $2 OFFSET $3`, userID, size, offset(page, size))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range rooms {
		members, err := r.members(ctx, rooms[i].ID)
		if err != nil {
			return nil, 0, err
		}
		rooms[i].Members = members
		rooms[i].MemberCount = len(members)
	}
	return rooms, total, nil
}

func (r *PostgresRoomRepository) members(ctx context.Context, roomID int64) ([]domain.Member, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.id, u.id, u.name, u.avatar, m.role, m.joined_at
		FROM chat_room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1
		ORDER BY m.joined_at, m.id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var (
			m    domain.Member
			role string
		)
		if err := rows.Scan(&m.ID, &m.User.ID, &m.User.Name, &m.User.Avatar, &role, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MemberRole(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *PostgresRoomRepository) AddMembers(ctx context.Context, roomID int64, userIDs []int64) error {
	return WithTx(ctx, r.db, func(tx DBTX) error {
		for _, id := range userIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO chat_room_members (room_id, user_id, role)
				VALUES ($1, $2, 'MEMBER')
				ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, id); err != nil {
				return fmt.Errorf("failed to add member %d: %w", id, err)
			}
		}
		return nil
	})
}

func (r *PostgresRoomRepository) RemoveMember(ctx context.Context, roomID, userID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM chat_room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return matjip_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresRoomRepository) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID).Scan(&ok)
	return ok, err
}

func (r *PostgresRoomRepository) Rename(ctx context.Context, roomID int64, name string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_rooms SET name = NULLIF($2, '') WHERE id = $1`, roomID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return matjip_errors.ErrNotFound
	}
	return nil
}
