package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"matjip-chat/internal/domain"
	matjip_errors "matjip-chat/pkg/errors"
)

type PostgresMessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

const messageSelect = `
	SELECT msg.id, msg.room_id, msg.sender_id, u.name, u.avatar, msg.content, msg.message_type,
	       COALESCE(msg.client_message_id, ''), msg.created_at
	FROM chat_messages msg
	JOIN users u ON u.id = msg.sender_id`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m     domain.Message
		mtype string
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.SenderAvatar, &m.Content,
		&mtype, &m.ClientMessageID, &m.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	_ = m.MessageType.UnmarshalText([]byte(mtype))
	return m, nil
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	if m.MessageType == "" {
		m.MessageType = domain.MessageTypeUser
	}
	return WithTx(ctx, r.db, func(tx DBTX) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO chat_messages (room_id, sender_id, content, message_type, client_message_id)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			RETURNING id, created_at`,
			m.RoomID, m.SenderID, m.Content, string(m.MessageType), m.ClientMessageID).
			Scan(&m.ID, &m.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return matjip_errors.ErrAlreadyExists
			}
			return err
		}
		err = tx.QueryRow(ctx, `SELECT name, avatar FROM users WHERE id = $1`, m.SenderID).
			Scan(&m.SenderName, &m.SenderAvatar)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE chat_rooms SET last_message = $2, last_message_at = $3 WHERE id = $1`,
			m.RoomID, m.Content, m.CreatedAt)
		return err
	})
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id int64) (domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, messageSelect+` WHERE msg.id = $1 AND msg.deleted_at IS NULL`, id))
	if err != nil {
		return domain.Message{}, notFound(err)
	}
	return m, nil
}

func (r *PostgresMessageRepository) FindByClientID(ctx context.Context, roomID, senderID int64, clientMessageID string) (domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, messageSelect+`
		WHERE msg.room_id = $1 AND msg.sender_id = $2 AND msg.client_message_id = $3`,
		roomID, senderID, clientMessageID))
	if err != nil {
		return domain.Message{}, notFound(err)
	}
	return m, nil
}

func (r *PostgresMessageRepository) ListByRoom(ctx context.Context, roomID int64, page, size int) ([]domain.Message, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages WHERE room_id = $1 AND deleted_at IS NULL`,
		roomID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, messageSelect+`
		WHERE msg.room_id = $1 AND msg.deleted_at IS NULL
		ORDER BY msg.id DESC
		LIMIT $2 OFFSET $3`, roomID, size, offset(page, size))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, total, nil
}

func (r *PostgresMessageRepository) LatestID(ctx context.Context, roomID int64) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM chat_messages WHERE room_id = $1 AND deleted_at IS NULL`,
		roomID).Scan(&id)
	return id, err
}

func (r *PostgresMessageRepository) Delete(ctx context.Context, roomID, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE chat_messages SET deleted_at = now()
		WHERE room_id = $1 AND id = $2 AND deleted_at IS NULL`, roomID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return matjip_errors.ErrNotFound
	}
	return nil
}
