package repository

import (
	"context"

	matjip_errors "matjip-chat/pkg/errors"
)

type PostgresReadCursorRepository struct {
	db DBTX
}

func NewReadCursorRepository(db DBTX) ReadCursorRepository {
	return &PostgresReadCursorRepository{db: db}
}

func (r *PostgresReadCursorRepository) Advance(ctx context.Context, roomID, userID, messageID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE chat_room_members
		SET last_read_message_id = GREATEST(last_read_message_id, $3)
		WHERE room_id = $1 AND user_id = $2`, roomID, userID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return matjip_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresReadCursorRepository) Cursors(ctx context.Context, roomID int64) (map[int64]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, last_read_message_id FROM chat_room_members WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursors := make(map[int64]int64)
	for rows.Next() {
		var userID, last int64
		if err := rows.Scan(&userID, &last); err != nil {
			return nil, err
		}
		cursors[userID] = last
	}
	return cursors, rows.Err()
}

func (r *PostgresReadCursorRepository) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM chat_messages msg
		JOIN chat_room_members m ON m.room_id = msg.room_id AND m.user_id = $2
		WHERE msg.room_id = $1
		  AND msg.id > m.last_read_message_id
		  AND msg.sender_id <> $2
		  AND msg.deleted_at IS NULL`, roomID, userID).Scan(&n)
	return n, err
}
