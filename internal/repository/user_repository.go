package repository

import (
	"context"

	"matjip-chat/internal/domain"
)

type PostgresUserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Upsert(ctx context.Context, u domain.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id, name, avatar)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    avatar = CASE WHEN EXCLUDED.avatar <> '' THEN EXCLUDED.avatar ELSE users.avatar END`,
		u.ID, u.Name, u.Avatar)
	return err
}

func (r *PostgresUserRepository) EnsureExists(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (id)
		SELECT unnest($1::bigint[])
		ON CONFLICT (id) DO NOTHING`, ids)
	return err
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, `SELECT id, name, avatar FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Avatar)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) Block(ctx context.Context, blockerID, blockedID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_blocks (blocker_id, blocked_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, blockerID, blockedID)
	return err
}

func (r *PostgresUserRepository) IsBlocked(ctx context.Context, a, b int64) (bool, error) {
	var blocked bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		)`, a, b).Scan(&blocked)
	return blocked, err
}
