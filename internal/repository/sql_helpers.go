package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	matjip_errors "matjip-chat/pkg/errors"
)

// DBTX abstracts *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return matjip_errors.ErrNotFound
	}
	return err
}

// WithTx executes fn inside a transaction when db is a pool.
// If db is already a pgx.Tx, fn is executed directly.
func WithTx(ctx context.Context, db DBTX, fn func(DBTX) error) error {
	if db == nil {
		return errors.New("database not initialized")
	}
	if tx, ok := db.(pgx.Tx); ok {
		return fn(tx)
	}
	pool, ok := db.(*pgxpool.Pool)
	if !ok {
		return errors.New("unsupported db type")
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx error: %v (rollback error: %w)", err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// directKey identifies the unordered pair of a DIRECT room.
func directKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}

func offset(page, size int) int {
	if page < 0 {
		page = 0
	}
	return page * size
}

func NewPostgres(db DBTX) Repositories {
	return Repositories{
		Users:    NewUserRepository(db),
		Rooms:    NewRoomRepository(db),
		Messages: NewMessageRepository(db),
		Reads:    NewReadCursorRepository(db),
	}
}
