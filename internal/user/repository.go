package user

import (
	"context"
	"database/sql"
	"errors"

	"marketplace-be/internal/logger"

	"go.uber.org/zap"
)

// Repository is the local user store consulted before an order is built.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		"SELECT id, email, role, created_at FROM users WHERE id = $1",
		id,
	).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		logger.FromCtx(ctx).Error("db: failed to load user",
			zap.Int64("user_id", id),
			zap.Error(err),
		)
		return nil, err
	}
	return &u, nil
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
		id,
	).Scan(&exists)
	if err != nil {
		logger.FromCtx(ctx).Error("db: failed to check user existence",
			zap.Int64("user_id", id),
			zap.Error(err),
		)
		return false, err
	}
	return exists, nil
}
