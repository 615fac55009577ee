package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/rushadaev/dj-connect-back/internal/models"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) (int64, error) {
	if user == nil {
		return 0, fmt.Errorf("%w: user is nil", pkgerrors.ErrInvalidInput)
	}
	if user.TelegramID == 0 {
		return 0, fmt.Errorf("%w: telegram_id is required", pkgerrors.ErrInvalidInput)
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (telegram_id, name) VALUES ($1, $2) RETURNING id, created_at`,
		user.TelegramID, user.Name).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		slog.Error("failed to create user", "method", "Create", "telegram_id", user.TelegramID, "error", err)
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("user created", "method", "Create", "user_id", user.ID, "telegram_id", user.TelegramID)
	return user.ID, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, name, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.TelegramID, &u.Name, &u.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *PostgresUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, name, created_at FROM users WHERE telegram_id = $1`, telegramID).
		Scan(&u.ID, &u.TelegramID, &u.Name, &u.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by telegram id: %w", err)
	}
	return &u, nil
}
