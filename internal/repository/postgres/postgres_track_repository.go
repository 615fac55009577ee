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

type PostgresTrackRepository struct {
	db *sql.DB
}

func NewPostgresTrackRepository(db *sql.DB) *PostgresTrackRepository {
	return &PostgresTrackRepository{db: db}
}

func (r *PostgresTrackRepository) Create(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: track name is required", pkgerrors.ErrInvalidInput)
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO tracks (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		slog.Error("failed to create track", "method", "Create", "name", name, "error", err)
		return 0, fmt.Errorf("failed to create track: %w", err)
	}
	slog.Info("track created", "method", "Create", "track_id", id, "name", name)
	return id, nil
}

func (r *PostgresTrackRepository) GetByID(ctx context.Context, id int64) (*models.Track, error) {
	var t models.Track
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM tracks WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return &t, nil
}

func (r *PostgresTrackRepository) GetByName(ctx context.Context, name string) (*models.Track, error) {
	var t models.Track
	err := r.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM tracks WHERE name = $1`, name).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track by name: %w", err)
	}
	return &t, nil
}
