package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/rushadaev/dj-connect-back/internal/models"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
)

const djColumns = `id, user_id, stage_name, price, payment_details, telegram_id, photo, description, created_at`

type PostgresDJRepository struct {
	db *sql.DB
}

func NewPostgresDJRepository(db *sql.DB) *PostgresDJRepository {
	return &PostgresDJRepository{db: db}
}

func scanDJ(row rowScanner) (*models.DJ, error) {
	var dj models.DJ
	err := row.Scan(&dj.ID, &dj.UserID, &dj.StageName, &dj.Price, &dj.PaymentDetails,
		&dj.TelegramID, &dj.Photo, &dj.Description, &dj.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &dj, nil
}

func (r *PostgresDJRepository) Create(ctx context.Context, dj *models.DJ) (int64, error) {
	if dj == nil {
		return 0, fmt.Errorf("%w: dj is nil", pkgerrors.ErrInvalidInput)
	}
	if dj.StageName == "" {
		return 0, fmt.Errorf("%w: stage name is required", pkgerrors.ErrInvalidInput)
	}
	query := `INSERT INTO djs (user_id, stage_name, price, payment_details, telegram_id, photo, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, dj.UserID, dj.StageName, dj.Price, dj.PaymentDetails,
		dj.TelegramID, dj.Photo, dj.Description).Scan(&dj.ID, &dj.CreatedAt)
	if err != nil {
		slog.Error("failed to create dj", "method", "Create", "stage_name", dj.StageName, "error", err)
		return 0, fmt.Errorf("failed to create dj: %w", err)
	}
	slog.Info("dj created", "method", "Create", "dj_id", dj.ID, "stage_name", dj.StageName)
	return dj.ID, nil
}

func (r *PostgresDJRepository) GetByID(ctx context.Context, id int64) (*models.DJ, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+djColumns+` FROM djs WHERE id = $1`, id)
	dj, err := scanDJ(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDJNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dj: %w", err)
	}
	return dj, nil
}

func (r *PostgresDJRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.DJ, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+djColumns+` FROM djs WHERE telegram_id = $1`, telegramID)
	dj, err := scanDJ(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDJNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dj by telegram id: %w", err)
	}
	return dj, nil
}

func (r *PostgresDJRepository) ListTracks(ctx context.Context, djID int64) ([]models.CatalogTrack, error) {
	query := `SELECT t.id, t.name, t.created_at, COALESCE(dt.price, d.price)
		FROM dj_track dt
		JOIN tracks t ON t.id = dt.track_id
		JOIN djs d ON d.id = dt.dj_id
		WHERE dt.dj_id = $1
		ORDER BY t.name`
	rows, err := r.db.QueryContext(ctx, query, djID)
	if err != nil {
		slog.Error("failed to list dj tracks", "method", "ListTracks", "dj_id", djID, "error", err)
		return nil, fmt.Errorf("failed to list dj tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.CatalogTrack
	for rows.Next() {
		var ct models.CatalogTrack
		if err := rows.Scan(&ct.Track.ID, &ct.Track.Name, &ct.Track.CreatedAt, &ct.Price); err != nil {
			return nil, fmt.Errorf("failed to scan catalog track: %w", err)
		}
		tracks = append(tracks, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog tracks: %w", err)
	}
	return tracks, nil
}

// TrackPrice resolves the effective price: the dj_track override when set,
// the DJ's default otherwise. A missing association still resolves to the
// DJ's default, matching request-creation fallback behaviour.
func (r *PostgresDJRepository) TrackPrice(ctx context.Context, djID, trackID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	query := `SELECT COALESCE(dt.price, d.price)
		FROM djs d
		LEFT JOIN dj_track dt ON dt.dj_id = d.id AND dt.track_id = $2
		WHERE d.id = $1`
	err := r.db.QueryRowContext(ctx, query, djID, trackID).Scan(&price)
	if stderrors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, pkgerrors.ErrDJNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to resolve track price: %w", err)
	}
	return price, nil
}

func (r *PostgresDJRepository) AttachTrack(ctx context.Context, djID, trackID int64, price *decimal.Decimal) error {
	var p sql.NullString
	if price != nil {
		p = sql.NullString{String: price.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dj_track (dj_id, track_id, price) VALUES ($1, $2, $3)
		 ON CONFLICT (dj_id, track_id) DO UPDATE SET price = EXCLUDED.price`,
		djID, trackID, p)
	if err != nil {
		slog.Error("failed to attach track", "method", "AttachTrack", "dj_id", djID, "track_id", trackID, "error", err)
		return fmt.Errorf("failed to attach track: %w", err)
	}
	return nil
}
