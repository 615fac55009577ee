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

const payoutColumns = `id, dj_id, amount, external_id, status, description, created_at`

type PostgresPayoutRepository struct {
	db *sql.DB
}

func NewPostgresPayoutRepository(db *sql.DB) *PostgresPayoutRepository {
	return &PostgresPayoutRepository{db: db}
}

func (r *PostgresPayoutRepository) Create(ctx context.Context, p *models.Payout) (int64, error) {
	if p == nil {
		return 0, fmt.Errorf("%w: payout is nil", pkgerrors.ErrInvalidInput)
	}
	if p.Amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: payout amount must be positive", pkgerrors.ErrInvalidInput)
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO payouts (dj_id, amount, external_id, status, description) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		p.DJID, p.Amount, p.ExternalID, p.Status, p.Description).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		slog.Error("failed to create payout", "method", "Create", "dj_id", p.DJID, "error", err)
		return 0, fmt.Errorf("failed to create payout: %w", err)
	}
	slog.Info("payout created", "method", "Create", "payout_id", p.ID, "dj_id", p.DJID, "amount", p.Amount)
	return p.ID, nil
}

func (r *PostgresPayoutRepository) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	var p models.Payout
	err := r.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id).
		Scan(&p.ID, &p.DJID, &p.Amount, &p.ExternalID, &p.Status, &p.Description, &p.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrPayoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return &p, nil
}

func (r *PostgresPayoutRepository) ListByDJ(ctx context.Context, djID int64) ([]models.Payout, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE dj_id = $1 ORDER BY created_at DESC`, djID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []models.Payout
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.ID, &p.DJID, &p.Amount, &p.ExternalID, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payouts: %w", err)
	}
	return payouts, nil
}

func (r *PostgresPayoutRepository) UpdateStatus(ctx context.Context, id int64, status models.PayoutStatus, externalID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payouts SET status = $2, external_id = $3 WHERE id = $1`, id, status, externalID)
	if err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrPayoutNotFound
	}
	return nil
}
