package repository

import (
	"context"

	"github.com/rushadaev/dj-connect-back/internal/models"
)

type PayoutRepository interface {
	Create(ctx context.Context, p *models.Payout) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Payout, error)
	ListByDJ(ctx context.Context, djID int64) ([]models.Payout, error)
	UpdateStatus(ctx context.Context, id int64, status models.PayoutStatus, externalID string) error
}
