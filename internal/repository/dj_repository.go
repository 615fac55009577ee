package repository

import (
	"context"

	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/shopspring/decimal"
)

type DJRepository interface {
	Create(ctx context.Context, dj *models.DJ) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.DJ, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.DJ, error)

	// ListTracks returns the DJ's catalog with effective prices (per-track
	// override when present, DJ default otherwise).
	ListTracks(ctx context.Context, djID int64) ([]models.CatalogTrack, error)

	// TrackPrice resolves the effective price for one catalog entry.
	TrackPrice(ctx context.Context, djID, trackID int64) (decimal.Decimal, error)

	AttachTrack(ctx context.Context, djID, trackID int64, price *decimal.Decimal) error
}
