package repository

import (
	"context"

	"github.com/rushadaev/dj-connect-back/internal/models"
)

type TrackRepository interface {
	Create(ctx context.Context, name string) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Track, error)
	GetByName(ctx context.Context, name string) (*models.Track, error)
}
