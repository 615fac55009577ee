package repository

import (
	"context"

	"github.com/rushadaev/dj-connect-back/internal/models"
)

type TransactionRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	ListByOrder(ctx context.Context, orderID int64) ([]models.Transaction, error)
	LatestPendingByOrder(ctx context.Context, orderID int64) (*models.Transaction, error)
	CountPending(ctx context.Context, orderID int64) (int, error)
	HasPaid(ctx context.Context, orderID int64) (bool, error)

	// MarkPaid moves a pending transaction to paid; any other source status
	// is ErrInvalidState. Called only from payment callback handling.
	MarkPaid(ctx context.Context, id int64) error

	// Cancel moves a pending transaction to cancelled; cancelling a paid or
	// already-cancelled transaction is ErrInvalidState.
	Cancel(ctx context.Context, id int64) error
}
