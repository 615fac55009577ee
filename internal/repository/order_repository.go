package repository

import (
	"context"
	"time"

	"github.com/rushadaev/dj-connect-back/internal/models"
	"github.com/shopspring/decimal"
)

// OrderRepository owns order rows and every state transition on them.
//
// Mutating methods run inside a database transaction holding a FOR UPDATE
// lock on the order row, so the HTTP surface and the reconciliation sweep
// cannot interleave updates to the same order. Illegal transitions return
// pkg/errors.ErrInvalidState.
type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	ListByDJ(ctx context.Context, djID int64) ([]models.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Order, error)

	// ListAwaitingPlayback returns orders with at least one paid transaction
	// and track_played still false. The reconciliation sweep iterates these.
	ListAwaitingPlayback(ctx context.Context) ([]models.Order, error)

	// Accept moves the order to accepted (same price) or price_changed
	// (different price), cancels any pending transaction and inserts a new
	// pending one carrying paymentURL, all in one database transaction.
	Accept(ctx context.Context, id int64, price decimal.Decimal, message, paymentURL string) (*models.Order, *models.Transaction, error)

	Decline(ctx context.Context, id int64, message string) (*models.Order, error)

	// Cancel moves the order to cancelled and cancels every pending
	// transaction belonging to it. Paid transactions are left untouched.
	Cancel(ctx context.Context, id int64) (*models.Order, error)

	SetTimeSlot(ctx context.Context, id int64, slot time.Time, timezone string) (*models.Order, error)

	// MarkPlayed sets track_played and moves the order to completed.
	MarkPlayed(ctx context.Context, id int64) (*models.Order, error)

	// SetNotificationSent and SetReminderSent flip the one-shot sweep flags.
	// Both are monotonic: once set they are never cleared. SetReminderSent
	// reports applied=false when the track was played or the order reached a
	// terminal state in the meantime, so the sweep can complete the order
	// instead of escalating.
	SetNotificationSent(ctx context.Context, id int64) (*models.Order, error)
	SetReminderSent(ctx context.Context, id int64) (*models.Order, bool, error)
}
