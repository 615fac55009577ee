package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rushadaev/dj-connect-back/internal/infrastructure/observability"
	"github.com/rushadaev/dj-connect-back/internal/models"
	pkgerrors "github.com/rushadaev/dj-connect-back/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const orderColumns = `id, user_id, dj_id, track_id, price, message, status, timezone, time_slot, reminder_sent, notification_sent, track_played, created_at, updated_at`

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var trackID sql.NullInt64
	var timeSlot sql.NullTime
	err := row.Scan(&o.ID, &o.UserID, &o.DJID, &trackID, &o.Price, &o.Message, &o.Status,
		&o.Timezone, &timeSlot, &o.ReminderSent, &o.NotificationSent, &o.TrackPlayed,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if trackID.Valid {
		o.TrackID = &trackID.Int64
	}
	if timeSlot.Valid {
		t := timeSlot.Time
		o.TimeSlot = &t
	}
	return &o, nil
}

func (r *PostgresOrderRepository) Create(ctx context.Context, o *models.Order) (int64, error) {
	var err error
	tracer := otel.Tracer("order-repository")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateOrder", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateOrder").Observe(time.Since(start).Seconds())
	}()

	if o == nil {
		err = pkgerrors.ErrNilOrder
		return 0, err
	}
	if !o.Status.Valid() {
		err = fmt.Errorf("%w: unknown order status %q", pkgerrors.ErrInvalidInput, o.Status)
		return 0, err
	}
	if o.Price.IsNegative() {
		err = fmt.Errorf("%w: price must not be negative", pkgerrors.ErrInvalidInput)
		return 0, err
	}

	span.SetAttributes(
		attribute.Int64("user_id", o.UserID),
		attribute.Int64("dj_id", o.DJID),
		attribute.String("status", string(o.Status)),
	)

	var trackID sql.NullInt64
	if o.TrackID != nil {
		trackID = sql.NullInt64{Int64: *o.TrackID, Valid: true}
	}

	query := `INSERT INTO orders (user_id, dj_id, track_id, price, message, status, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, o.UserID, o.DJID, trackID, o.Price, o.Message, o.Status, o.Timezone).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		slog.Error("failed to create order", "method", "Create", "user_id", o.UserID, "dj_id", o.DJID, "error", err)
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	slog.Info("order created", "method", "Create", "order_id", o.ID, "user_id", o.UserID, "dj_id", o.DJID, "price", o.Price)
	return o.ID, nil
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrOrderNotFound
	}
	if err != nil {
		slog.Error("failed to get order", "method", "GetByID", "order_id", id, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

func (r *PostgresOrderRepository) ListByDJ(ctx context.Context, djID int64) ([]models.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE dj_id = $1 ORDER BY created_at DESC`, djID)
}

func (r *PostgresOrderRepository) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListAwaitingPlayback selects the sweep working set: paid, not yet played,
// non-terminal, with a time slot assigned.
func (r *PostgresOrderRepository) ListAwaitingPlayback(ctx context.Context) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o
		WHERE o.track_played = false
		  AND o.status NOT IN ('declined', 'cancelled', 'completed')
		  AND o.time_slot IS NOT NULL
		  AND EXISTS (SELECT 1 FROM transactions t WHERE t.order_id = o.id AND t.status = 'paid')
		ORDER BY o.time_slot`
	return r.list(ctx, query)
}

func (r *PostgresOrderRepository) list(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list orders", "method", "list", "error", err)
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

// lockOrder reads the order row FOR UPDATE within tx. Every state transition
// goes through this, which is what serializes the API surface against the
// reconciliation sweep per order.
func (r *PostgresOrderRepository) lockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return o, nil
}

func (r *PostgresOrderRepository) Accept(ctx context.Context, id int64, price decimal.Decimal, message, paymentURL string) (*models.Order, *models.Transaction, error) {
	var err error
	tracer := otel.Tracer("order-repository")
	ctx, span := tracer.Start(ctx, "AcceptOrder")
	span.SetAttributes(attribute.Int64("order_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("AcceptOrder", status).Inc()
		observability.RepositoryDuration.WithLabelValues("AcceptOrder").Observe(time.Since(start).Seconds())
	}()

	if price.IsNegative() {
		err = fmt.Errorf("%w: price must not be negative", pkgerrors.ErrInvalidInput)
		return nil, nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	o, err := r.lockOrder(ctx, dbTx, id)
	if err != nil {
		return nil, nil, err
	}
	if o.Status.Terminal() {
		err = fmt.Errorf("%w: cannot accept order in status %q", pkgerrors.ErrInvalidState, o.Status)
		return nil, nil, err
	}

	newStatus := models.OrderStatusAccepted
	if !o.Price.Equal(price) {
		newStatus = models.OrderStatusPriceChanged
	}

	// At-most-one-active-attempt: any pending transaction dies before the
	// replacement is inserted.
	if _, err = dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = 'cancelled', updated_at = now() WHERE order_id = $1 AND status = 'pending'`, id); err != nil {
		return nil, nil, fmt.Errorf("failed to cancel pending transactions: %w", err)
	}

	t := models.Transaction{
		OrderID:    id,
		Amount:     price,
		PaymentURL: paymentURL,
		Status:     models.TransactionStatusPending,
	}
	err = dbTx.QueryRowContext(ctx,
		`INSERT INTO transactions (order_id, amount, payment_url, status) VALUES ($1, $2, $3, 'pending') RETURNING id, created_at, updated_at`,
		id, price, paymentURL).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	err = dbTx.QueryRowContext(ctx,
		`UPDATE orders SET status = $2, price = $3, message = $4, updated_at = now() WHERE id = $1 RETURNING updated_at`,
		id, newStatus, price, message).Scan(&o.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit: %w", err)
	}

	o.Status = newStatus
	o.Price = price
	o.Message = message
	slog.Info("order accepted", "method", "Accept", "order_id", id, "status", newStatus, "price", price, "transaction_id", t.ID)
	return o, &t, nil
}

func (r *PostgresOrderRepository) Decline(ctx context.Context, id int64, message string) (*models.Order, error) {
	return r.transition(ctx, "DeclineOrder", id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: cannot decline order in status %q", pkgerrors.ErrInvalidState, o.Status)
		}
		o.Status = models.OrderStatusDeclined
		o.Message = message
		return nil
	}, nil)
}

func (r *PostgresOrderRepository) Cancel(ctx context.Context, id int64) (*models.Order, error) {
	return r.transition(ctx, "CancelOrder", id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: cannot cancel order in status %q", pkgerrors.ErrInvalidState, o.Status)
		}
		o.Status = models.OrderStatusCancelled
		return nil
	}, func(ctx context.Context, tx *sql.Tx) error {
		// Cascade: pending payment attempts die with the order, paid ones stay.
		_, err := tx.ExecContext(ctx,
			`UPDATE transactions SET status = 'cancelled', updated_at = now() WHERE order_id = $1 AND status = 'pending'`, id)
		return err
	})
}

func (r *PostgresOrderRepository) SetTimeSlot(ctx context.Context, id int64, slot time.Time, timezone string) (*models.Order, error) {
	return r.transition(ctx, "SetTimeSlot", id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: cannot set time slot for order in status %q", pkgerrors.ErrInvalidState, o.Status)
		}
		s := slot
		o.TimeSlot = &s
		if timezone != "" {
			o.Timezone = timezone
		}
		return nil
	}, nil)
}

func (r *PostgresOrderRepository) MarkPlayed(ctx context.Context, id int64) (*models.Order, error) {
	return r.transition(ctx, "MarkPlayed", id, func(o *models.Order) error {
		if o.Status.Terminal() {
			return fmt.Errorf("%w: cannot complete order in status %q", pkgerrors.ErrInvalidState, o.Status)
		}
		o.TrackPlayed = true
		o.Status = models.OrderStatusCompleted
		return nil
	}, nil)
}

func (r *PostgresOrderRepository) SetNotificationSent(ctx context.Context, id int64) (*models.Order, error) {
	return r.transition(ctx, "SetNotificationSent", id, func(o *models.Order) error {
		o.NotificationSent = true
		return nil
	}, nil)
}

func (r *PostgresOrderRepository) SetReminderSent(ctx context.Context, id int64) (*models.Order, bool, error) {
	applied := false
	o, err := r.transition(ctx, "SetReminderSent", id, func(o *models.Order) error {
		if o.Status.Terminal() || o.TrackPlayed {
			return nil
		}
		o.ReminderSent = true
		applied = true
		return nil
	}, nil)
	return o, applied, err
}

// transition applies fn to the locked order row and writes the mutable
// columns back in one database transaction. extra runs inside the same
// transaction after the order update (used for transaction cascades).
func (r *PostgresOrderRepository) transition(ctx context.Context, op string, id int64, fn func(*models.Order) error, extra func(context.Context, *sql.Tx) error) (*models.Order, error) {
	var err error
	tracer := otel.Tracer("order-repository")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.Int64("order_id", id))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(op, status).Inc()
		observability.RepositoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	o, err := r.lockOrder(ctx, dbTx, id)
	if err != nil {
		return nil, err
	}
	if err = fn(o); err != nil {
		slog.Warn("order transition rejected", "method", op, "order_id", id, "status", o.Status, "error", err)
		return nil, err
	}

	var timeSlot sql.NullTime
	if o.TimeSlot != nil {
		timeSlot = sql.NullTime{Time: *o.TimeSlot, Valid: true}
	}
	err = dbTx.QueryRowContext(ctx,
		`UPDATE orders SET status = $2, price = $3, message = $4, timezone = $5, time_slot = $6,
			reminder_sent = $7, notification_sent = $8, track_played = $9, updated_at = now()
		 WHERE id = $1 RETURNING updated_at`,
		id, o.Status, o.Price, o.Message, o.Timezone, timeSlot,
		o.ReminderSent, o.NotificationSent, o.TrackPlayed).Scan(&o.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if extra != nil {
		if err = extra(ctx, dbTx); err != nil {
			return nil, fmt.Errorf("failed to apply cascade: %w", err)
		}
	}

	if err = dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	slog.Info("order transition applied", "method", op, "order_id", id, "status", o.Status)
	return o, nil
}
