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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const transactionColumns = `id, order_id, amount, payment_url, status, created_at, updated_at`

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.OrderID, &t.Amount, &t.PaymentURL, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		slog.Error("failed to get transaction", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

func (r *PostgresTransactionRepository) ListByOrder(ctx context.Context, orderID int64) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByOrder", "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

func (r *PostgresTransactionRepository) LatestPendingByOrder(ctx context.Context, orderID int64) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 AND status = 'pending' ORDER BY created_at DESC LIMIT 1`, orderID)
	t, err := scanTransaction(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transaction: %w", err)
	}
	return t, nil
}

func (r *PostgresTransactionRepository) CountPending(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE order_id = $1 AND status = 'pending'`, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return n, nil
}

func (r *PostgresTransactionRepository) HasPaid(ctx context.Context, orderID int64) (bool, error) {
	var paid bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE order_id = $1 AND status = 'paid')`, orderID).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("failed to check paid transactions: %w", err)
	}
	return paid, nil
}

func (r *PostgresTransactionRepository) MarkPaid(ctx context.Context, id int64) error {
	return r.setStatus(ctx, "MarkTransactionPaid", id, models.TransactionStatusPaid)
}

func (r *PostgresTransactionRepository) Cancel(ctx context.Context, id int64) error {
	return r.setStatus(ctx, "CancelTransaction", id, models.TransactionStatusCancelled)
}

// setStatus moves a transaction out of pending under a row lock. Pending is
// the only legal source status for both paid and cancelled.
func (r *PostgresTransactionRepository) setStatus(ctx context.Context, op string, id int64, to models.TransactionStatus) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(attribute.Int64("transaction_id", id))
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
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	var current models.TransactionStatus
	err = dbTx.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to lock transaction: %w", err)
	}

	if current != models.TransactionStatusPending {
		err = fmt.Errorf("%w: transaction %d is %q, only pending transactions can become %q",
			pkgerrors.ErrInvalidState, id, current, to)
		slog.Warn("transaction status change rejected", "method", op, "transaction_id", id, "from", current, "to", to)
		return err
	}

	if _, err = dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1`, id, to); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	slog.Info("transaction status changed", "method", op, "transaction_id", id, "to", to)
	return nil
}
