package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusPaid      TransactionStatus = "paid"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusPaid, TransactionStatusCancelled:
		return true
	}
	return false
}

// Transaction is one payment attempt against an order. At most one pending
// transaction may exist per order at any time.
type Transaction struct {
	ID         int64             `json:"id"`
	OrderID    int64             `json:"order_id"`
	Amount     decimal.Decimal   `json:"amount"`
	PaymentURL string            `json:"payment_url"`
	Status     TransactionStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (t *Transaction) IsPaid() bool {
	return t.Status == TransactionStatusPaid
}
