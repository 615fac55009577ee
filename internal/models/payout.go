package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusSucceeded PayoutStatus = "succeeded"
	PayoutStatusCancelled PayoutStatus = "cancelled"
)

// Payout is a transfer of collected funds to a DJ's payout destination.
type Payout struct {
	ID          int64           `json:"id"`
	DJID        int64           `json:"dj_id"`
	Amount      decimal.Decimal `json:"amount"`
	ExternalID  string          `json:"external_id,omitempty"`
	Status      PayoutStatus    `json:"status"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
