package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusAccepted     OrderStatus = "accepted"
	OrderStatusPriceChanged OrderStatus = "price_changed"
	OrderStatusDeclined     OrderStatus = "declined"
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusCompleted    OrderStatus = "completed"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDeclined || s == OrderStatusCancelled || s == OrderStatusCompleted
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusPriceChanged,
		OrderStatusDeclined, OrderStatusCancelled, OrderStatusCompleted:
		return true
	}
	return false
}

// Order is a single song request from a user to a DJ.
//
// TimeSlot is stored as naive wall-clock time; it is interpreted in the
// order's Timezone only when the reconciliation sweep compares it to now.
type Order struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	DJID             int64           `json:"dj_id"`
	TrackID          *int64          `json:"track_id,omitempty"`
	Price            decimal.Decimal `json:"price"`
	Message          string          `json:"message"`
	Status           OrderStatus     `json:"status"`
	Timezone         string          `json:"timezone,omitempty"`
	TimeSlot         *time.Time      `json:"time_slot,omitempty"`
	ReminderSent     bool            `json:"reminder_sent"`
	NotificationSent bool            `json:"notification_sent"`
	TrackPlayed      bool            `json:"track_played"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
