package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DJ is a performer owning a track catalog. Price is the default per-request
// price; dj_track rows may override it per track.
type DJ struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	StageName      string          `json:"stage_name"`
	Price          decimal.Decimal `json:"price"`
	PaymentDetails string          `json:"payment_details,omitempty"`
	TelegramID     int64           `json:"telegram_id"`
	Photo          string          `json:"photo,omitempty"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Track struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DJTrack is a catalog entry: a track offered by a DJ, optionally at a price
// overriding the DJ's default.
type DJTrack struct {
	DJID    int64            `json:"dj_id"`
	TrackID int64            `json:"track_id"`
	Price   *decimal.Decimal `json:"price,omitempty"`
}

// CatalogTrack is a track as presented to users: the effective price has the
// per-DJ override already applied.
type CatalogTrack struct {
	Track Track           `json:"track"`
	Price decimal.Decimal `json:"price"`
}
