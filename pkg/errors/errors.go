package errors

import (
	"errors"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDJNotFound          = errors.New("dj not found")
	ErrTrackNotFound       = errors.New("track not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrNilOrder            = errors.New("order is nil")
	ErrNilTransaction      = errors.New("transaction is nil")
	ErrInvalidState        = errors.New("operation not allowed in current state")
	ErrInvalidInput        = errors.New("invalid input")
	ErrGateway             = errors.New("payment gateway error")
	ErrDeliveryFailure     = errors.New("notification delivery failed")
	ErrPaymentExpired      = errors.New("payment id expired or unknown")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInternal            = errors.New("internal error")
)
