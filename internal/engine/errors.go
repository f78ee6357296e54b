package engine

import "errors"

var (
	// ErrInvalidAmount rejects non-positive trade amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidPair rejects pairs that are not "BASE/QUOTE".
	ErrInvalidPair = errors.New("invalid trading pair")
	// ErrInvalidDuration rejects durations outside the configured set.
	ErrInvalidDuration = errors.New("duration not allowed")
	// ErrInsufficientBalance rejects opens larger than the free balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPriceUnavailable rejects opens for assets that were never primed.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrTradeNotFound is returned when closing an unknown or already
	// closed trade id.
	ErrTradeNotFound = errors.New("trade not found")
)
