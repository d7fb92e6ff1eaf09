package domain

import "github.com/pkg/errors"

var (
	// ErrInvalidInput is returned for non-positive or non-finite amounts.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientFunds is returned when a buy or debit exceeds the cash balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientHoldings is returned when a sell exceeds the owned quantity.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrNoPrice is returned when there is no usable price to trade at.
	ErrNoPrice = errors.New("no price available")
	// ErrOracleUnavailable is returned when every price source failed.
	ErrOracleUnavailable = errors.New("price oracle unavailable")
	// ErrRefreshInFlight is returned when a refresh is dropped because another one is running.
	ErrRefreshInFlight = errors.New("price refresh already in flight")
)

// IsRejection reports whether err is a ledger validation failure, i.e. the operation was
// rejected without touching state.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrNoPrice)
}
