// Package kv persists ledger and price fallback values as string key/value pairs.
// Backends: memory (tests), JSON file, gowal WAL, redis and postgres with an
// optional redis read-through cache.
package kv

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Persisted keys.
const (
	KeyCashBalance         = "cash_balance"
	KeyOwnedQuantity       = "owned_quantity"
	KeyInvestedCost        = "invested_cost"
	KeyReferencePrice      = "reference_price"
	KeyLastSuccessfulPrice = "last_successful_price"
	KeyLastPriceUpdateTime = "last_price_update_time"
)

// WriteTimeout bounds writes issued through WriteContext.
const WriteTimeout = 5 * time.Second

// WriteContext detaches ctx from its caller's cancellation and bounds it by WriteTimeout.
// State already changed in memory is written out even if the request that caused it ends.
func WriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), WriteTimeout)
}

// Store is a durable string key/value store. Writes are last-write-wins.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// GetDecimal reads a decimal value. A malformed value is reported as an error.
func GetDecimal(ctx context.Context, s Store, key string) (decimal.Decimal, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "decode %s", key)
	}

	return v, true, nil
}

// SetDecimal writes a decimal value.
func SetDecimal(ctx context.Context, s Store, key string, v decimal.Decimal) error {
	return s.Set(ctx, key, v.String())
}

// GetTime reads a timestamp stored as unix milliseconds.
func GetTime(ctx context.Context, s Store, key string) (time.Time, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "decode %s", key)
	}

	return time.UnixMilli(ms), true, nil
}

// SetTime writes a timestamp as unix milliseconds.
func SetTime(ctx context.Context, s Store, key string, t time.Time) error {
	return s.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10))
}
