package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is a single observed market price.
type PriceSample struct {
	Value      decimal.Decimal `json:"value"`
	Source     string          `json:"source"`
	ObservedAt time.Time       `json:"observed_at"`
}

// IsZero reports whether the sample carries no price.
func (s PriceSample) IsZero() bool {
	return !ValidPrice(s.Value)
}

// NewerThan reports whether s was observed after other.
func (s PriceSample) NewerThan(other PriceSample) bool {
	return s.ObservedAt.After(other.ObservedAt)
}

// PriceOrigin tells where an effective price came from.
type PriceOrigin string

const (
	PriceOriginLive      PriceOrigin = "live"
	PriceOriginLastKnown PriceOrigin = "last_known_good"
	PriceOriginPersisted PriceOrigin = "persisted"
	PriceOriginSeed      PriceOrigin = "seed"
	PriceOriginNone      PriceOrigin = "none"
)

// OracleState is a copy of the oracle internals for readers.
type OracleState struct {
	Current             *PriceSample `json:"current,omitempty"`
	LastKnownGood       *PriceSample `json:"last_known_good,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	InFlight            bool         `json:"in_flight"`
}

// PriceTrend summarises recent successful samples.
type PriceTrend struct {
	Samples       int             `json:"samples"`
	EMA           decimal.Decimal `json:"ema"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}
