package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeKind is the kind of ledger operation.
type TradeKind string

const (
	TradeBuy    TradeKind = "buy"
	TradeSell   TradeKind = "sell"
	TradeReset  TradeKind = "reset"
	TradeCredit TradeKind = "credit"
	TradeDebit  TradeKind = "debit"
)

// Trade is the record of an applied ledger operation.
type Trade struct {
	ID     string    `json:"id"`
	Kind   TradeKind `json:"kind"`
	Time   time.Time `json:"time"`
	Reason string    `json:"reason,omitempty"`
	// Cash spent (buy/debit) or received (sell/credit).
	Cash decimal.Decimal `json:"cash"`
	// Quantity received (buy) or sold (sell).
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	FullExit bool            `json:"full_exit,omitempty"`
	After    LedgerState     `json:"after"`
}

// NewTrade creates a trade record with a fresh id.
func NewTrade(kind TradeKind, at time.Time) Trade {
	return Trade{
		ID:       uuid.New().String(),
		Kind:     kind,
		Time:     at,
		Cash:     decimal.Zero,
		Quantity: decimal.Zero,
		Price:    decimal.Zero,
	}
}

// String returns a human-readable representation.
func (t Trade) String() string {
	return fmt.Sprintf("%s cash: %s quantity: %s price: %s", t.Kind, t.Cash, t.Quantity, t.Price)
}
