package domain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultDustThreshold is the residual value under which a sell closes the position.
var DefaultDustThreshold = decimal.NewFromFloat(0.01)

// PositionStatus is the state of the single asset position.
type PositionStatus string

const (
	// PositionEmpty nothing is held.
	PositionEmpty PositionStatus = "empty"
	// PositionOpen some quantity is held with a positive cost basis.
	PositionOpen PositionStatus = "open"
)

// LedgerState holds cash, held units and the cost basis of the held units.
type LedgerState struct {
	CashBalance   decimal.Decimal `json:"cash_balance"`
	OwnedQuantity decimal.Decimal `json:"owned_quantity"`
	InvestedCost  decimal.Decimal `json:"invested_cost"`
	// ReferencePrice is the price of the last buy.
	ReferencePrice decimal.Decimal `json:"reference_price"`
}

// NewLedgerState returns a fresh state with the given starting cash.
func NewLedgerState(startingBalance decimal.Decimal) LedgerState {
	return LedgerState{
		CashBalance:    startingBalance,
		OwnedQuantity:  decimal.Zero,
		InvestedCost:   decimal.Zero,
		ReferencePrice: decimal.Zero,
	}
}

// Status returns the position status.
func (s LedgerState) Status() PositionStatus {
	if s.OwnedQuantity.IsPositive() {
		return PositionOpen
	}
	return PositionEmpty
}

// Validate checks the state invariants.
func (s LedgerState) Validate() error {
	if s.CashBalance.IsNegative() {
		return errors.Errorf("cash balance is negative: %s", s.CashBalance)
	}
	if s.OwnedQuantity.IsNegative() {
		return errors.Errorf("owned quantity is negative: %s", s.OwnedQuantity)
	}
	if s.InvestedCost.IsNegative() {
		return errors.Errorf("invested cost is negative: %s", s.InvestedCost)
	}
	if s.OwnedQuantity.IsZero() && !s.InvestedCost.IsZero() {
		return errors.Errorf("invested cost %s with no holdings", s.InvestedCost)
	}
	return nil
}

// ApplyBuy spends cash at price and returns the resulting state and units received.
// The receiver is left untouched when an error is returned.
func (s LedgerState) ApplyBuy(cash, price decimal.Decimal) (LedgerState, decimal.Decimal, error) {
	if !cash.IsPositive() {
		return s, decimal.Zero, errors.Wrapf(ErrInvalidInput, "buy amount must be positive, got %s", cash)
	}
	if cash.GreaterThan(s.CashBalance) {
		return s, decimal.Zero, errors.Wrapf(ErrInsufficientFunds, "have %s need %s", s.CashBalance, cash)
	}
	if !ValidPrice(price) {
		return s, decimal.Zero, errors.Wrap(ErrNoPrice, "cannot buy without a price")
	}

	units := cash.Div(price)
	next := s
	next.CashBalance = s.CashBalance.Sub(cash)
	next.OwnedQuantity = s.OwnedQuantity.Add(units)
	next.InvestedCost = s.InvestedCost.Add(cash)
	next.ReferencePrice = price

	return next, units, nil
}

// ApplySell sells qty units at price. A residual worth less than dust closes the position.
// Returns the new state, proceeds and whether the sell was a full exit.
func (s LedgerState) ApplySell(qty, price, dust decimal.Decimal) (LedgerState, decimal.Decimal, bool, error) {
	if !qty.IsPositive() {
		return s, decimal.Zero, false, errors.Wrapf(ErrInvalidInput, "sell amount must be positive, got %s", qty)
	}
	if qty.GreaterThan(s.OwnedQuantity) {
		return s, decimal.Zero, false, errors.Wrapf(ErrInsufficientHoldings, "have %s need %s", s.OwnedQuantity, qty)
	}
	if !ValidPrice(price) {
		return s, decimal.Zero, false, errors.Wrap(ErrNoPrice, "cannot sell without a price")
	}

	proceeds := qty.Mul(price)
	remaining := s.OwnedQuantity.Sub(qty)

	next := s
	next.CashBalance = s.CashBalance.Add(proceeds)

	fullExit := remaining.Mul(price).LessThan(dust)
	if fullExit {
		next.OwnedQuantity = decimal.Zero
		next.InvestedCost = decimal.Zero
	} else {
		next.InvestedCost = s.InvestedCost.Mul(remaining).Div(s.OwnedQuantity)
		next.OwnedQuantity = remaining
	}

	return next, proceeds, fullExit, nil
}

// MarketValue is the value of held units at price.
func (s LedgerState) MarketValue(price decimal.Decimal) decimal.Decimal {
	return s.OwnedQuantity.Mul(price)
}

// TotalValue is cash plus the market value of held units.
func (s LedgerState) TotalValue(price decimal.Decimal) decimal.Decimal {
	return s.CashBalance.Add(s.MarketValue(price))
}

// ProfitLoss computes unrealized P/L at price.
func (s LedgerState) ProfitLoss(price decimal.Decimal) ProfitLoss {
	pl := ProfitLoss{Amount: s.MarketValue(price).Sub(s.InvestedCost)}
	if s.InvestedCost.IsPositive() {
		pct := pl.Amount.Div(s.InvestedCost).Mul(decimal.NewFromInt(100))
		pl.Percent = &pct
	}
	return pl
}

// Allocation splits the total value into its cash and invested shares, in percent.
func (s LedgerState) Allocation(price decimal.Decimal) Allocation {
	total := s.TotalValue(price)
	if !total.IsPositive() {
		return Allocation{CashPercent: decimal.Zero, InvestedPercent: decimal.Zero}
	}
	hundred := decimal.NewFromInt(100)
	invested := s.MarketValue(price).Div(total).Mul(hundred)
	return Allocation{
		CashPercent:     hundred.Sub(invested),
		InvestedPercent: invested,
	}
}

// ProfitLoss is the unrealized result of the held position. Percent is nil when nothing is
// invested.
type ProfitLoss struct {
	Amount  decimal.Decimal  `json:"amount"`
	Percent *decimal.Decimal `json:"percent,omitempty"`
}

// Allocation is the share of total value held as cash and as the asset.
type Allocation struct {
	CashPercent     decimal.Decimal `json:"cash_percent"`
	InvestedPercent decimal.Decimal `json:"invested_percent"`
}
