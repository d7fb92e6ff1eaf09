package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerState_ApplyBuy(t *testing.T) {
	s := NewLedgerState(d("1000"))

	next, units, err := s.ApplyBuy(d("100"), d("20"))
	require.NoError(t, err)

	assert.True(t, units.Equal(d("5")))
	assert.True(t, next.CashBalance.Equal(d("900")))
	assert.True(t, next.OwnedQuantity.Equal(d("5")))
	assert.True(t, next.InvestedCost.Equal(d("100")))
	assert.True(t, next.ReferencePrice.Equal(d("20")))
	assert.Equal(t, PositionOpen, next.Status())
	assert.NoError(t, next.Validate())

	// receiver untouched
	assert.True(t, s.CashBalance.Equal(d("1000")))
}

func TestLedgerState_ApplyBuyRejections(t *testing.T) {
	s := NewLedgerState(d("1000"))

	tests := []struct {
		name  string
		cash  decimal.Decimal
		price decimal.Decimal
		want  error
	}{
		{name: "zero amount", cash: decimal.Zero, price: d("20"), want: ErrInvalidInput},
		{name: "negative amount", cash: d("-1"), price: d("20"), want: ErrInvalidInput},
		{name: "overdraft", cash: d("1500"), price: d("20"), want: ErrInsufficientFunds},
		{name: "no price", cash: d("100"), price: decimal.Zero, want: ErrNoPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, units, err := s.ApplyBuy(tt.cash, tt.price)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsRejection(err))
			assert.True(t, units.IsZero())
			assert.Equal(t, s, next)
		})
	}
}

func TestLedgerState_ApplySellPartialIsProportional(t *testing.T) {
	s := LedgerState{
		CashBalance:   d("900"),
		OwnedQuantity: d("5"),
		InvestedCost:  d("100"),
	}

	next, proceeds, fullExit, err := s.ApplySell(d("2"), d("30"), DefaultDustThreshold)
	require.NoError(t, err)

	assert.False(t, fullExit)
	assert.True(t, proceeds.Equal(d("60")))
	assert.True(t, next.CashBalance.Equal(d("960")))
	assert.True(t, next.OwnedQuantity.Equal(d("3")))
	assert.True(t, next.InvestedCost.Equal(d("60")))

	// invested per unit is preserved
	before := s.InvestedCost.Div(s.OwnedQuantity)
	after := next.InvestedCost.Div(next.OwnedQuantity)
	assert.True(t, before.Equal(after))
}

func TestLedgerState_ApplySellDustClosesPosition(t *testing.T) {
	s := LedgerState{
		CashBalance:   d("0"),
		OwnedQuantity: d("1.0001"),
		InvestedCost:  d("50"),
	}

	// 0.0001 × 50 = 0.005 < 0.01
	next, proceeds, fullExit, err := s.ApplySell(d("1"), d("50"), DefaultDustThreshold)
	require.NoError(t, err)

	assert.True(t, fullExit)
	assert.True(t, proceeds.Equal(d("50")))
	assert.True(t, next.OwnedQuantity.IsZero())
	assert.True(t, next.InvestedCost.IsZero())
	assert.Equal(t, PositionEmpty, next.Status())
	assert.NoError(t, next.Validate())
}

func TestLedgerState_ApplySellRejections(t *testing.T) {
	s := LedgerState{
		CashBalance:   d("900"),
		OwnedQuantity: d("5"),
		InvestedCost:  d("100"),
	}

	_, _, _, err := s.ApplySell(decimal.Zero, d("20"), DefaultDustThreshold)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, _, err = s.ApplySell(d("6"), d("20"), DefaultDustThreshold)
	assert.ErrorIs(t, err, ErrInsufficientHoldings)

	_, _, _, err = s.ApplySell(d("1"), decimal.Zero, DefaultDustThreshold)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestLedgerState_ProfitLoss(t *testing.T) {
	s := LedgerState{
		CashBalance:   d("900"),
		OwnedQuantity: d("5"),
		InvestedCost:  d("100"),
	}

	pl := s.ProfitLoss(d("30"))
	assert.True(t, pl.Amount.Equal(d("50")))
	require.NotNil(t, pl.Percent)
	assert.True(t, pl.Percent.Equal(d("50")))

	empty := NewLedgerState(d("1000")).ProfitLoss(d("30"))
	assert.True(t, empty.Amount.IsZero())
	assert.Nil(t, empty.Percent)
}

func TestLedgerState_Allocation(t *testing.T) {
	s := LedgerState{
		CashBalance:   d("750"),
		OwnedQuantity: d("10"),
		InvestedCost:  d("200"),
	}

	a := s.Allocation(d("25"))
	assert.True(t, a.InvestedPercent.Equal(d("25")))
	assert.True(t, a.CashPercent.Equal(d("75")))

	zero := NewLedgerState(decimal.Zero).Allocation(d("25"))
	assert.True(t, zero.CashPercent.IsZero())
	assert.True(t, zero.InvestedPercent.IsZero())
}

func TestLedgerState_Validate(t *testing.T) {
	assert.NoError(t, NewLedgerState(d("1000")).Validate())
	assert.Error(t, LedgerState{CashBalance: d("-1")}.Validate())
	assert.Error(t, LedgerState{OwnedQuantity: decimal.Zero, InvestedCost: d("1")}.Validate())
}
