// Package indicators computes trend indicators (EMA, RSI) over price series.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
)

// CalculateEMA calculates the Exponential Moving Average for the given period.
func CalculateEMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if period < 1 {
		return nil, fmt.Errorf("invalid EMA period %d", period)
	}
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	closesFloat := decimalsToFloat64(closes)

	ema := trend.NewEmaWithPeriod[float64](period)
	inputChan := helper.SliceToChan(closesFloat)
	outputChan := ema.Compute(inputChan)
	emaFloat := helper.ChanToSlice(outputChan)

	return float64ToDecimals(emaFloat), nil
}

// LatestEMA returns the most recent EMA value. The period shrinks to the series length when
// fewer points are available.
func LatestEMA(closes []decimal.Decimal, period int) (decimal.Decimal, error) {
	if len(closes) == 0 {
		return decimal.Zero, fmt.Errorf("no data points")
	}
	if period > len(closes) {
		period = len(closes)
	}

	ema, err := CalculateEMA(closes, period)
	if err != nil {
		return decimal.Zero, err
	}
	if len(ema) == 0 {
		return closes[len(closes)-1], nil
	}

	return ema[len(ema)-1], nil
}

// CalculateRSI calculates the Relative Strength Index for the given period.
func CalculateRSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	closesFloat := decimalsToFloat64(closes)

	rsi := momentum.NewRsiWithPeriod[float64](period)
	inputChan := helper.SliceToChan(closesFloat)
	outputChan := rsi.Compute(inputChan)
	rsiFloat := helper.ChanToSlice(outputChan)

	return float64ToDecimals(rsiFloat), nil
}

// ChangePercent returns (last - first) / first × 100, or zero when first is not positive.
func ChangePercent(closes []decimal.Decimal) decimal.Decimal {
	if len(closes) < 2 || !closes[0].IsPositive() {
		return decimal.Zero
	}

	first := closes[0]
	last := closes[len(closes)-1]

	return last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))
}

func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	floats := make([]float64, len(decimals))
	for i, d := range decimals {
		floats[i] = d.InexactFloat64()
	}
	return floats
}

func float64ToDecimals(floats []float64) []decimal.Decimal {
	decimals := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		decimals[i] = decimal.NewFromFloat(f)
	}
	return decimals
}
