package pricer

import (
	"context"

	"github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/domain"
)

// BybitPricer fetches the last spot price from Bybit.
type BybitPricer struct {
	client *bybit.Client
}

func NewBybitPricer(client *bybit.Client) *BybitPricer {
	return &BybitPricer{client: client}
}

func (p *BybitPricer) Name() string { return "bybit" }

// GetPrice ignores ctx cancellation mid-request; the SDK has no context support. The oracle
// abandons the call on timeout and discards the late result.
func (p *BybitPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	symbol := bybit.SymbolV5(quoteSymbol(pair, "USDT"))

	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Zero, err
	}

	if len(result.Result.Spot.List) == 0 {
		return decimal.Zero, emptyResponse(p.Name(), pair)
	}

	return toDecimal(result.Result.Spot.List[0].LastPrice)
}
