package pricer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/clients"
	"github.com/vadiminshakov/coincraze/internal/domain"
)

const defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// coinGeckoIDs maps ticker symbols to coingecko asset ids.
var coinGeckoIDs = map[string]string{
	"SOL": "solana",
	"BTC": "bitcoin",
	"ETH": "ethereum",
}

// CoinGeckoPricer reads the simple price endpoint: {"solana":{"usd":142.5}}.
type CoinGeckoPricer struct {
	client  *clients.HTTPClient
	baseURL string
}

func NewCoinGeckoPricer(client *clients.HTTPClient, baseURL string) *CoinGeckoPricer {
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	return &CoinGeckoPricer{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *CoinGeckoPricer) Name() string { return "coingecko" }

func (p *CoinGeckoPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	id, ok := coinGeckoIDs[strings.ToUpper(pair.From)]
	if !ok {
		id = strings.ToLower(pair.From)
	}
	vs := strings.ToLower(pair.To)

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", vs)

	var doc any
	if err := p.client.GetJSON(ctx, fmt.Sprintf("%s/simple/price?%s", p.baseURL, q.Encode()), &doc); err != nil {
		return decimal.Zero, err
	}

	return extract(doc, fmt.Sprintf("$.%s.%s", id, vs))
}
