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

const defaultKrakenURL = "https://api.kraken.com/0/public"

// KrakenPricer reads the public ticker; the last trade price is the first element of "c".
type KrakenPricer struct {
	client  *clients.HTTPClient
	baseURL string
}

func NewKrakenPricer(client *clients.HTTPClient, baseURL string) *KrakenPricer {
	if baseURL == "" {
		baseURL = defaultKrakenURL
	}
	return &KrakenPricer{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *KrakenPricer) Name() string { return "kraken" }

func (p *KrakenPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	symbol := strings.ToUpper(pair.Symbol())

	q := url.Values{}
	q.Set("pair", symbol)

	var doc any
	if err := p.client.GetJSON(ctx, fmt.Sprintf("%s/Ticker?%s", p.baseURL, q.Encode()), &doc); err != nil {
		return decimal.Zero, err
	}

	return extract(doc, fmt.Sprintf("$.result.%s.c[0]", symbol))
}
