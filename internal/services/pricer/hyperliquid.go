package pricer

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/clients"
	"github.com/vadiminshakov/coincraze/internal/domain"
)

const defaultHyperliquidURL = "https://api.hyperliquid.xyz"

// HyperliquidPricer fetches mid prices from the Hyperliquid public info API.
// Mids are keyed by base coin (e.g. "SOL").
type HyperliquidPricer struct {
	client  *clients.HTTPClient
	baseURL string
}

func NewHyperliquidPricer(client *clients.HTTPClient, baseURL string) *HyperliquidPricer {
	if baseURL == "" {
		baseURL = defaultHyperliquidURL
	}
	return &HyperliquidPricer{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *HyperliquidPricer) Name() string { return "hyperliquid" }

func (p *HyperliquidPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	var doc any
	if err := p.client.PostJSON(ctx, p.baseURL+"/info", map[string]string{"type": "allMids"}, &doc); err != nil {
		return decimal.Zero, err
	}

	return extract(doc, fmt.Sprintf("$.%s", strings.ToUpper(pair.From)))
}
