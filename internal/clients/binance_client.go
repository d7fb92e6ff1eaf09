package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates a binance client. Empty credentials are fine for public market data.
// A non-empty baseURL overrides the default API host.
func NewBinanceClient(apiKey, apiSecret, baseURL string) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return client
}
