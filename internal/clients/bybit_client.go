package clients

import (
	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient creates a bybit client. Credentials are attached only when both are set.
func NewBybitClient(apiKey, apiSecret, baseURL string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" && apiSecret != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}
	if baseURL != "" {
		client = client.WithBaseURL(baseURL)
	}

	return client
}
