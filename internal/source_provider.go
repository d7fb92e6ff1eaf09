package internal

import (
	"fmt"
	"os"

	"github.com/vadiminshakov/coincraze/config"
	"github.com/vadiminshakov/coincraze/internal/clients"
	"github.com/vadiminshakov/coincraze/internal/services/pricer"
)

// Credentials are optional exchange keys. Public tickers work without them.
type Credentials struct {
	BinanceKey    string
	BinanceSecret string
	BybitKey      string
	BybitSecret   string
}

// CredentialsFromEnv reads BINANCE_API_KEY, BINANCE_API_SECRET, BYBIT_API_KEY and
// BYBIT_API_SECRET.
func CredentialsFromEnv() Credentials {
	return Credentials{
		BinanceKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecret: os.Getenv("BINANCE_API_SECRET"),
		BybitKey:      os.Getenv("BYBIT_API_KEY"),
		BybitSecret:   os.Getenv("BYBIT_API_SECRET"),
	}
}

// newSource is the single point of truth for dispatching a source name to its pricer.
func newSource(name string, cfg config.Config, creds Credentials) (pricer.Source, error) {
	baseURL := cfg.Endpoints[name]
	httpClient := func() *clients.HTTPClient {
		return clients.NewHTTPClient(cfg.SourceTimeout, cfg.SourceRPS)
	}

	switch name {
	case config.SourceCoinGecko:
		return pricer.NewCoinGeckoPricer(httpClient(), baseURL), nil
	case config.SourceKraken:
		return pricer.NewKrakenPricer(httpClient(), baseURL), nil
	case config.SourceHyperliquid:
		return pricer.NewHyperliquidPricer(httpClient(), baseURL), nil
	case config.SourceBinance:
		return pricer.NewBinancePricer(clients.NewBinanceClient(creds.BinanceKey, creds.BinanceSecret, baseURL)), nil
	case config.SourceBybit:
		return pricer.NewBybitPricer(clients.NewBybitClient(creds.BybitKey, creds.BybitSecret, baseURL)), nil
	default:
		return nil, fmt.Errorf("unsupported price source: %s", name)
	}
}

// newSources builds the configured sources in priority order.
func newSources(cfg config.Config, creds Credentials) ([]pricer.Source, error) {
	sources := make([]pricer.Source, 0, len(cfg.Sources))
	for _, name := range cfg.Sources {
		s, err := newSource(name, cfg, creds)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, nil
}
