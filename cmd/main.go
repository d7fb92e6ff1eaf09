// Command coincraze runs the SOL paper portfolio: a price oracle polling public exchange
// tickers, a simulated ledger and the HTTP API in front of both.
//
// Usage:
//
//	coincraze --config config.yaml
//	coincraze --setup (generates config.gen.yaml and starts with it)
//	coincraze (uses CLI arguments)
//
// Optional environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/coincraze/config"
	"github.com/vadiminshakov/coincraze/internal"
	"github.com/vadiminshakov/coincraze/internal/setup"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	opts, err := config.Get()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	conf := opts.Config
	if opts.Setup {
		conf, err = setup.RunTUI(setup.DefaultOutput)
		if err != nil {
			logger.Fatal("setup failed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, logger, conf, internal.CredentialsFromEnv())
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	if err := app.Run(ctx); err != nil {
		logger.Error("stopped with error", zap.Error(err))
		return
	}
	logger.Info("stopped")
}
