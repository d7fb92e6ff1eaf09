package internal

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/coincraze/config"
	"github.com/vadiminshakov/coincraze/internal/events"
	"github.com/vadiminshakov/coincraze/internal/metrics"
	"github.com/vadiminshakov/coincraze/internal/services/ledger"
	"github.com/vadiminshakov/coincraze/internal/services/oracle"
	"github.com/vadiminshakov/coincraze/internal/services/poller"
	"github.com/vadiminshakov/coincraze/internal/storage/journal"
	"github.com/vadiminshakov/coincraze/internal/storage/kv"
	"github.com/vadiminshakov/coincraze/internal/web"
	"github.com/vadiminshakov/coincraze/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App wires the oracle, poller, ledger and web server around one store.
type App struct {
	Config config.Config

	logger  *zap.Logger
	store   kv.Store
	journal *journal.Journal
	live    *events.LedgerBroadcaster
	oracle  *oracle.Oracle
	poller  *poller.Poller
	ledger  *ledger.Ledger
	server  *web.Server
}

// NewApp opens storage and restores persisted state.
func NewApp(ctx context.Context, logger *zap.Logger, conf config.Config, creds Credentials) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	sources, err := newSources(conf, creds)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create price sources")
	}

	retry := retrier.New(
		retrier.WithInitialInterval(conf.RetryBase),
		retrier.WithMaxInterval(conf.RetryCap),
		retrier.WithMaxRetries(conf.RetryMaxRetries),
	)

	store, err := kv.Open(ctx, kv.Options{
		Backend:     conf.Storage.Backend,
		Path:        conf.Storage.Path,
		RedisURL:    conf.Storage.RedisURL,
		PostgresDSN: conf.Storage.PostgresDSN,
		CacheTTL:    conf.Storage.CacheTTL,
	}, retry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open storage")
	}

	a := &App{Config: conf, logger: logger, store: store, live: events.NewLedgerBroadcaster(0)}

	a.journal, err = journal.Open(conf.JournalDir)
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "failed to open snapshot journal")
	}

	rec := metrics.Recorder{}
	a.oracle, err = oracle.NewOracle(logger.Named("oracle"), oracle.Config{
		Pair:      conf.Pair,
		Timeout:   conf.SourceTimeout,
		Freshness: conf.Freshness,
		Breaker: oracle.BreakerConfig{
			MaxFailures: conf.BreakerMaxFailures,
			OpenTimeout: conf.BreakerOpenTimeout,
		},
	}, sources, store, oracle.WithRetrier(retry), oracle.WithMetrics(rec))
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "failed to create oracle")
	}

	a.ledger, err = ledger.NewLedger(logger.Named("ledger"), ledger.Config{
		Pair:             conf.Pair,
		StartingBalance:  conf.StartingBalance,
		DustThreshold:    conf.DustThreshold,
		VerificationCost: conf.VerificationCost,
	}, store, a.oracle,
		ledger.WithJournal(a.journal),
		ledger.WithPublisher(a.live),
		ledger.WithMetrics(rec))
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "failed to create ledger")
	}

	if err := a.ledger.Load(ctx); err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "failed to load ledger")
	}
	if err := a.oracle.Load(ctx); err != nil {
		// the oracle starts empty and falls back to the seed
		logger.Warn("failed to load persisted price", zap.Error(err))
	}
	a.oracle.SetSeed(a.ledger.ReferencePrice)

	a.poller = poller.NewPoller(logger.Named("poller"), poller.Config{
		FastInterval: conf.FastInterval,
		SlowInterval: conf.SlowInterval,
		VisibleGate:  conf.VisibleGate,
		OnlineGate:   conf.OnlineGate,
	}, a.oracle)

	a.server = web.NewServer(logger.Named("web"), conf.ListenAddr, web.Deps{
		Ledger:    a.ledger,
		Oracle:    a.oracle,
		Signals:   a.poller,
		Snapshots: a.journal,
		Live:      a.live,
	})

	return a, nil
}

// Run starts polling and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.poller.Start(ctx)
	a.logger.Info("started",
		zap.String("pair", a.Config.Pair.String()),
		zap.Strings("sources", a.oracle.Sources()),
		zap.Duration("fast_interval", a.Config.FastInterval),
		zap.Duration("slow_interval", a.Config.SlowInterval))

	g.Go(func() error {
		<-ctx.Done()
		a.poller.Stop()
		return nil
	})
	g.Go(func() error {
		return a.server.Start(ctx)
	})

	return g.Wait()
}

// Handler exposes the HTTP API without listening.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Ledger returns the portfolio ledger.
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

// Oracle returns the price oracle.
func (a *App) Oracle() *oracle.Oracle { return a.oracle }

// Poller returns the refresh scheduler.
func (a *App) Poller() *poller.Poller { return a.poller }

// Close stops polling and releases storage.
func (a *App) Close() error {
	if a.poller != nil {
		a.poller.Stop()
	}

	var firstErr error
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			firstErr = errors.Wrap(err, "close journal")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close store")
		}
	}
	return firstErr
}
