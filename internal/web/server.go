package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/coincraze/internal/metrics"
	"go.uber.org/zap"
)

// Ledger is the part of the ledger the API drives.
type Ledger interface {
	Snapshot() domain.LedgerSnapshot
	Buy(ctx context.Context, cash decimal.Decimal) (domain.Trade, error)
	Sell(ctx context.Context, qty decimal.Decimal) (domain.Trade, error)
	SellPercent(ctx context.Context, percent decimal.Decimal) (domain.Trade, error)
	Reset(ctx context.Context) (domain.Trade, error)
	Verify(ctx context.Context) (domain.Trade, error)
	PortfolioValue(show bool) domain.PortfolioValue
}

// PriceOracle exposes the oracle internals for reading.
type PriceOracle interface {
	State() domain.OracleState
	Trend() domain.PriceTrend
	Sources() []string
}

// Signals forwards client lifecycle signals to the poller.
type Signals interface {
	SetVisible(visible bool)
	Online() bool
	RefreshNow(ctx context.Context) (domain.PriceSample, error)
}

// SnapshotReader replays journaled ledger snapshots.
type SnapshotReader interface {
	SnapshotsAfter(index uint64) ([]domain.LedgerSnapshotRecord, error)
}

// Subscriber delivers live ledger snapshots.
type Subscriber interface {
	Subscribe() chan domain.LedgerSnapshot
	Unsubscribe(ch chan domain.LedgerSnapshot)
}

// Deps are the collaborators behind the API. Snapshots and Live may be nil, their
// endpoints then answer 503.
type Deps struct {
	Ledger    Ledger
	Oracle    PriceOracle
	Signals   Signals
	Snapshots SnapshotReader
	Live      Subscriber
}

// Server exposes the JSON API, the push streams and the metrics endpoint.
type Server struct {
	Addr string

	logger *zap.Logger
	deps   Deps
	hub    *WSHub
}

// NewServer creates a new web server instance.
func NewServer(l *zap.Logger, addr string, deps Deps) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		Addr:   addr,
		logger: l,
		deps:   deps,
		hub:    NewWSHub(l),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ledger", s.handleLedger)
		r.Post("/ledger/buy", s.handleBuy)
		r.Post("/ledger/sell", s.handleSell)
		r.Post("/ledger/reset", s.handleReset)
		r.Post("/ledger/verify", s.handleVerify)
		r.Get("/portfolio-value", s.handlePortfolioValue)

		r.Get("/price", s.handlePrice)
		r.Post("/price/refresh", s.handleRefresh)

		r.Post("/signals/visibility", s.handleVisibility)
		r.Post("/signals/online", s.handleOnline)

		r.Get("/balance/stream", s.handleBalanceStream)
		r.Get("/ws", s.hub.HandleWS)
	})

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if s.deps.Live != nil {
		go s.hub.Run(ctx, s.deps.Live)
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.CloseAll()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
