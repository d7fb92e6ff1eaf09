// Package ledger owns the simulated cash and asset position. Every mutation is serialized,
// persisted and published.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/coincraze/internal/storage/kv"
	"go.uber.org/zap"
)

var (
	defaultStartingBalance  = decimal.NewFromInt(1000)
	defaultVerificationCost = decimal.NewFromInt(200)
	hundred                 = decimal.NewFromInt(100)
)

// PriceSource provides the price the ledger trades and values at.
type PriceSource interface {
	EffectivePrice(seed decimal.Decimal) (decimal.Decimal, domain.PriceOrigin)
}

// Publisher receives a snapshot after every change.
type Publisher interface {
	Publish(domain.LedgerSnapshot)
}

// Journal records snapshots durably.
type Journal interface {
	Save(domain.LedgerSnapshot) error
}

// Metrics receives ledger observations.
type Metrics interface {
	ObserveLedger(kind string, err error, cash, owned float64)
}

// Config holds ledger business constants.
type Config struct {
	Pair             domain.Pair
	StartingBalance  decimal.Decimal
	DustThreshold    decimal.Decimal
	VerificationCost decimal.Decimal
}

// DefaultConfig returns the stock business constants. Zero values passed to NewLedger are
// kept as given, so start from this and override.
func DefaultConfig() Config {
	return Config{
		Pair:             domain.Pair{From: "SOL", To: "USD"},
		StartingBalance:  defaultStartingBalance,
		DustThreshold:    domain.DefaultDustThreshold,
		VerificationCost: defaultVerificationCost,
	}
}

// Ledger is the single owner of LedgerState.
type Ledger struct {
	logger    *zap.Logger
	cfg       Config
	store     kv.Store
	prices    PriceSource
	publisher Publisher
	journal   Journal
	metrics   Metrics
	now       func() time.Time

	mu        sync.RWMutex
	state     domain.LedgerState
	lastTrade *domain.Trade
}

// Option configures optional collaborators.
type Option func(*Ledger)

// WithPublisher attaches a snapshot publisher.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithJournal attaches a snapshot journal.
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger holding the starting balance. Call Load to restore persisted state.
func NewLedger(l *zap.Logger, cfg Config, store kv.Store, prices PriceSource, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if prices == nil {
		return nil, errors.New("price source is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.StartingBalance.IsNegative() || cfg.DustThreshold.IsNegative() || cfg.VerificationCost.IsNegative() {
		return nil, errors.New("ledger amounts must not be negative")
	}

	ledger := &Ledger{
		logger: l,
		cfg:    cfg,
		store:  store,
		prices: prices,
		now:    time.Now,
		state:  domain.NewLedgerState(cfg.StartingBalance),
	}
	for _, opt := range opts {
		opt(ledger)
	}

	return ledger, nil
}

// Load restores the persisted state. On first run the defaults are written out.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, found, err := l.read(ctx)
	if err != nil {
		return err
	}

	if !found {
		l.state = domain.NewLedgerState(l.cfg.StartingBalance)
		l.persist(ctx)
		l.logger.Info("ledger initialized", zap.String("cash_balance", l.state.CashBalance.String()))
		return nil
	}

	if err := state.Validate(); err != nil {
		return errors.Wrap(err, "persisted ledger is inconsistent")
	}

	l.state = state
	l.logger.Info("ledger restored",
		zap.String("cash_balance", state.CashBalance.String()),
		zap.String("owned_quantity", state.OwnedQuantity.String()),
		zap.String("invested_cost", state.InvestedCost.String()))

	return nil
}

func (l *Ledger) read(ctx context.Context) (domain.LedgerState, bool, error) {
	state := domain.NewLedgerState(l.cfg.StartingBalance)
	fields := []struct {
		key string
		dst *decimal.Decimal
	}{
		{kv.KeyCashBalance, &state.CashBalance},
		{kv.KeyOwnedQuantity, &state.OwnedQuantity},
		{kv.KeyInvestedCost, &state.InvestedCost},
		{kv.KeyReferencePrice, &state.ReferencePrice},
	}

	found := false
	for _, f := range fields {
		v, ok, err := kv.GetDecimal(ctx, l.store, f.key)
		if err != nil {
			return domain.LedgerState{}, false, errors.Wrap(err, "read ledger state")
		}
		if ok {
			*f.dst = v
			found = true
		}
	}

	return state, found, nil
}

// Buy converts cash into units at the effective price.
func (l *Ledger) Buy(ctx context.Context, cash decimal.Decimal) (domain.Trade, error) {
	return l.apply(ctx, domain.TradeBuy, "", func(s domain.LedgerState, price decimal.Decimal, t *domain.Trade) (domain.LedgerState, error) {
		next, units, err := s.ApplyBuy(cash, price)
		if err != nil {
			return s, err
		}
		t.Cash, t.Quantity, t.Price = cash, units, price
		return next, nil
	})
}

// Sell converts qty units into cash at the effective price.
func (l *Ledger) Sell(ctx context.Context, qty decimal.Decimal) (domain.Trade, error) {
	return l.apply(ctx, domain.TradeSell, "", func(s domain.LedgerState, price decimal.Decimal, t *domain.Trade) (domain.LedgerState, error) {
		return l.sell(s, qty, price, t)
	})
}

// SellPercent sells a share of the holdings. 100 sells exactly what is owned.
func (l *Ledger) SellPercent(ctx context.Context, percent decimal.Decimal) (domain.Trade, error) {
	return l.apply(ctx, domain.TradeSell, "", func(s domain.LedgerState, price decimal.Decimal, t *domain.Trade) (domain.LedgerState, error) {
		if !percent.IsPositive() || percent.GreaterThan(hundred) {
			return s, errors.Wrapf(domain.ErrInvalidInput, "sell percent must be in (0, 100], got %s", percent)
		}

		qty := s.OwnedQuantity
		if !percent.Equal(hundred) {
			qty = s.OwnedQuantity.Mul(percent).Div(hundred)
		}
		return l.sell(s, qty, price, t)
	})
}

func (l *Ledger) sell(s domain.LedgerState, qty, price decimal.Decimal, t *domain.Trade) (domain.LedgerState, error) {
	next, proceeds, fullExit, err := s.ApplySell(qty, price, l.cfg.DustThreshold)
	if err != nil {
		return s, err
	}
	t.Cash, t.Quantity, t.Price, t.FullExit = proceeds, qty, price, fullExit
	return next, nil
}

// Reset restores the starting balance and clears the position.
func (l *Ledger) Reset(ctx context.Context) (domain.Trade, error) {
	return l.apply(ctx, domain.TradeReset, "", func(_ domain.LedgerState, _ decimal.Decimal, t *domain.Trade) (domain.LedgerState, error) {
		t.Cash = l.cfg.StartingBalance
		return domain.NewLedgerState(l.cfg.StartingBalance), nil
	})
}

// Credit adds externally priced cash, e.g. a reward.
func (l *Ledger) Credit(ctx context.Context, amount decimal.Decimal, reason string) (domain.Trade, error) {
	return l.apply(ctx, domain.TradeCredit, reason, func(s domain.LedgerState, _ decimal.Decimal, t *domain.Trade) (domain.LedgerState, error) {
		if !amount.IsPositive() {
			return s, errors.Wrapf(domain.ErrInvalidInput, "credit amount must be positive, got %s", amount)
		}
		next := s
		next.CashBalance = s.CashBalance.Add(amount)
		t.Cash = amount
		return next, nil
	})
}

// Debit removes externally priced cash, e.g. a feature cost. Overdraft is rejected.
func (l *Ledger) Debit(ctx context.Context, amount decimal.Decimal, reason string) (domain.Trade, error) {
	return l.apply(ctx, domain.TradeDebit, reason, func(s domain.LedgerState, _ decimal.Decimal, t *domain.Trade) (domain.LedgerState, error) {
		if !amount.IsPositive() {
			return s, errors.Wrapf(domain.ErrInvalidInput, "debit amount must be positive, got %s", amount)
		}
		if amount.GreaterThan(s.CashBalance) {
			return s, errors.Wrapf(domain.ErrInsufficientFunds, "have %s need %s", s.CashBalance, amount)
		}
		next := s
		next.CashBalance = s.CashBalance.Sub(amount)
		t.Cash = amount
		return next, nil
	})
}

// Verify charges the profile verification cost.
func (l *Ledger) Verify(ctx context.Context) (domain.Trade, error) {
	return l.Debit(ctx, l.cfg.VerificationCost, "profile verification")
}

type mutation func(s domain.LedgerState, price decimal.Decimal, t *domain.Trade) (domain.LedgerState, error)

// apply runs fn under the lock. On error nothing changes; on success the new state is
// persisted, journaled and published.
func (l *Ledger) apply(ctx context.Context, kind domain.TradeKind, reason string, fn mutation) (domain.Trade, error) {
	l.mu.Lock()

	price, origin := l.prices.EffectivePrice(l.state.ReferencePrice)
	trade := domain.NewTrade(kind, l.now())
	trade.Reason = reason

	next, err := fn(l.state, price, &trade)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		cash, owned := l.state.CashBalance, l.state.OwnedQuantity
		l.mu.Unlock()

		l.observe(kind, err, cash, owned)
		l.logger.Info("ledger operation rejected", zap.String("kind", string(kind)), zap.Error(err))
		return domain.Trade{}, err
	}

	l.state = next
	trade.After = next
	l.lastTrade = &trade
	l.persist(ctx)

	// valuation after the change uses the same price the trade executed at
	snap := l.snapshotLocked(price, origin)
	l.mu.Unlock()

	l.observe(kind, nil, next.CashBalance, next.OwnedQuantity)
	l.emit(snap)
	l.logger.Info("ledger operation applied",
		zap.String("kind", string(kind)),
		zap.String("id", trade.ID),
		zap.String("cash", trade.Cash.String()),
		zap.String("quantity", trade.Quantity.String()),
		zap.String("price", trade.Price.String()),
		zap.Bool("full_exit", trade.FullExit))

	return trade, nil
}

// persist writes every ledger key. Failures are logged and never surfaced. Caller holds mu.
func (l *Ledger) persist(ctx context.Context) {
	ctx, cancel := kv.WriteContext(ctx)
	defer cancel()

	values := map[string]decimal.Decimal{
		kv.KeyCashBalance:    l.state.CashBalance,
		kv.KeyOwnedQuantity:  l.state.OwnedQuantity,
		kv.KeyInvestedCost:   l.state.InvestedCost,
		kv.KeyReferencePrice: l.state.ReferencePrice,
	}
	for key, v := range values {
		if err := kv.SetDecimal(ctx, l.store, key, v); err != nil {
			l.logger.Error("failed to persist ledger value", zap.String("key", key), zap.Error(err))
		}
	}
}

func (l *Ledger) emit(snap domain.LedgerSnapshot) {
	if l.journal != nil {
		if err := l.journal.Save(snap); err != nil {
			l.logger.Error("failed to journal ledger snapshot", zap.Error(err))
		}
	}
	if l.publisher != nil {
		l.publisher.Publish(snap)
	}
}

func (l *Ledger) observe(kind domain.TradeKind, err error, cash, owned decimal.Decimal) {
	if l.metrics == nil {
		return
	}
	l.metrics.ObserveLedger(string(kind), err, cash.InexactFloat64(), owned.InexactFloat64())
}

// State returns a copy of the current state.
func (l *Ledger) State() domain.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// ReferencePrice is the price of the last buy, zero when unset.
func (l *Ledger) ReferencePrice() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.ReferencePrice
}

// Snapshot values the ledger at the current effective price.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	price, origin := l.prices.EffectivePrice(l.state.ReferencePrice)
	return l.snapshotLocked(price, origin)
}

func (l *Ledger) snapshotLocked(price decimal.Decimal, origin domain.PriceOrigin) domain.LedgerSnapshot {
	s := l.state
	snap := domain.LedgerSnapshot{
		Timestamp:   l.now(),
		Pair:        l.cfg.Pair.String(),
		State:       s,
		Status:      s.Status(),
		Price:       price.String(),
		PriceOrigin: origin,
		MarketValue: s.MarketValue(price).String(),
		TotalValue:  s.TotalValue(price).String(),
		ProfitLoss:  s.ProfitLoss(price),
		Allocation:  s.Allocation(price),
	}
	if l.lastTrade != nil {
		snap.LastTradeID = l.lastTrade.ID
		snap.LastTradeKind = l.lastTrade.Kind
	}
	return snap
}

// TotalValue is cash plus holdings at the effective price.
func (l *Ledger) TotalValue() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	price, _ := l.prices.EffectivePrice(l.state.ReferencePrice)
	return l.state.TotalValue(price)
}

// ProfitLoss reports unrealized P/L at the effective price.
func (l *Ledger) ProfitLoss() domain.ProfitLoss {
	l.mu.RLock()
	defer l.mu.RUnlock()

	price, _ := l.prices.EffectivePrice(l.state.ReferencePrice)
	return l.state.ProfitLoss(price)
}

// Allocation reports the cash and invested shares of total value.
func (l *Ledger) Allocation() domain.Allocation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	price, _ := l.prices.EffectivePrice(l.state.ReferencePrice)
	return l.state.Allocation(price)
}

// PortfolioValue is the point-in-time copy attached to posts and comments.
func (l *Ledger) PortfolioValue(show bool) domain.PortfolioValue {
	return domain.PortfolioValue{
		TotalValue: l.TotalValue().StringFixed(2),
		ShowValue:  show,
		TakenAt:    l.now(),
	}
}
