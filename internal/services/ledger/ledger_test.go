package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/coincraze/internal/storage/kv"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakePrices struct {
	mu     sync.Mutex
	price  decimal.Decimal
	origin domain.PriceOrigin
}

func (f *fakePrices) set(price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = d(price)
	f.origin = domain.PriceOriginLive
}

func (f *fakePrices) EffectivePrice(seed decimal.Decimal) (decimal.Decimal, domain.PriceOrigin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.price.IsPositive() {
		return f.price, f.origin
	}
	if seed.IsPositive() {
		return seed, domain.PriceOriginSeed
	}
	return decimal.Zero, domain.PriceOriginNone
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Save(s domain.LedgerSnapshot) error {
	args := m.Called(s)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(s domain.LedgerSnapshot) {
	m.Called(s)
}

// brokenStore fails every write.
type brokenStore struct {
	*kv.MemoryStore
}

func (brokenStore) Set(context.Context, string, string) error {
	return errors.New("disk full")
}

// cancelAwareStore refuses writes under a done context, like the network backends do.
type cancelAwareStore struct {
	*kv.MemoryStore
}

func (s cancelAwareStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func newLedger(t *testing.T, store kv.Store, prices PriceSource, opts ...Option) *Ledger {
	t.Helper()
	if store == nil {
		store = kv.NewMemoryStore()
	}
	l, err := NewLedger(zap.NewNop(), DefaultConfig(), store, prices, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background()))
	return l
}

func assertState(t *testing.T, s domain.LedgerState, cash, owned, invested string) {
	t.Helper()
	assert.True(t, s.CashBalance.Equal(d(cash)), "cash %s != %s", s.CashBalance, cash)
	assert.True(t, s.OwnedQuantity.Equal(d(owned)), "owned %s != %s", s.OwnedQuantity, owned)
	assert.True(t, s.InvestedCost.Equal(d(invested)), "invested %s != %s", s.InvestedCost, invested)
}

func TestLedger_BuySellRoundTrip(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	l := newLedger(t, nil, prices)

	// Scenario A
	prices.set("20")
	trade, err := l.Buy(ctx, d("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.TradeBuy, trade.Kind)
	assert.NotEmpty(t, trade.ID)
	assert.True(t, trade.Quantity.Equal(d("5")))
	assertState(t, l.State(), "900", "5", "100")
	assert.True(t, l.ReferencePrice().Equal(d("20")))

	// Scenario B
	prices.set("25")
	trade, err = l.Sell(ctx, d("2.5"))
	require.NoError(t, err)
	assert.True(t, trade.Cash.Equal(d("62.5")))
	assert.False(t, trade.FullExit)
	assertState(t, l.State(), "962.5", "2.5", "50")

	// Scenario C
	trade, err = l.Sell(ctx, d("2.5"))
	require.NoError(t, err)
	assert.True(t, trade.FullExit)
	assertState(t, l.State(), "1025", "0", "0")
	assert.Equal(t, domain.PositionEmpty, l.State().Status())
}

func TestLedger_RejectionsLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	l := newLedger(t, nil, prices)

	_, err := l.Buy(ctx, d("100"))
	assert.ErrorIs(t, err, domain.ErrNoPrice, "no price anywhere")

	prices.set("20")
	_, err = l.Buy(ctx, d("100"))
	require.NoError(t, err)
	before := l.State()

	tests := []struct {
		name string
		op   func() error
		want error
	}{
		{"buy zero", func() error { _, err := l.Buy(ctx, decimal.Zero); return err }, domain.ErrInvalidInput},
		{"buy negative", func() error { _, err := l.Buy(ctx, d("-5")); return err }, domain.ErrInvalidInput},
		{"buy overdraft", func() error { _, err := l.Buy(ctx, d("901")); return err }, domain.ErrInsufficientFunds},
		{"sell zero", func() error { _, err := l.Sell(ctx, decimal.Zero); return err }, domain.ErrInvalidInput},
		{"sell too much", func() error { _, err := l.Sell(ctx, d("5.0001")); return err }, domain.ErrInsufficientHoldings},
		{"sell percent zero", func() error { _, err := l.SellPercent(ctx, decimal.Zero); return err }, domain.ErrInvalidInput},
		{"sell percent over", func() error { _, err := l.SellPercent(ctx, d("101")); return err }, domain.ErrInvalidInput},
		{"debit overdraft", func() error { _, err := l.Debit(ctx, d("1000"), "x"); return err }, domain.ErrInsufficientFunds},
		{"debit zero", func() error { _, err := l.Debit(ctx, decimal.Zero, "x"); return err }, domain.ErrInvalidInput},
		{"credit negative", func() error { _, err := l.Credit(ctx, d("-1"), "x"); return err }, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, domain.IsRejection(err))
			assert.Equal(t, before, l.State())
		})
	}
}

func TestLedger_BuyUsesReferencePriceAsSeed(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("20")
	l := newLedger(t, nil, prices)

	_, err := l.Buy(ctx, d("100"))
	require.NoError(t, err)

	// oracle knows nothing anymore, the last buy price is the seed
	prices.mu.Lock()
	prices.price = decimal.Zero
	prices.mu.Unlock()

	snap := l.Snapshot()
	assert.Equal(t, domain.PriceOriginSeed, snap.PriceOrigin)
	assert.Equal(t, "1000", snap.TotalValue)

	trade, err := l.Sell(ctx, d("1"))
	require.NoError(t, err)
	assert.True(t, trade.Price.Equal(d("20")))
}

func TestLedger_SellPercent(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("10")
	l := newLedger(t, nil, prices)

	_, err := l.Buy(ctx, d("300"))
	require.NoError(t, err)

	trade, err := l.SellPercent(ctx, d("25"))
	require.NoError(t, err)
	assert.True(t, trade.Quantity.Equal(d("7.5")))
	assertState(t, l.State(), "775", "22.5", "225")

	trade, err = l.SellPercent(ctx, d("100"))
	require.NoError(t, err)
	assert.True(t, trade.FullExit)
	assertState(t, l.State(), "1000", "0", "0")
}

func TestLedger_DustResidualClosesPosition(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("3")
	l := newLedger(t, nil, prices)

	_, err := l.Buy(ctx, d("3"))
	require.NoError(t, err)

	// residual 0.002 × 3 = 0.006 < 0.01
	trade, err := l.Sell(ctx, d("0.998"))
	require.NoError(t, err)
	assert.True(t, trade.FullExit)

	s := l.State()
	assert.True(t, s.OwnedQuantity.IsZero())
	assert.True(t, s.InvestedCost.IsZero())
	assert.True(t, s.CashBalance.Equal(d("999.994")))
}

func TestLedger_PartialSellKeepsCostPerUnit(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("8")
	l := newLedger(t, nil, prices)

	_, err := l.Buy(ctx, d("400"))
	require.NoError(t, err)
	prices.set("11")

	for _, qty := range []string{"10", "7.5", "1.25"} {
		before := l.State()
		_, err := l.Sell(ctx, d(qty))
		require.NoError(t, err)
		after := l.State()

		perUnitBefore := before.InvestedCost.Div(before.OwnedQuantity)
		perUnitAfter := after.InvestedCost.Div(after.OwnedQuantity)
		assert.True(t, perUnitBefore.Sub(perUnitAfter).Abs().LessThan(d("0.000001")), "%s vs %s", perUnitBefore, perUnitAfter)
		assert.NoError(t, after.Validate())
	}
}

func TestLedger_ResetCreditDebitVerify(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("20")
	l := newLedger(t, nil, prices)

	_, err := l.Buy(ctx, d("100"))
	require.NoError(t, err)

	trade, err := l.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeReset, trade.Kind)
	assertState(t, l.State(), "1000", "0", "0")
	assert.True(t, l.ReferencePrice().IsZero())

	trade, err = l.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, "profile verification", trade.Reason)
	assertState(t, l.State(), "800", "0", "0")

	_, err = l.Credit(ctx, d("50"), "referral")
	require.NoError(t, err)
	assertState(t, l.State(), "850", "0", "0")
}

func TestLedger_ValuationViews(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("20")
	l := newLedger(t, nil, prices)

	pl := l.ProfitLoss()
	assert.Nil(t, pl.Percent)

	_, err := l.Buy(ctx, d("250"))
	require.NoError(t, err)
	prices.set("30")

	assert.True(t, l.TotalValue().Equal(d("1125")))

	pl = l.ProfitLoss()
	assert.True(t, pl.Amount.Equal(d("125")))
	require.NotNil(t, pl.Percent)
	assert.True(t, pl.Percent.Equal(d("50")))

	alloc := l.Allocation()
	assert.True(t, alloc.InvestedPercent.Add(alloc.CashPercent).Equal(d("100")))

	pv := l.PortfolioValue(true)
	assert.Equal(t, "1125.00", pv.TotalValue)
	assert.True(t, pv.ShowValue)
	assert.False(t, l.PortfolioValue(false).ShowValue)

	snap := l.Snapshot()
	assert.Equal(t, "SOL_USD", snap.Pair)
	assert.Equal(t, domain.PositionOpen, snap.Status)
	assert.Equal(t, domain.TradeBuy, snap.LastTradeKind)
	assert.Equal(t, "375", snap.MarketValue)
}

func TestLedger_PersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	prices := &fakePrices{}
	prices.set("20")

	l := newLedger(t, store, prices)
	_, err := l.Buy(ctx, d("100"))
	require.NoError(t, err)

	v, ok, err := store.Get(ctx, kv.KeyCashBalance)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "900", v)

	restored := newLedger(t, store, prices)
	assertState(t, restored.State(), "900", "5", "100")
	assert.True(t, restored.ReferencePrice().Equal(d("20")))
}

func TestLedger_LoadFirstRunWritesDefaults(t *testing.T) {
	store := kv.NewMemoryStore()
	newLedger(t, store, &fakePrices{})

	v, ok, err := store.Get(context.Background(), kv.KeyCashBalance)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1000", v)
}

func TestLedger_LoadRejectsInconsistentState(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, kv.KeyOwnedQuantity, "0"))
	require.NoError(t, store.Set(ctx, kv.KeyInvestedCost, "10"))

	l, err := NewLedger(zap.NewNop(), DefaultConfig(), store, &fakePrices{})
	require.NoError(t, err)
	assert.Error(t, l.Load(ctx))
}

func TestLedger_PersistsAfterCallerCancels(t *testing.T) {
	prices := &fakePrices{}
	prices.set("20")
	store := cancelAwareStore{kv.NewMemoryStore()}
	l := newLedger(t, store, prices)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Buy(ctx, d("100"))
	require.NoError(t, err)

	cash, ok, err := kv.GetDecimal(context.Background(), store, kv.KeyCashBalance)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, cash.Equal(d("900")), "cash %s", cash)
}

func TestLedger_PersistenceFailureIsNotSurfaced(t *testing.T) {
	prices := &fakePrices{}
	prices.set("20")
	l := newLedger(t, brokenStore{kv.NewMemoryStore()}, prices)

	_, err := l.Buy(context.Background(), d("100"))
	require.NoError(t, err)
	assertState(t, l.State(), "900", "5", "100")
}

func TestLedger_PublishesAndJournalsEveryChange(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("20")

	journal := new(MockJournal)
	publisher := new(MockPublisher)
	journal.On("Save", mock.AnythingOfType("domain.LedgerSnapshot")).Return(errors.New("wal closed")).Once()
	journal.On("Save", mock.AnythingOfType("domain.LedgerSnapshot")).Return(nil)
	publisher.On("Publish", mock.AnythingOfType("domain.LedgerSnapshot")).Return()

	l := newLedger(t, nil, prices, WithJournal(journal), WithPublisher(publisher))

	_, err := l.Buy(ctx, d("100"))
	require.NoError(t, err, "journal failures are logged only")
	_, err = l.Sell(ctx, d("1"))
	require.NoError(t, err)
	_, err = l.Sell(ctx, d("100"))
	require.Error(t, err)

	journal.AssertNumberOfCalls(t, "Save", 2)
	publisher.AssertNumberOfCalls(t, "Publish", 2)

	last := publisher.Calls[1].Arguments.Get(0).(domain.LedgerSnapshot)
	assert.Equal(t, domain.TradeSell, last.LastTradeKind)
	assert.Equal(t, "4", last.State.OwnedQuantity.String())
}

type recordingMetrics struct {
	mu    sync.Mutex
	kinds []string
	errs  []error
}

func (m *recordingMetrics) ObserveLedger(kind string, err error, _, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	m.errs = append(m.errs, err)
}

func TestLedger_Metrics(t *testing.T) {
	prices := &fakePrices{}
	prices.set("20")
	m := &recordingMetrics{}
	l := newLedger(t, nil, prices, WithMetrics(m))

	_, _ = l.Buy(context.Background(), d("100"))
	_, _ = l.Buy(context.Background(), d("5000"))

	assert.Equal(t, []string{"buy", "buy"}, m.kinds)
	assert.NoError(t, m.errs[0])
	assert.ErrorIs(t, m.errs[1], domain.ErrInsufficientFunds)
}

func TestLedger_ConcurrentOperationsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("10")
	l := newLedger(t, nil, prices)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = l.Buy(ctx, d("15"))
		}()
		go func() {
			defer wg.Done()
			_, _ = l.SellPercent(ctx, d("50"))
		}()
	}
	wg.Wait()

	s := l.State()
	require.NoError(t, s.Validate())
	if s.OwnedQuantity.IsZero() {
		assert.True(t, s.InvestedCost.IsZero())
	}
}

func TestNewLedger_Validation(t *testing.T) {
	_, err := NewLedger(nil, Config{}, nil, &fakePrices{})
	assert.Error(t, err)

	_, err = NewLedger(nil, Config{}, kv.NewMemoryStore(), nil)
	assert.Error(t, err)

	negative := DefaultConfig()
	negative.DustThreshold = d("-1")
	_, err = NewLedger(nil, negative, kv.NewMemoryStore(), &fakePrices{})
	assert.Error(t, err)

	l, err := NewLedger(nil, DefaultConfig(), kv.NewMemoryStore(), &fakePrices{})
	require.NoError(t, err)
	assert.True(t, l.State().CashBalance.Equal(d("1000")))
}

func TestNewLedger_KeepsZeroConfig(t *testing.T) {
	ctx := context.Background()
	prices := &fakePrices{}
	prices.set("20")

	cfg := DefaultConfig()
	cfg.StartingBalance = decimal.Zero
	l, err := NewLedger(nil, cfg, kv.NewMemoryStore(), prices)
	require.NoError(t, err)
	require.NoError(t, l.Load(ctx))
	assert.True(t, l.State().CashBalance.IsZero())

	_, err = l.Buy(ctx, d("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// with the dust rule off a tiny residual stays open
	cfg = DefaultConfig()
	cfg.DustThreshold = decimal.Zero
	l, err = NewLedger(nil, cfg, kv.NewMemoryStore(), prices)
	require.NoError(t, err)
	require.NoError(t, l.Load(ctx))

	_, err = l.Buy(ctx, d("100"))
	require.NoError(t, err)
	trade, err := l.Sell(ctx, d("4.9999"))
	require.NoError(t, err)
	assert.False(t, trade.FullExit)
	assertState(t, l.State(), "999.998", "0.0001", "0.002")
}
