// Package oracle turns a prioritized list of unreliable price sources into a single best-effort
// price with a fallback chain.
package oracle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/coincraze/internal/services/pricer"
	"github.com/vadiminshakov/coincraze/internal/storage/kv"
	"github.com/vadiminshakov/coincraze/pkg/indicators"
	"github.com/vadiminshakov/coincraze/pkg/retrier"
	"github.com/vadiminshakov/coincraze/pkg/schedule"
	"go.uber.org/zap"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultFreshness   = 60 * time.Second
	defaultHistorySize = 120
	defaultEMAPeriod   = 12
)

// Metrics receives oracle observations.
type Metrics interface {
	ObserveFetch(source string, err error, took time.Duration)
	ObserveRefresh(result string, price float64, failures int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveFetch(string, error, time.Duration) {}
func (nopMetrics) ObserveRefresh(string, float64, int)        {}

// BreakerConfig configures the per-source circuit breaker.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the breaker. Zero disables tripping.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe is allowed.
	OpenTimeout time.Duration
}

// Config tunes the oracle.
type Config struct {
	Pair        domain.Pair
	Timeout     time.Duration
	Freshness   time.Duration
	HistorySize int
	EMAPeriod   int
	Breaker     BreakerConfig
}

type guardedSource struct {
	source  pricer.Source
	breaker *gobreaker.CircuitBreaker
}

// Oracle queries sources in priority order and keeps the freshest good price.
type Oracle struct {
	logger  *zap.Logger
	cfg     Config
	sources []guardedSource
	store   kv.Store
	retrier *retrier.Retrier
	metrics Metrics
	now     func() time.Time

	inFlight atomic.Bool

	mu            sync.RWMutex
	current       *domain.PriceSample
	lastKnownGood *domain.PriceSample
	persisted     *domain.PriceSample
	failures      int
	history       []domain.PriceSample
	seed          func() decimal.Decimal
}

// Option configures optional collaborators.
type Option func(*Oracle)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Oracle) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) {
		o.now = now
	}
}

// WithRetrier overrides the retry backoff policy.
func WithRetrier(r *retrier.Retrier) Option {
	return func(o *Oracle) {
		if r != nil {
			o.retrier = r
		}
	}
}

// NewOracle creates an oracle over sources in the given priority order.
func NewOracle(l *zap.Logger, cfg Config, sources []pricer.Source, store kv.Store, opts ...Option) (*Oracle, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one price source is required")
	}
	if store == nil {
		return nil, errors.New("price store is required")
	}
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = defaultFreshness
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.EMAPeriod <= 0 {
		cfg.EMAPeriod = defaultEMAPeriod
	}

	o := &Oracle{
		logger:  l,
		cfg:     cfg,
		store:   store,
		retrier: retrier.New(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if _, dup := seen[src.Name()]; dup {
			return nil, errors.Errorf("duplicate price source %s", src.Name())
		}
		seen[src.Name()] = struct{}{}
		o.sources = append(o.sources, guardedSource{source: src, breaker: newBreaker(src.Name(), cfg.Breaker, l)})
	}

	return o, nil
}

func newBreaker(name string, cfg BreakerConfig, l *zap.Logger) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: name, Timeout: cfg.OpenTimeout}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return cfg.MaxFailures > 0 && counts.ConsecutiveFailures >= cfg.MaxFailures
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		l.Warn("price source breaker state changed",
			zap.String("source", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return gobreaker.NewCircuitBreaker(st)
}

// SetSeed installs the last-resort price provider, normally the ledger reference price.
func (o *Oracle) SetSeed(seed func() decimal.Decimal) {
	o.mu.Lock()
	o.seed = seed
	o.mu.Unlock()
}

// Load reads the persisted last-known-good price into memory.
func (o *Oracle) Load(ctx context.Context) error {
	sample, ok, err := o.readPersisted(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	o.mu.Lock()
	o.persisted = &sample
	o.mu.Unlock()

	o.logger.Info("restored persisted price",
		zap.String("price", sample.Value.String()),
		zap.Time("observed_at", sample.ObservedAt))

	return nil
}

// Refresh performs one pass over the sources. attempt is the retry number (0 for the first try).
//
// A refresh requested while another one runs is dropped with domain.ErrRefreshInFlight.
// When every source fails the error wraps domain.ErrOracleUnavailable and the returned sample
// is the best fallback (zero when nothing is known).
func (o *Oracle) Refresh(ctx context.Context, attempt int) (domain.PriceSample, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.metrics.ObserveRefresh("dropped", 0, o.Failures())
		return domain.PriceSample{}, domain.ErrRefreshInFlight
	}
	defer o.inFlight.Store(false)

	for _, gs := range o.sources {
		if ctx.Err() != nil {
			return domain.PriceSample{}, ctx.Err()
		}

		price, err := o.fetch(ctx, gs)
		if err != nil {
			o.logger.Debug("price source failed",
				zap.String("source", gs.source.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		sample := domain.PriceSample{Value: price, Source: gs.source.Name(), ObservedAt: o.now()}
		o.accept(ctx, sample)
		return sample, nil
	}

	// late cancellation means the caller went away, not that the sources are down
	if ctx.Err() != nil {
		return domain.PriceSample{}, ctx.Err()
	}

	o.mu.Lock()
	o.failures++
	failures := o.failures
	o.current = nil
	o.mu.Unlock()

	fallback, origin := o.fallback(ctx)
	o.metrics.ObserveRefresh("unavailable", 0, failures)
	o.logger.Warn("all price sources failed",
		zap.Int("attempt", attempt),
		zap.Int("consecutive_failures", failures),
		zap.String("fallback_origin", string(origin)),
		zap.String("fallback_price", fallback.Value.String()))

	return fallback, errors.Wrapf(domain.ErrOracleUnavailable, "%d sources failed, using %s price", len(o.sources), origin)
}

// RefreshWithRetry runs Refresh and, when every source failed, schedules the next attempt on
// sched after the backoff delay until the retry limit is reached.
func (o *Oracle) RefreshWithRetry(ctx context.Context, sched *schedule.Scheduler, attempt int) (domain.PriceSample, error) {
	sample, err := o.Refresh(ctx, attempt)
	if !errors.Is(err, domain.ErrOracleUnavailable) || !o.retrier.Allow(attempt) {
		return sample, err
	}

	delay := o.retrier.Delay(attempt)
	o.logger.Info("scheduling price retry", zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
	sched.After(delay, func(ctx context.Context) {
		_, _ = o.RefreshWithRetry(ctx, sched, attempt+1)
	})

	return sample, err
}

// fetch calls one source through its breaker under the per-source timeout. A source that
// outlives the timeout is abandoned and its late result discarded.
func (o *Oracle) fetch(ctx context.Context, gs guardedSource) (decimal.Decimal, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	type result struct {
		price decimal.Decimal
		err   error
	}
	done := make(chan result, 1)
	start := o.now()

	go func() {
		v, err := gs.breaker.Execute(func() (interface{}, error) {
			price, err := gs.source.GetPrice(callCtx, o.cfg.Pair)
			if err != nil {
				return nil, err
			}
			if !domain.ValidPrice(price) {
				return nil, errors.Wrapf(pricer.ErrUnusable, "price %s is not positive", price)
			}
			return price, nil
		})
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{price: v.(decimal.Decimal)}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: errors.Wrapf(callCtx.Err(), "%s abandoned", gs.source.Name())}
	}

	o.metrics.ObserveFetch(gs.source.Name(), res.err, o.now().Sub(start))
	return res.price, res.err
}

// accept installs a successful sample unless a newer one is already held, then persists it.
func (o *Oracle) accept(ctx context.Context, sample domain.PriceSample) bool {
	o.mu.Lock()
	if o.current != nil && o.current.NewerThan(sample) {
		o.mu.Unlock()
		o.logger.Debug("discarding stale price sample",
			zap.String("source", sample.Source),
			zap.Time("observed_at", sample.ObservedAt))
		return false
	}
	if o.lastKnownGood != nil && o.lastKnownGood.NewerThan(sample) {
		o.mu.Unlock()
		return false
	}

	s := sample
	o.current = &s
	o.lastKnownGood = &s
	o.persisted = &s
	o.failures = 0
	o.history = append(o.history, s)
	if len(o.history) > o.cfg.HistorySize {
		o.history = append(o.history[:0:0], o.history[len(o.history)-o.cfg.HistorySize:]...)
	}
	o.mu.Unlock()

	o.metrics.ObserveRefresh("ok", sample.Value.InexactFloat64(), 0)

	ctx, cancel := kv.WriteContext(ctx)
	defer cancel()
	if err := kv.SetDecimal(ctx, o.store, kv.KeyLastSuccessfulPrice, sample.Value); err != nil {
		o.logger.Error("failed to persist last successful price", zap.Error(err))
	}
	if err := kv.SetTime(ctx, o.store, kv.KeyLastPriceUpdateTime, sample.ObservedAt); err != nil {
		o.logger.Error("failed to persist price update time", zap.Error(err))
	}

	return true
}

// Observe offers an externally obtained sample. It is ignored when not positive or older than
// the held one.
func (o *Oracle) Observe(ctx context.Context, sample domain.PriceSample) bool {
	if sample.IsZero() {
		return false
	}
	return o.accept(ctx, sample)
}

// fallback walks last known good, persisted, seed.
func (o *Oracle) fallback(ctx context.Context) (domain.PriceSample, domain.PriceOrigin) {
	o.mu.RLock()
	lkg := o.lastKnownGood
	seed := o.seed
	o.mu.RUnlock()

	if lkg != nil {
		return *lkg, domain.PriceOriginLastKnown
	}

	if sample, ok, err := o.readPersisted(ctx); err != nil {
		o.logger.Error("failed to read persisted price", zap.Error(err))
	} else if ok {
		return sample, domain.PriceOriginPersisted
	}

	if seed != nil {
		if v := seed(); domain.ValidPrice(v) {
			return domain.PriceSample{Value: v, Source: string(domain.PriceOriginSeed)}, domain.PriceOriginSeed
		}
	}

	return domain.PriceSample{}, domain.PriceOriginNone
}

func (o *Oracle) readPersisted(ctx context.Context) (domain.PriceSample, bool, error) {
	price, ok, err := kv.GetDecimal(ctx, o.store, kv.KeyLastSuccessfulPrice)
	if err != nil || !ok || !domain.ValidPrice(price) {
		return domain.PriceSample{}, false, err
	}

	at, _, err := kv.GetTime(ctx, o.store, kv.KeyLastPriceUpdateTime)
	if err != nil {
		return domain.PriceSample{}, false, err
	}

	return domain.PriceSample{Value: price, Source: string(domain.PriceOriginPersisted), ObservedAt: at}, true, nil
}

// EffectivePrice returns the price readers should value the ledger at and where it came from:
// fresh current, last known good, persisted, seed, then zero.
func (o *Oracle) EffectivePrice(seed decimal.Decimal) (decimal.Decimal, domain.PriceOrigin) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.current != nil && o.now().Sub(o.current.ObservedAt) < o.cfg.Freshness {
		return o.current.Value, domain.PriceOriginLive
	}
	if o.lastKnownGood != nil {
		return o.lastKnownGood.Value, domain.PriceOriginLastKnown
	}
	if o.persisted != nil {
		return o.persisted.Value, domain.PriceOriginPersisted
	}
	if domain.ValidPrice(seed) {
		return seed, domain.PriceOriginSeed
	}
	return decimal.Zero, domain.PriceOriginNone
}

// LastUpdate returns the time of the most recent successful sample, falling back to the
// persisted timestamp.
func (o *Oracle) LastUpdate(ctx context.Context) (time.Time, bool) {
	o.mu.RLock()
	lkg := o.lastKnownGood
	o.mu.RUnlock()
	if lkg != nil {
		return lkg.ObservedAt, true
	}

	at, ok, err := kv.GetTime(ctx, o.store, kv.KeyLastPriceUpdateTime)
	if err != nil {
		o.logger.Error("failed to read price update time", zap.Error(err))
		return time.Time{}, false
	}
	return at, ok
}

// State returns a copy of the oracle state.
func (o *Oracle) State() domain.OracleState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := domain.OracleState{
		ConsecutiveFailures: o.failures,
		InFlight:            o.inFlight.Load(),
	}
	if o.current != nil {
		c := *o.current
		st.Current = &c
	}
	if o.lastKnownGood != nil {
		l := *o.lastKnownGood
		st.LastKnownGood = &l
	}
	return st
}

// Failures returns the consecutive failure count.
func (o *Oracle) Failures() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.failures
}

// Sources returns source names in priority order.
func (o *Oracle) Sources() []string {
	names := make([]string, 0, len(o.sources))
	for _, gs := range o.sources {
		names = append(names, gs.source.Name())
	}
	return names
}

// History returns the retained successful samples, oldest first.
func (o *Oracle) History() []domain.PriceSample {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]domain.PriceSample, len(o.history))
	copy(out, o.history)
	return out
}

// Trend summarises the history with an EMA and the change between the oldest and newest sample.
func (o *Oracle) Trend() domain.PriceTrend {
	hist := o.History()
	if len(hist) == 0 {
		return domain.PriceTrend{EMA: decimal.Zero, ChangePercent: decimal.Zero}
	}

	closes := make([]decimal.Decimal, len(hist))
	for i, s := range hist {
		closes[i] = s.Value
	}

	ema, err := indicators.LatestEMA(closes, o.cfg.EMAPeriod)
	if err != nil {
		o.logger.Debug("ema unavailable", zap.Error(err))
		ema = closes[len(closes)-1]
	}

	return domain.PriceTrend{
		Samples:       len(hist),
		EMA:           ema.Round(8),
		ChangePercent: indicators.ChangePercent(closes).Round(4),
	}
}
