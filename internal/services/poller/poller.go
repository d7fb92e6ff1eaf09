// Package poller decides when the price oracle refreshes: on a fast cadence while the client is
// visible, on a slower backup cadence, and immediately on visibility and connectivity signals.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/coincraze/pkg/schedule"
	"go.uber.org/zap"
)

const (
	defaultFastInterval = 10 * time.Second
	defaultSlowInterval = 30 * time.Second
	defaultVisibleGate  = 5 * time.Second
	defaultOnlineGate   = 5 * time.Second
)

// ErrNotRunning is returned by RefreshNow before Start or after Stop.
var ErrNotRunning = errors.New("poller is not running")

// Refresher is the oracle as seen by the poller.
type Refresher interface {
	RefreshWithRetry(ctx context.Context, sched *schedule.Scheduler, attempt int) (domain.PriceSample, error)
	LastUpdate(ctx context.Context) (time.Time, bool)
}

// Config holds the cadences and signal gates.
type Config struct {
	FastInterval time.Duration
	SlowInterval time.Duration
	// VisibleGate suppresses a visibility refresh when the last update is younger than it.
	VisibleGate time.Duration
	// OnlineGate suppresses a reconnect refresh when the last update is younger than it.
	OnlineGate time.Duration
}

// Poller schedules oracle refreshes.
type Poller struct {
	logger *zap.Logger
	cfg    Config
	oracle Refresher
	now    func() time.Time

	mu      sync.Mutex
	sched   *schedule.Scheduler
	visible bool
}

// NewPoller creates a poller. The client is assumed visible until told otherwise.
func NewPoller(l *zap.Logger, cfg Config, oracle Refresher) *Poller {
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = defaultFastInterval
	}
	if cfg.SlowInterval <= 0 {
		cfg.SlowInterval = defaultSlowInterval
	}
	if cfg.VisibleGate <= 0 {
		cfg.VisibleGate = defaultVisibleGate
	}
	if cfg.OnlineGate <= 0 {
		cfg.OnlineGate = defaultOnlineGate
	}

	return &Poller{
		logger:  l,
		cfg:     cfg,
		oracle:  oracle,
		now:     time.Now,
		visible: true,
	}
}

// Start runs an initial refresh and arms both cadences. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sched != nil && !p.sched.Stopped() {
		return
	}

	s := schedule.New(ctx)
	p.sched = s

	s.Go(func(ctx context.Context) {
		p.refresh(ctx, s, "initial")
	})
	s.Every(p.cfg.FastInterval, func(ctx context.Context) {
		if !p.Visible() {
			return
		}
		p.refresh(ctx, s, "fast")
	})
	s.Every(p.cfg.SlowInterval, func(ctx context.Context) {
		if p.updatedWithin(ctx, p.cfg.SlowInterval) {
			return
		}
		p.refresh(ctx, s, "slow")
	})

	p.logger.Info("price poller started",
		zap.Duration("fast_interval", p.cfg.FastInterval),
		zap.Duration("slow_interval", p.cfg.SlowInterval))
}

// Stop cancels every timer, pending retry and in-flight request. No refresh starts after
// Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	s := p.sched
	p.mu.Unlock()

	if s == nil {
		return
	}
	s.Stop()
	p.logger.Info("price poller stopped")
}

// SetVisible records client visibility. Becoming visible triggers BecameVisible.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = visible
	p.mu.Unlock()

	if visible && !was {
		p.BecameVisible()
	}
}

// Visible reports the last recorded visibility.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// BecameVisible refreshes immediately unless the price was updated within the visible gate.
// Returns whether a refresh was triggered.
func (p *Poller) BecameVisible() bool {
	return p.trigger("visible", p.cfg.VisibleGate)
}

// Online refreshes immediately after connectivity returns unless the price was updated within
// the online gate. Returns whether a refresh was triggered.
func (p *Poller) Online() bool {
	return p.trigger("online", p.cfg.OnlineGate)
}

// RefreshNow performs a synchronous refresh on demand. Failed attempts are retried in the
// background like scheduled ones.
func (p *Poller) RefreshNow(ctx context.Context) (domain.PriceSample, error) {
	s := p.scheduler()
	if s == nil {
		return domain.PriceSample{}, ErrNotRunning
	}
	return p.oracle.RefreshWithRetry(ctx, s, 0)
}

func (p *Poller) trigger(reason string, gate time.Duration) bool {
	s := p.scheduler()
	if s == nil {
		return false
	}

	if p.updatedWithin(context.Background(), gate) {
		p.logger.Debug("price refresh suppressed", zap.String("reason", reason))
		return false
	}

	s.Go(func(ctx context.Context) {
		p.refresh(ctx, s, reason)
	})
	return true
}

func (p *Poller) scheduler() *schedule.Scheduler {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sched == nil || p.sched.Stopped() {
		return nil
	}
	return p.sched
}

func (p *Poller) updatedWithin(ctx context.Context, d time.Duration) bool {
	last, ok := p.oracle.LastUpdate(ctx)
	return ok && p.now().Sub(last) < d
}

func (p *Poller) refresh(ctx context.Context, s *schedule.Scheduler, reason string) {
	sample, err := p.oracle.RefreshWithRetry(ctx, s, 0)
	switch {
	case err == nil:
		p.logger.Debug("price refreshed",
			zap.String("reason", reason),
			zap.String("source", sample.Source),
			zap.String("price", sample.Value.String()))
	case errors.Is(err, domain.ErrRefreshInFlight), errors.Is(err, context.Canceled):
		p.logger.Debug("price refresh skipped", zap.String("reason", reason), zap.Error(err))
	default:
		p.logger.Warn("price refresh failed", zap.String("reason", reason), zap.Error(err))
	}
}
