package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/coincraze/internal/domain"
	"github.com/vadiminshakov/coincraze/pkg/schedule"
	"go.uber.org/zap"
)

type fakeOracle struct {
	calls atomic.Int32

	mu         sync.Mutex
	lastUpdate time.Time
	hasUpdate  bool
	// touch makes every refresh bump lastUpdate to now
	touch bool
}

func (f *fakeOracle) RefreshWithRetry(ctx context.Context, _ *schedule.Scheduler, _ int) (domain.PriceSample, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touch {
		f.lastUpdate = time.Now()
		f.hasUpdate = true
	}
	return domain.PriceSample{Source: "fake", ObservedAt: time.Now()}, nil
}

func (f *fakeOracle) LastUpdate(context.Context) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdate, f.hasUpdate
}

func (f *fakeOracle) setLastUpdate(t time.Time) {
	f.mu.Lock()
	f.lastUpdate = t
	f.hasUpdate = true
	f.mu.Unlock()
}

func hour() Config {
	return Config{FastInterval: time.Hour, SlowInterval: time.Hour, VisibleGate: 5 * time.Second, OnlineGate: 5 * time.Second}
}

func TestPoller_StartRunsInitialRefresh(t *testing.T) {
	o := &fakeOracle{}
	p := NewPoller(zap.NewNop(), hour(), o)

	p.Start(context.Background())
	defer p.Stop()
	p.Start(context.Background())

	require.Eventually(t, func() bool { return o.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), o.calls.Load(), "second Start is a no-op")
}

func TestPoller_FastCadenceOnlyWhileVisible(t *testing.T) {
	o := &fakeOracle{}
	cfg := hour()
	cfg.FastInterval = 5 * time.Millisecond
	p := NewPoller(zap.NewNop(), cfg, o)

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return o.calls.Load() >= 4 }, time.Second, time.Millisecond)

	p.SetVisible(false)
	time.Sleep(10 * time.Millisecond)
	hidden := o.calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, hidden, o.calls.Load(), "fast cadence must pause while hidden")
}

func TestPoller_SlowCadenceSkipsRecentUpdate(t *testing.T) {
	o := &fakeOracle{touch: true}
	cfg := hour()
	cfg.SlowInterval = 30 * time.Millisecond
	p := NewPoller(zap.NewNop(), cfg, o)
	p.SetVisible(false)

	p.Start(context.Background())
	defer p.Stop()

	// the initial refresh touches lastUpdate, so the first slow ticks are skipped
	require.Eventually(t, func() bool { return o.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), o.calls.Load())

	require.Eventually(t, func() bool { return o.calls.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestPoller_SignalsAreGated(t *testing.T) {
	o := &fakeOracle{}
	p := NewPoller(zap.NewNop(), hour(), o)

	assert.False(t, p.Online(), "no trigger before Start")

	p.Start(context.Background())
	defer p.Stop()
	require.Eventually(t, func() bool { return o.calls.Load() == 1 }, time.Second, time.Millisecond)

	o.setLastUpdate(time.Now())
	assert.False(t, p.BecameVisible())
	assert.False(t, p.Online())

	o.setLastUpdate(time.Now().Add(-6 * time.Second))
	assert.True(t, p.BecameVisible())
	require.Eventually(t, func() bool { return o.calls.Load() == 2 }, time.Second, time.Millisecond)

	assert.True(t, p.Online())
	require.Eventually(t, func() bool { return o.calls.Load() == 3 }, time.Second, time.Millisecond)
}

func TestPoller_SetVisibleTriggersOnTransition(t *testing.T) {
	o := &fakeOracle{}
	p := NewPoller(zap.NewNop(), hour(), o)
	p.Start(context.Background())
	defer p.Stop()
	require.Eventually(t, func() bool { return o.calls.Load() == 1 }, time.Second, time.Millisecond)

	p.SetVisible(true) // already visible
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), o.calls.Load())

	p.SetVisible(false)
	p.SetVisible(true)
	require.Eventually(t, func() bool { return o.calls.Load() == 2 }, time.Second, time.Millisecond)
	assert.True(t, p.Visible())
}

func TestPoller_NothingFiresAfterStop(t *testing.T) {
	o := &fakeOracle{}
	cfg := hour()
	cfg.FastInterval = 2 * time.Millisecond
	cfg.SlowInterval = 3 * time.Millisecond
	p := NewPoller(zap.NewNop(), cfg, o)

	p.Start(context.Background())
	require.Eventually(t, func() bool { return o.calls.Load() >= 3 }, time.Second, time.Millisecond)
	p.Stop()

	stopped := o.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, o.calls.Load())

	assert.False(t, p.Online())
	assert.False(t, p.BecameVisible())
	_, err := p.RefreshNow(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPoller_RefreshNow(t *testing.T) {
	o := &fakeOracle{}
	p := NewPoller(zap.NewNop(), hour(), o)

	_, err := p.RefreshNow(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	p.Start(context.Background())
	defer p.Stop()

	sample, err := p.RefreshNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake", sample.Source)
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(nil, Config{}, &fakeOracle{})
	assert.Equal(t, 10*time.Second, p.cfg.FastInterval)
	assert.Equal(t, 30*time.Second, p.cfg.SlowInterval)
	assert.Equal(t, 5*time.Second, p.cfg.VisibleGate)
	assert.Equal(t, 5*time.Second, p.cfg.OnlineGate)
}
