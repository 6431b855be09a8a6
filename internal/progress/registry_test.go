package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/brandgen/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	c       chan time.Time
	period  time.Duration
	next    time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time, 1), period: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward and fires due tickers, one tick per period
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.tickers {
		if t.stopped.Load() {
			continue
		}
		for !t.next.After(c.now) {
			select {
			case t.c <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

func (c *fakeClock) liveTickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

type tickRecorder struct {
	mu    sync.Mutex
	ticks []int
}

func (r *tickRecorder) notify(tick int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, tick)
}

func (r *tickRecorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...)
}

func (r *tickRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func advanceUntil(t *testing.T, clock *fakeClock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		clock.Advance(step)
		return cond()
	}, time.Second, time.Millisecond)
}

func TestRegistry_TicksUntilMax(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(Config{}, clock, logger.NewNop())
	defer r.Close()

	rec := &tickRecorder{}
	r.Start("u1", rec.notify, 10*time.Second, 3)

	advanceUntil(t, clock, 10*time.Second, func() bool { return rec.count() == 3 })

	require.Eventually(t, func() bool { return r.Active("u1") == 0 }, time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 3, rec.count())
	assert.Equal(t, []int{1, 2, 3}, rec.snapshot())
}

func TestRegistry_StopClearsTimer(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(Config{}, clock, logger.NewNop())
	defer r.Close()

	rec := &tickRecorder{}
	r.Start("u1", rec.notify, 10*time.Second, 0)
	assert.Equal(t, 1, r.Active("u1"))

	assert.Equal(t, 1, r.Stop("u1"))
	assert.Equal(t, 0, r.Active("u1"))
	assert.Equal(t, 0, clock.liveTickers())

	clock.Advance(time.Minute)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestRegistry_StopIsIdempotent(t *testing.T) {
	r := NewRegistry(Config{}, newFakeClock(), logger.NewNop())
	defer r.Close()

	r.Start("u1", func(int) {}, time.Second, 0)
	assert.Equal(t, 1, r.Stop("u1"))
	assert.Equal(t, 0, r.Stop("u1"))
	assert.Equal(t, 0, r.Stop("never-started"))
}

func TestRegistry_StartTwiceReplaces(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(Config{}, clock, logger.NewNop())
	defer r.Close()

	first := &tickRecorder{}
	second := &tickRecorder{}

	r.Start("u1", first.notify, 10*time.Second, 0)
	r.Start("u1", second.notify, 10*time.Second, 0)

	assert.Equal(t, 1, r.Active("u1"))
	assert.Equal(t, 1, clock.liveTickers())

	advanceUntil(t, clock, 10*time.Second, func() bool { return second.count() >= 2 })
	assert.Equal(t, 0, first.count())
}

func TestRegistry_UsersAreIndependent(t *testing.T) {
	r := NewRegistry(Config{}, newFakeClock(), logger.NewNop())
	defer r.Close()

	r.Start("u1", func(int) {}, time.Second, 0)
	r.Start("u2", func(int) {}, time.Second, 0)

	r.Stop("u1")
	assert.Equal(t, 0, r.Active("u1"))
	assert.Equal(t, 1, r.Active("u2"))
}

func TestRegistry_SweepTrimsLeaks(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(Config{MaxTimersPerUser: 1}, clock, logger.NewNop())
	defer r.Close()

	// bypass Start's replacement to simulate leaked handles
	r.mu.Lock()
	for i := 0; i < 3; i++ {
		r.timers["u1"] = append(r.timers["u1"], &timer{
			userID: "u1",
			ticker: clock.NewTicker(time.Second),
			done:   make(chan struct{}),
		})
	}
	r.mu.Unlock()

	assert.Equal(t, 2, r.Sweep())
	assert.Equal(t, 1, r.Active("u1"))
	assert.Equal(t, 1, clock.liveTickers())
	assert.Equal(t, 0, r.Sweep())
}

func TestRegistry_SweepDropsFinished(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(Config{}, clock, logger.NewNop())
	defer r.Close()

	rec := &tickRecorder{}
	r.Start("u1", rec.notify, time.Second, 1)
	advanceUntil(t, clock, time.Second, func() bool { return r.Active("u1") == 0 })

	assert.Equal(t, 0, r.Sweep())

	r.mu.Lock()
	_, ok := r.timers["u1"]
	r.mu.Unlock()
	assert.False(t, ok)
}

func TestRegistry_RunSweeperStopsOnCancel(t *testing.T) {
	r := NewRegistry(Config{}, newFakeClock(), logger.NewNop())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunSweeper(ctx, time.Minute)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRegistry_SystemClock(t *testing.T) {
	r := NewRegistry(Config{}, nil, logger.NewNop())
	defer r.Close()

	var ticks atomic.Int32
	r.Start("u1", func(int) { ticks.Add(1) }, 5*time.Millisecond, 2)

	require.Eventually(t, func() bool { return ticks.Load() == 2 }, time.Second, time.Millisecond)
}
