// Package progress sends periodic "still working" updates for long jobs and
// owns the timers behind them.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
)

// NotifyFunc is called on every tick with the 1-based tick number
type NotifyFunc func(tick int)

// Config holds registry configuration
type Config struct {
	// MaxTimersPerUser is the sweep backstop; Start alone never exceeds one.
	MaxTimersPerUser int
}

type timer struct {
	id      uint64
	userID  string
	ticker  Ticker
	done    chan struct{}
	once    sync.Once
	started time.Time
}

func (t *timer) stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}

func (t *timer) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Registry keeps live progress timers keyed by user
type Registry struct {
	mu         sync.Mutex
	timers     map[string][]*timer
	nextID     uint64
	clock      Clock
	logger     *slog.Logger
	maxPerUser int
	wg         sync.WaitGroup
}

// NewRegistry creates a Registry. A nil clock means the system clock.
func NewRegistry(cfg Config, clock Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	maxPerUser := cfg.MaxTimersPerUser
	if maxPerUser <= 0 {
		maxPerUser = 1
	}
	return &Registry{
		timers:     make(map[string][]*timer),
		clock:      clock,
		logger:     logger,
		maxPerUser: maxPerUser,
	}
}

// Start begins calling notify every interval, at most maxTicks times
// (maxTicks <= 0 means until stopped). A live timer for the same user is
// stopped and replaced.
func (r *Registry) Start(userID string, notify NotifyFunc, interval time.Duration, maxTicks int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if live := r.timers[userID]; len(live) > 0 {
		replaced := 0
		for _, t := range live {
			if t.stop() {
				replaced++
			}
		}
		if replaced > 0 {
			r.logger.Warn("Progress timer already running, replacing",
				slog.String("user_id", userID),
				slog.Int("replaced", replaced),
			)
		}
	}

	r.nextID++
	t := &timer{
		id:      r.nextID,
		userID:  userID,
		ticker:  r.clock.NewTicker(interval),
		done:    make(chan struct{}),
		started: r.clock.Now(),
	}
	r.timers[userID] = []*timer{t}

	r.wg.Add(1)
	go r.run(t, notify, maxTicks)
}

func (r *Registry) run(t *timer, notify NotifyFunc, maxTicks int) {
	defer r.wg.Done()

	tick := 0
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C():
		}

		// stop may race with a ready tick
		if t.finished() {
			return
		}

		tick++
		notify(tick)

		if maxTicks > 0 && tick >= maxTicks {
			t.stop()
			return
		}
	}
}

// Stop clears every timer held for userID and reports how many were still live
func (r *Registry) Stop(userID string) int {
	r.mu.Lock()
	live := r.timers[userID]
	delete(r.timers, userID)
	r.mu.Unlock()

	stopped := 0
	for _, t := range live {
		if t.stop() {
			stopped++
		}
	}
	return stopped
}

// Active returns the number of live timers for userID
func (r *Registry) Active(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, t := range r.timers[userID] {
		if !t.finished() {
			n++
		}
	}
	return n
}

// Sweep drops finished timers and trims users above the per-user cap,
// oldest first. It returns the number of live timers it had to stop.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	trimmed := 0
	for userID, timers := range r.timers {
		live := timers[:0]
		for _, t := range timers {
			if !t.finished() {
				live = append(live, t)
			}
		}

		if excess := len(live) - r.maxPerUser; excess > 0 {
			for _, t := range live[:excess] {
				t.stop()
			}
			live = live[excess:]
			trimmed += excess

			r.logger.Warn("Progress timer cap exceeded, trimming",
				slog.String("user_id", userID),
				slog.Int("trimmed", excess),
				slog.Any("error", domain.ErrTimerLeak),
			)
		}

		if len(live) == 0 {
			delete(r.timers, userID)
			continue
		}
		r.timers[userID] = live
	}

	return trimmed
}

// RunSweeper calls Sweep every interval until ctx is cancelled
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Progress sweeper started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Progress sweeper stopped")
			return
		case <-ticker.C():
			r.Sweep()
		}
	}
}

// Close stops every timer and waits for their goroutines
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.timers
	r.timers = make(map[string][]*timer)
	r.mu.Unlock()

	for _, timers := range all {
		for _, t := range timers {
			t.stop()
		}
	}
	r.wg.Wait()
}
