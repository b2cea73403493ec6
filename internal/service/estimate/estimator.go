// Package estimate derives human-facing wait projections from queue
// rank. Everything here is display-only: neither the estimate nor the
// countdown ever drives a state transition.
package estimate

import (
	"sync"
	"time"
)

// Estimator maintains a rolling average of minutes spent per
// ahead-of-me queue slot and projects a wait time for a given rank.
type Estimator struct {
	mu         sync.RWMutex
	avgMinutes float64
	samples    int
}

// NewEstimator seeds the rolling average with an initial configured
// value so early estimates are not zero.
func NewEstimator(initialAvgMinutes float64) *Estimator {
	return &Estimator{avgMinutes: initialAvgMinutes}
}

// Observe folds an observed per-slot wait into the rolling average
// (exponentially weighted so stale history decays).
func (e *Estimator) Observe(minutesPerSlot float64) {
	if minutesPerSlot < 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples++
	const alpha = 0.2
	e.avgMinutes = e.avgMinutes*(1-alpha) + minutesPerSlot*alpha
}

// AverageMinutes returns the current per-slot average.
func (e *Estimator) AverageMinutes() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.avgMinutes
}

// EstimateMinutes projects the wait for a 1-based rank:
// (rank-1) x average minutes per driver ahead.
func (e *Estimator) EstimateMinutes(rank int) float64 {
	if rank <= 1 {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return float64(rank-1) * e.avgMinutes
}

// Countdown ticks a display-only remaining-wait value down at
// one-second granularity. It is reset whenever rank changes and is
// never consulted by the state machine.
type Countdown struct {
	mu        sync.Mutex
	remaining time.Duration
	tick      time.Duration
	onTick    func(remaining time.Duration)
	stop      chan struct{}
	stopped   bool
}

// NewCountdown creates a stopped countdown. onTick may be nil.
func NewCountdown(tick time.Duration, onTick func(remaining time.Duration)) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	return &Countdown{
		tick:   tick,
		onTick: onTick,
		stop:   make(chan struct{}),
	}
}

// Start begins ticking down from the countdown's current value.
func (c *Countdown) Start() {
	go c.run()
}

// Reset replaces the remaining duration, typically after a rank change.
func (c *Countdown) Reset(remaining time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining < 0 {
		remaining = 0
	}
	c.remaining = remaining
}

// Remaining returns the current display value.
func (c *Countdown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Stop halts the ticker. Safe to call more than once.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
}

func (c *Countdown) run() {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			prev := c.remaining
			if c.remaining > 0 {
				c.remaining -= c.tick
				if c.remaining < 0 {
					c.remaining = 0
				}
			}
			remaining := c.remaining
			onTick := c.onTick
			c.mu.Unlock()

			// An idle countdown publishes nothing.
			if onTick != nil && remaining != prev {
				onTick(remaining)
			}
		}
	}
}
