package market

import (
	"sync"
	"time"
)

// Cooldown tracks a site-wide block window. When the marketplace starts
// serving captchas or 429s, every user loop shares the penalty; repeated
// blocks escalate the window up to a cap.
type Cooldown struct {
	base time.Duration
	max  time.Duration

	mu      sync.Mutex
	until   time.Time
	strikes int
}

func NewCooldown(base, max time.Duration) *Cooldown {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max < base {
		max = 30 * time.Minute
	}
	return &Cooldown{base: base, max: max}
}

// Trip records a block and extends the window. Each consecutive strike
// doubles the penalty until max.
func (c *Cooldown) Trip(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.base << c.strikes
	if window > c.max || window <= 0 {
		window = c.max
	}
	c.strikes++
	c.until = now.Add(window)
	return c.until
}

// Clear resets the strike count after a successful request.
func (c *Cooldown) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strikes = 0
	c.until = time.Time{}
}

// Remaining reports how long the site is still cooling down, zero when
// requests may proceed.
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.until.IsZero() || !now.Before(c.until) {
		return 0
	}
	return c.until.Sub(now)
}
