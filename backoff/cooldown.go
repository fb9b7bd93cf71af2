package backoff

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Cooldown default tuning. The cap is a property of the chosen store's
// quota window, not of the algorithm, so it is configurable.
const (
	DefaultCooldownInitial = 1500 * time.Millisecond
	DefaultCooldownFactor  = 1.6
	DefaultCooldownJitter  = 0.35
	DefaultCooldownMax     = 2 * time.Minute
)

// Cooldown tracks a global "stop hammering the store" window driven by
// rate-limit strikes. Each strike grows a base delay geometrically
// (base = min(max(base, Initial) * Factor, Max)), adds proportional jitter,
// and extends the cooldown deadline. The base never shrinks between strikes,
// so repeated throttling produces a non-decreasing cooldown up to the cap.
//
// Safe for concurrent use.
type Cooldown struct {
	Initial time.Duration // floor applied before the first multiplication
	Factor  float64       // growth per strike
	Jitter  float64       // jitter fraction of base, uniform in [0, Jitter*base]
	Max     time.Duration // hard cap for base and for each applied cooldown

	mu      sync.Mutex
	base    time.Duration
	until   time.Time
	strikes int

	now  func() time.Time
	rand func() float64
}

// NewCooldown creates a Cooldown with the default growth curve and the
// given cap. A non-positive cap falls back to DefaultCooldownMax.
func NewCooldown(maxCooldown time.Duration) *Cooldown {
	if maxCooldown <= 0 {
		maxCooldown = DefaultCooldownMax
	}
	return &Cooldown{
		Initial: DefaultCooldownInitial,
		Factor:  DefaultCooldownFactor,
		Jitter:  DefaultCooldownJitter,
		Max:     maxCooldown,
		now:     time.Now,
		rand:    rand.Float64,
	}
}

// Strike records one rate-limit hit, advances the base delay, and extends
// the cooldown deadline. It returns the cooldown applied for this strike.
func (c *Cooldown) Strike() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := c.base
	if base < c.Initial {
		base = c.Initial
	}
	base = time.Duration(float64(base) * c.Factor)
	if base > c.Max {
		base = c.Max
	}
	c.base = base
	c.strikes++

	jitter := time.Duration(c.rand() * c.Jitter * float64(base))
	d := base + jitter
	if d > c.Max {
		d = c.Max
	}

	deadline := c.now().Add(d)
	if deadline.After(c.until) {
		c.until = deadline
	}
	return d
}

// Active reports whether the cooldown window is currently open.
func (c *Cooldown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Before(c.until)
}

// Remaining returns how long until the cooldown window closes, or zero.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.until.Sub(c.now()); r > 0 {
		return r
	}
	return 0
}

// Strikes returns the number of strikes recorded since the last Reset.
func (c *Cooldown) Strikes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strikes
}

// Base returns the current (jitterless) base delay.
func (c *Cooldown) Base() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base
}

// Reset clears the strike count, base delay, and deadline.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = 0
	c.until = time.Time{}
	c.strikes = 0
}

// SetClock overrides the time source. Test helper.
func (c *Cooldown) SetClock(now func() time.Time) { c.now = now }

// SetRand overrides the jitter source. Test helper.
func (c *Cooldown) SetRand(r func() float64) { c.rand = r }
