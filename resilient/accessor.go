// Package resilient wraps a tabular.Store with the survival layer the
// coordinator needs against quota-limited stores: a TTL read cache keyed by
// logical name, bounded retries with backoff, and a global cooldown window
// opened by rate-limit errors. During cooldown, reads are served from cache
// (stale on purpose) instead of hammering the store.
package resilient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/primacy/backoff"
	"github.com/xraph/primacy/tabular"
)

// Defaults for the accessor's quota-survival knobs.
const (
	DefaultCacheTTL    = 30 * time.Second
	DefaultRetryBudget = 3
)

// Option configures an Accessor.
type Option func(*Accessor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accessor) { a.logger = l }
}

// WithCacheTTL sets how long cached reads stay fresh.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Accessor) { a.ttl = ttl }
}

// WithRetryBudget sets the number of attempts per store call.
func WithRetryBudget(n int) Option {
	return func(a *Accessor) { a.retries = n }
}

// WithRetryStrategy sets the delay strategy between non-quota retries.
func WithRetryStrategy(s backoff.Strategy) Option {
	return func(a *Accessor) { a.retryDelay = s }
}

// WithCooldown sets the shared quota cooldown tracker.
func WithCooldown(c *backoff.Cooldown) Option {
	return func(a *Accessor) { a.cooldown = c }
}

// WithClock overrides the time source. Test helper.
func WithClock(now func() time.Time) Option {
	return func(a *Accessor) { a.now = now }
}

// WithSleep overrides the sleep function. Test helper.
func WithSleep(sleep func(time.Duration)) Option {
	return func(a *Accessor) { a.sleep = sleep }
}

type cacheEntry struct {
	rows    [][]string
	fetched time.Time
}

// Accessor is the resilient front door to a tabular.Store. All coordinator
// reads and writes go through it so that caching, invalidation, cooldown,
// and retry policy live in exactly one place.
type Accessor struct {
	store      tabular.Store
	logger     *slog.Logger
	ttl        time.Duration
	retries    int
	retryDelay backoff.Strategy
	cooldown   *backoff.Cooldown
	now        func() time.Time
	sleep      func(time.Duration)

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates an Accessor over the given store.
func New(store tabular.Store, opts ...Option) *Accessor {
	a := &Accessor{
		store:      store,
		logger:     slog.Default(),
		ttl:        DefaultCacheTTL,
		retries:    DefaultRetryBudget,
		retryDelay: backoff.DefaultRetry(),
		cooldown:   backoff.NewCooldown(backoff.DefaultCooldownMax),
		now:        time.Now,
		sleep:      time.Sleep,
		cache:      make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cooldown exposes the quota cooldown tracker (shared with callers that
// want to report throttling state).
func (a *Accessor) Cooldown() *backoff.Cooldown { return a.cooldown }

// Read returns the rows for the named logical range. Fresh cache hits are
// served without a store call; force bypasses freshness. While the quota
// cooldown window is open, any cached value — fresh or stale — is served
// even for forced reads, because stale data beats a hard 429 loop.
func (a *Accessor) Read(ctx context.Context, name, sheet, a1 string, force bool) ([][]string, error) {
	now := a.now()

	if cached, ok := a.cached(name); ok {
		if a.cooldown.Active() {
			return cached.rows, nil
		}
		if !force && now.Sub(cached.fetched) <= a.ttl {
			return cached.rows, nil
		}
	} else if a.cooldown.Active() {
		// No cache to serve; fall through and let the retry loop decide.
		a.logger.Debug("cooldown active with cold cache, reading anyway", "name", name)
	}

	var lastErr error
	for attempt := 1; attempt <= a.retries; attempt++ {
		rows, err := a.store.ReadRange(ctx, sheet, a1)
		if err == nil {
			a.put(name, rows)
			a.settle()
			return rows, nil
		}
		lastErr = err

		if tabular.IsQuota(err) {
			d := a.cooldown.Strike()
			a.logger.Warn("store quota hit, cooling down",
				"name", name, "cooldown", d, "strikes", a.cooldown.Strikes())
			if cached, ok := a.cached(name); ok {
				return cached.rows, nil
			}
			a.pause(ctx, time.Duration(attempt)*time.Second, 2500*time.Millisecond)
			continue
		}

		a.logger.Warn("store read failed, retrying",
			"name", name, "attempt", attempt, "error", err)
		if attempt < a.retries {
			a.pause(ctx, a.retryDelay.Delay(attempt), 0)
		}
	}
	return nil, fmt.Errorf("primacy/resilient: read %s after %d attempts: %w", name, a.retries, lastErr)
}

// Invalidate drops the named cache entries, or the whole cache when called
// without arguments. Every write that changes data a cached read represents
// must invalidate it.
func (a *Accessor) Invalidate(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(names) == 0 {
		clear(a.cache)
		return
	}
	for _, n := range names {
		delete(a.cache, n)
	}
}

// WriteRange writes through to the store with retry.
func (a *Accessor) WriteRange(ctx context.Context, sheet, a1 string, values [][]string) error {
	return a.do(ctx, "write "+sheet+"!"+a1, func() error {
		return a.store.WriteRange(ctx, sheet, a1, values)
	})
}

// AppendRow appends through to the store with retry.
func (a *Accessor) AppendRow(ctx context.Context, sheet string, row []string) error {
	return a.do(ctx, "append "+sheet, func() error {
		return a.store.AppendRow(ctx, sheet, row)
	})
}

// DeleteRow deletes through to the store with retry.
func (a *Accessor) DeleteRow(ctx context.Context, sheet string, row int) error {
	return a.do(ctx, fmt.Sprintf("delete %s row %d", sheet, row), func() error {
		return a.store.DeleteRow(ctx, sheet, row)
	})
}

// BatchUpdate applies batched writes through to the store with retry.
func (a *Accessor) BatchUpdate(ctx context.Context, sheet string, updates []tabular.RangeUpdate) error {
	return a.do(ctx, "batch "+sheet, func() error {
		return a.store.BatchUpdate(ctx, sheet, updates)
	})
}

// EnsureSheet passes through to the store with retry.
func (a *Accessor) EnsureSheet(ctx context.Context, sheet string, headers []string) error {
	return a.do(ctx, "ensure "+sheet, func() error {
		return a.store.EnsureSheet(ctx, sheet, headers)
	})
}

// do runs one mutating store call under the retry budget. Quota errors
// strike the cooldown; writes have no cache to fall back on, so after the
// budget the error surfaces.
func (a *Accessor) do(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= a.retries; attempt++ {
		err := fn()
		if err == nil {
			a.settle()
			return nil
		}
		lastErr = err

		if tabular.IsQuota(err) {
			d := a.cooldown.Strike()
			a.logger.Warn("store quota hit on write, cooling down", "op", op, "cooldown", d)
			a.pause(ctx, time.Duration(attempt)*time.Second, 2500*time.Millisecond)
			continue
		}
		a.logger.Warn("store write failed, retrying", "op", op, "attempt", attempt, "error", err)
		if attempt < a.retries {
			a.pause(ctx, a.retryDelay.Delay(attempt), 0)
		}
	}
	return fmt.Errorf("primacy/resilient: %s after %d attempts: %w", op, a.retries, lastErr)
}

// settle resets the quota strike count once a store call succeeds outside
// the cooldown window, so the next throttling episode starts from the
// initial base instead of the previous peak.
func (a *Accessor) settle() {
	if a.cooldown.Strikes() > 0 && !a.cooldown.Active() {
		a.cooldown.Reset()
	}
}

// pause sleeps for d (capped when maxPause > 0) unless the context is done.
func (a *Accessor) pause(ctx context.Context, d, maxPause time.Duration) {
	if maxPause > 0 && d > maxPause {
		d = maxPause
	}
	if ctx.Err() != nil || d <= 0 {
		return
	}
	a.sleep(d)
}

func (a *Accessor) cached(name string) (cacheEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[name]
	return e, ok
}

func (a *Accessor) put(name string, rows [][]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[name] = cacheEntry{rows: rows, fetched: a.now()}
}
