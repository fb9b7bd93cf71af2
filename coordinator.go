package primacy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/primacy/backoff"
	"github.com/xraph/primacy/candidate"
	"github.com/xraph/primacy/control"
	"github.com/xraph/primacy/host"
	"github.com/xraph/primacy/notify"
	"github.com/xraph/primacy/resilient"
	"github.com/xraph/primacy/tabular"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithStore sets the tabular store backend. Required.
func WithStore(s tabular.Store) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator and every
// component under it.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithConfig replaces the whole timing profile.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) error {
		c.config = cfg
		return nil
	}
}

// WithNotifier sets the event delivery callback (chat message, webhook,
// log line — the coordinator does not care).
func WithNotifier(fn notify.Func) Option {
	return func(c *Coordinator) error {
		c.notifyFn = fn
		return nil
	}
}

// WithSelf overrides the self-describing candidate record. Without it the
// record is derived from the running process (hostname, user, PID, IP).
func WithSelf(rec *candidate.Record) Option {
	return func(c *Coordinator) error {
		c.self = rec
		return nil
	}
}

// WithClock overrides the time source everywhere. Test helper.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) error {
		c.now = now
		return nil
	}
}

// Coordinator is one candidate process's handle on the coordination state:
// it owns the self record, the resilient store accessor, the election
// state machine, queue administration, transfer scheduling, and the poll
// loop. Create one per process with New; there are no package-level
// singletons.
type Coordinator struct {
	config   Config
	logger   *slog.Logger
	store    tabular.Store
	notifyFn notify.Func
	self     *candidate.Record
	now      func() time.Time

	accessor *resilient.Accessor
	table    *control.Table
	notifier *notify.Notifier
	elector  *host.Elector
	queue    *host.Queue
	transfer *host.Transfer

	runMu   sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates a Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.store == nil {
		return nil, ErrNoStore
	}
	if c.self == nil {
		c.self = candidate.Self()
	}
	if c.self.StartedAt.IsZero() {
		c.self.StartedAt = c.now()
	}

	c.accessor = resilient.New(c.store,
		resilient.WithLogger(c.logger),
		resilient.WithCacheTTL(c.config.CacheTTL),
		resilient.WithRetryBudget(c.config.RetryBudget),
		resilient.WithCooldown(backoff.NewCooldown(c.config.MaxCooldown)),
		resilient.WithClock(c.now),
	)
	c.table = control.New(c.accessor,
		control.WithLogger(c.logger),
		control.WithEnsureTTL(c.config.EnsureTTL),
		control.WithClock(c.now),
	)
	c.notifier = notify.New(c.notifyFn,
		notify.WithLogger(c.logger),
		notify.WithTimeout(c.config.NotifyTimeout),
	)
	c.elector = host.NewElector(c.table, c.self,
		host.WithLogger(c.logger),
		host.WithNotifier(c.notifier),
		host.WithTimings(c.config.timings()),
		host.WithClock(c.now),
	)
	c.queue = host.NewQueue(c.table, c.elector, c.notifier, c.logger)
	c.transfer = host.NewTransfer(c.table, c.elector, c.notifier, c.logger)

	c.logger.Info("coordinator initialized", "identity", c.self.Identity)
	return c, nil
}

// Identity returns this process's identity.
func (c *Coordinator) Identity() candidate.Identity { return c.self.Identity }

// IsHost reports whether this process currently holds the active role.
func (c *Coordinator) IsHost() bool { return c.elector.IsActive() }

// Phase returns this process's position in the election state machine.
func (c *Coordinator) Phase() host.Phase { return c.elector.Phase() }

// Accessor exposes the resilient accessor, mainly for throttling state.
func (c *Coordinator) Accessor() *resilient.Accessor { return c.accessor }

// TryAcquire attempts to become the host or to hold a queue position.
func (c *Coordinator) TryAcquire(ctx context.Context, force bool) (*host.AcquireResult, error) {
	return c.elector.TryAcquire(ctx, force)
}

// Release gives up the host role cleanly. Nobody is auto-promoted.
func (c *Coordinator) Release(ctx context.Context) (host.OpResult, error) {
	return c.elector.Release(ctx)
}

// Heartbeat refreshes the host row's heartbeat cell. HOST-only.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	return c.elector.Heartbeat(ctx)
}

// StatusSnapshot returns the holder and queue with computed liveness.
func (c *Coordinator) StatusSnapshot(ctx context.Context) (*host.Snapshot, error) {
	return c.elector.Snapshot(ctx)
}

// MoveInQueue relocates a queued candidate. HOST-only.
func (c *Coordinator) MoveInQueue(ctx context.Context, id candidate.Identity, pos int) (host.OpResult, error) {
	return c.queue.Move(ctx, id, pos)
}

// RemoveFromQueue deletes a queued candidate's row. HOST-only.
func (c *Coordinator) RemoveFromQueue(ctx context.Context, id candidate.Identity) (host.OpResult, error) {
	return c.queue.Remove(ctx, id)
}

// CleanupDeadEntries scrubs offline queue rows. HOST-only.
func (c *Coordinator) CleanupDeadEntries(ctx context.Context) (host.CleanupResult, error) {
	return c.queue.CleanupDead(ctx)
}

// ScheduleTransfer arms a handover after the lead time; empty target means
// next viable in queue. HOST-only.
func (c *Coordinator) ScheduleTransfer(ctx context.Context, after time.Duration, target candidate.Identity) (host.OpResult, error) {
	return c.transfer.Schedule(ctx, after, target)
}

// CancelScheduledTransfer disarms a pending handover. HOST-only.
func (c *Coordinator) CancelScheduledTransfer(ctx context.Context) (host.OpResult, error) {
	return c.transfer.Cancel(ctx)
}

// GetTransferStatus reports the scheduled handover, if any.
func (c *Coordinator) GetTransferStatus(ctx context.Context) (host.TransferState, error) {
	return c.transfer.Status(ctx)
}

// TransferTo hands the role to a specific live candidate now. HOST-only.
func (c *Coordinator) TransferTo(ctx context.Context, target candidate.Identity) (host.OpResult, error) {
	return c.transfer.Direct(ctx, target)
}

// CheckAndTakeoverIfDead is the periodic coordination step. An active
// holder executes a due transfer, watches for a foreign holder
// (host-lost), and refreshes its heartbeat once per HeartbeatInterval.
// A non-holder re-runs acquisition; a fresh acquisition here is a
// takeover. Returns whether a takeover happened.
//
// Designed for a fixed poll interval; a failed cycle is logged and the
// next cycle carries on.
func (c *Coordinator) CheckAndTakeoverIfDead(ctx context.Context) (bool, error) {
	if c.elector.IsActive() {
		ts, err := c.transfer.Status(ctx)
		if err != nil {
			return false, err
		}
		if ts.Scheduled && ts.Ready {
			c.logger.Info("scheduled transfer is due, executing")
			handedOver, err := c.transfer.Execute(ctx)
			if err != nil {
				return false, err
			}
			if handedOver {
				return false, nil
			}
			c.logger.Warn("scheduled transfer failed, keeping host role")
		}

		// Host-lost detection: another identity on the host row means a
		// force-acquire or a takeover race went against us.
		st, err := c.table.State(ctx, false)
		if err != nil {
			return false, err
		}
		if st.Host != nil && !st.Host.Identity.SameMachine(c.self.Identity) {
			c.logger.Warn("host role lost to another candidate", "holder", st.Host.Identity)
			c.elector.Deactivate(host.PhaseLostOnTakeover)
			c.notifier.Notify(notify.EventHostLost,
				"Host role now held by "+string(st.Host.Identity))
			return false, nil
		}

		// Heartbeat on its own cadence rather than every poll tick: at the
		// default profile that is one write per minute, not one per twelve
		// seconds of write quota.
		if c.now().Sub(c.self.LastHeartbeat) < c.config.HeartbeatInterval {
			return false, nil
		}
		return false, c.elector.Heartbeat(ctx)
	}

	res, err := c.elector.TryAcquire(ctx, false)
	if err != nil {
		return false, err
	}
	if res.IsHost && res.Kind == host.KindAcquired {
		c.logger.Info("takeover: dead host replaced", "identity", c.self.Identity)
		c.notifier.Notify(notify.EventTakeover, "Automatic takeover, new host: "+string(c.self.Identity))
		return true, nil
	}
	return false, nil
}

// Notifier returns the coordinator's event notifier.
func (c *Coordinator) Notifier() *notify.Notifier { return c.notifier }
