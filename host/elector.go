package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/primacy/candidate"
	"github.com/xraph/primacy/control"
	"github.com/xraph/primacy/notify"
)

// ElectorOption configures an Elector.
type ElectorOption func(*Elector)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ElectorOption {
	return func(e *Elector) { e.logger = l }
}

// WithNotifier sets the event notifier.
func WithNotifier(n *notify.Notifier) ElectorOption {
	return func(e *Elector) { e.notifier = n }
}

// WithTimings overrides the timing profile.
func WithTimings(t Timings) ElectorOption {
	return func(e *Elector) { e.timings = t }
}

// WithClock overrides the time source. Test helper.
func WithClock(now func() time.Time) ElectorOption {
	return func(e *Elector) { e.now = now }
}

// Elector runs the try-acquire / release / heartbeat side of the state
// machine for one candidate process. One Elector per process; no
// package-level state.
type Elector struct {
	table    *control.Table
	self     *candidate.Record
	notifier *notify.Notifier
	logger   *slog.Logger
	timings  Timings
	now      func() time.Time

	mu          sync.Mutex
	active      bool
	phase       Phase
	lastCleanup time.Time
}

// NewElector creates an Elector for the given self record.
func NewElector(table *control.Table, self *candidate.Record, opts ...ElectorOption) *Elector {
	e := &Elector{
		table:    table,
		self:     self,
		notifier: notify.New(nil),
		logger:   slog.Default(),
		timings:  DefaultTimings(),
		now:      time.Now,
		phase:    PhaseNotTrying,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Identity returns this process's identity.
func (e *Elector) Identity() candidate.Identity { return e.self.Identity }

// Self returns this process's candidate record.
func (e *Elector) Self() *candidate.Record { return e.self }

// IsActive reports whether this process currently holds the host role.
func (e *Elector) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Phase returns the current election phase.
func (e *Elector) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Timings returns the elector's timing profile.
func (e *Elector) Timings() Timings { return e.timings }

// TryAcquire attempts to become the host, or to hold a queue position.
// Idempotent: calling it again while queued under a live host refreshes
// the queue row and reports the same position. force is the operator
// override that overwrites a live holder.
//
// Two candidates can observe a dead host concurrently and both claim the
// row; the last write wins and the loser converges on its next poll. That
// window is bounded and accepted (the store has no compare-and-swap).
func (e *Elector) TryAcquire(ctx context.Context, force bool) (*AcquireResult, error) {
	e.setPhase(PhaseTrying)

	if err := e.table.Ensure(ctx); err != nil {
		return nil, err
	}
	st, err := e.table.State(ctx, force)
	if err != nil {
		return nil, err
	}
	now := e.now()

	// Already holding a queue row. Stay put while the holder is alive:
	// refresh our status and heartbeat and report the position. When the
	// holder is dead or the row is vacant we fall through and compete.
	if mine := st.FindQueueMachine(e.self.Identity); mine != nil {
		hostAlive := st.Host != nil && !st.Host.OfflineAfter(now, e.timings.HostDeadTimeout)
		if hostAlive && !force {
			if err := e.table.RefreshQueueEntry(ctx, mine.Row, candidate.StatusWaiting, mine.QueuePosition, now); err != nil {
				e.logger.Debug("queue row refresh failed", "error", err)
			}
			e.setPhase(PhaseQueued)
			return &AcquireResult{
				Success:       true,
				Kind:          KindAlreadyQueued,
				Message:       fmt.Sprintf("already queued at position %d", mine.QueuePosition),
				CurrentHost:   st.Host.Identity,
				QueuePosition: mine.QueuePosition,
			}, nil
		}
	}

	// Best-effort cleanup. The dead-host check always runs (takeover
	// latency depends on it); the heavy queue scrub is throttled.
	if e.cleanup(ctx, st, force) || force {
		if st, err = e.table.State(ctx, true); err != nil {
			return nil, err
		}
	}

	if st.Host == nil {
		return e.becomeHost(ctx, st, false)
	}

	if st.Host.Identity.SameMachine(e.self.Identity) {
		return e.recoverSession(ctx, st)
	}

	if force {
		return e.becomeHost(ctx, st, true)
	}

	return e.joinQueue(ctx, st)
}

// Release gives up the host role cleanly. Nobody is promoted here: the
// next queued candidate discovers the vacancy on its own poll.
func (e *Elector) Release(ctx context.Context) (OpResult, error) {
	if !e.IsActive() {
		return OpResult{Success: false, Message: "not the current host"}, nil
	}

	// The local active flag can be stale after a forced eviction. Re-read
	// the row so a shutdown never blanks another machine's claim.
	if st, err := e.table.State(ctx, true); err == nil {
		if st.Host != nil && !st.Host.Identity.SameMachine(e.self.Identity) {
			e.logger.Warn("release skipped, host row held by another candidate",
				"holder", st.Host.Identity)
			e.deactivate(PhaseLostOnTakeover)
			return OpResult{Success: false,
				Message: fmt.Sprintf("host role held by %s", st.Host.Identity)}, nil
		}
	} else {
		e.logger.Warn("ownership check before release failed, clearing anyway", "error", err)
	}

	if err := e.table.ClearHost(ctx); err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: release: %w", err)
	}
	e.deactivate(PhaseReleased)
	e.logger.Info("host released", "identity", e.self.Identity)
	e.table.AppendConsole(ctx, notify.EventReleased, e.self, "clean shutdown")
	e.notifier.Notify(notify.EventReleased,
		fmt.Sprintf("Host released by %s; next in queue takes over via poll", e.self.Identity))
	return OpResult{Success: true, Message: "host released"}, nil
}

// Heartbeat refreshes the host row's heartbeat cell. Only valid while
// active.
func (e *Elector) Heartbeat(ctx context.Context) error {
	if !e.IsActive() {
		return ErrNotHost
	}
	now := e.now()
	if err := e.table.Heartbeat(ctx, now); err != nil {
		return fmt.Errorf("primacy/host: heartbeat: %w", err)
	}
	e.self.LastHeartbeat = now
	return nil
}

// Snapshot returns the holder and queue with computed liveness flags.
func (e *Elector) Snapshot(ctx context.Context) (*Snapshot, error) {
	st, err := e.table.State(ctx, false)
	if err != nil {
		return nil, err
	}
	now := e.now()
	snap := &Snapshot{Self: e.self.Identity}
	if st.Host != nil {
		snap.Host = st.Host.Clone()
		snap.IsSelfHost = st.Host.Identity.SameMachine(e.self.Identity)
	}
	for _, en := range st.Queue {
		item := SnapshotEntry{Record: en.Record}
		if en.OfflineAfter(now, e.timings.OfflineTimeout) {
			item.Offline = true
			item.Status = candidate.StatusOffline
		}
		snap.Queue = append(snap.Queue, item)
	}
	return snap, nil
}

// ── internals ──────────────────────────────────────────────────────

func (e *Elector) becomeHost(ctx context.Context, st *control.State, forced bool) (*AcquireResult, error) {
	now := e.now()
	rec := e.self.Clone()
	rec.Status = candidate.StatusHost
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.LastHeartbeat = now
	rec.TransferAt = time.Time{}
	rec.TransferTo = ""
	rec.QueuePosition = 0

	if err := e.table.WriteHost(ctx, rec); err != nil {
		return nil, fmt.Errorf("primacy/host: become host: %w", err)
	}

	// A queued candidate promoting itself vacates its queue row, otherwise
	// the machine would hold two rows.
	if mine := st.FindQueueMachine(e.self.Identity); mine != nil {
		if err := e.table.DeleteRow(ctx, mine.Row); err != nil {
			e.logger.Warn("could not vacate own queue row", "row", mine.Row, "error", err)
		} else if err := e.table.Renumber(ctx); err != nil {
			e.logger.Warn("renumber after self-promotion failed", "error", err)
		}
	}

	e.mu.Lock()
	e.active = true
	e.phase = PhaseActive
	e.mu.Unlock()
	e.self.LastHeartbeat = now
	e.self.StartedAt = rec.StartedAt

	event := notify.EventAcquired
	kind := KindAcquired
	msg := "host acquired"
	if forced {
		event = notify.EventForced
		kind = KindForced
		msg = "host acquired by force"
	}
	e.logger.Info("host role acquired", "identity", e.self.Identity, "forced", forced)
	e.table.AppendConsole(ctx, event, e.self, msg)
	e.notifier.Notify(event, fmt.Sprintf("New host: %s", e.self.Identity))

	return &AcquireResult{
		Success:     true,
		IsHost:      true,
		Kind:        kind,
		Message:     msg,
		CurrentHost: e.self.Identity,
	}, nil
}

func (e *Elector) recoverSession(ctx context.Context, st *control.State) (*AcquireResult, error) {
	e.mu.Lock()
	e.active = true
	e.phase = PhaseActive
	e.mu.Unlock()

	now := e.now()
	if err := e.table.Heartbeat(ctx, now); err != nil {
		e.logger.Warn("heartbeat during session recovery failed", "error", err)
	}
	if st.Host.Status != candidate.StatusHost {
		if err := e.table.SetStatusCell(ctx, control.HostRow, candidate.StatusHost); err != nil {
			e.logger.Debug("status refresh during recovery failed", "error", err)
		}
	}
	e.self.LastHeartbeat = now

	e.logger.Info("host session recovered", "identity", e.self.Identity, "previous", st.Host.Identity)
	e.table.AppendConsole(ctx, notify.EventRecovered, e.self, "session recovered after restart")
	e.notifier.Notify(notify.EventRecovered, fmt.Sprintf("Host session recovered: %s", e.self.Identity))

	return &AcquireResult{
		Success:     true,
		IsHost:      true,
		Kind:        KindRecovered,
		Message:     "session recovered",
		CurrentHost: e.self.Identity,
	}, nil
}

func (e *Elector) joinQueue(ctx context.Context, st *control.State) (*AcquireResult, error) {
	now := e.now()
	pos := len(st.Queue) + 1
	rec := e.self.Clone()
	rec.Status = candidate.StatusWaiting
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.LastHeartbeat = now
	rec.QueuePosition = pos

	if err := e.table.AppendQueue(ctx, rec); err != nil {
		return nil, fmt.Errorf("primacy/host: join queue: %w", err)
	}
	e.setPhase(PhaseQueued)

	e.logger.Info("joined standby queue", "identity", e.self.Identity, "position", pos)
	e.table.AppendConsole(ctx, notify.EventQueueJoin, e.self, fmt.Sprintf("position %d", pos))
	e.notifier.Notify(notify.EventQueueJoin,
		fmt.Sprintf("Candidate joined the queue: %s (position %d)", e.self.Identity, pos))

	return &AcquireResult{
		Success:       true,
		Kind:          KindQueued,
		Message:       fmt.Sprintf("queued at position %d", pos),
		CurrentHost:   st.Host.Identity,
		QueuePosition: pos,
	}, nil
}

// cleanup clears a dead holder and scrubs the queue. The host check always
// runs; the queue scrub is throttled to once per CleanupInterval unless
// forced. Returns whether anything changed.
func (e *Elector) cleanup(ctx context.Context, st *control.State, force bool) bool {
	now := e.now()
	changed := false

	if st.Host != nil && st.Host.OfflineAfter(now, e.timings.HostDeadTimeout) {
		age := st.Host.HeartbeatAge(now).Round(time.Second)
		e.logger.Info("clearing dead host row", "holder", st.Host.Identity, "heartbeat_age", age)
		if err := e.table.ClearHost(ctx); err != nil {
			e.logger.Warn("dead host cleanup failed", "error", err)
		} else {
			changed = true
			e.table.AppendConsole(ctx, notify.EventQueueCleanup, e.self,
				fmt.Sprintf("cleared dead host %s (%s without heartbeat)", st.Host.Identity, age))
		}
	}

	e.mu.Lock()
	throttled := !force && now.Sub(e.lastCleanup) < e.timings.CleanupInterval
	if !throttled {
		e.lastCleanup = now
	}
	e.mu.Unlock()
	if throttled {
		return changed
	}

	var toDelete []int
	seen := make(map[string]bool)
	for _, en := range st.Queue {
		mk := en.Identity.MachineID()
		if mk != "" && seen[mk] {
			// Restarts leave stale duplicates behind; one row per machine.
			toDelete = append(toDelete, en.Row)
			continue
		}
		seen[mk] = true

		if en.OfflineAfter(now, e.timings.OfflineTimeout) {
			toDelete = append(toDelete, en.Row)
			continue
		}
		if en.OfflineAfter(now, e.timings.HostDeadTimeout) &&
			en.Status != candidate.StatusOffline && en.Status != candidate.StatusHost {
			if err := e.table.SetStatusCell(ctx, en.Row, candidate.StatusOffline); err == nil {
				changed = true
			}
		}
	}

	// Reverse order keeps remaining row indices valid while deleting.
	sort.Sort(sort.Reverse(sort.IntSlice(toDelete)))
	deleted := 0
	for _, row := range toDelete {
		if err := e.table.DeleteRow(ctx, row); err != nil {
			e.logger.Warn("queue cleanup delete failed", "row", row, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		changed = true
		if err := e.table.Renumber(ctx); err != nil {
			e.logger.Warn("renumber after cleanup failed", "error", err)
		}
	}
	return changed
}

func (e *Elector) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Deactivate drops the active flag, recording why. Called by the owning
// coordinator when it observes the role held by someone else.
func (e *Elector) Deactivate(p Phase) { e.deactivate(p) }

// deactivate drops the active flag, recording why.
func (e *Elector) deactivate(p Phase) {
	e.mu.Lock()
	e.active = false
	e.phase = p
	e.mu.Unlock()
}
