package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/primacy/candidate"
	"github.com/xraph/primacy/control"
	"github.com/xraph/primacy/notify"
)

// Transfer schedules and executes voluntary handovers of the host role.
// A handover copies the target's queue record into the host row, vacates
// its queue row, and renumbers — the same idempotent full-row overwrite a
// takeover uses, so racing writers converge.
type Transfer struct {
	table    *control.Table
	elector  *Elector
	notifier *notify.Notifier
	logger   *slog.Logger
	sleep    func(time.Duration)
}

// NewTransfer creates the transfer scheduler bound to an elector.
func NewTransfer(table *control.Table, elector *Elector, notifier *notify.Notifier, logger *slog.Logger) *Transfer {
	if notifier == nil {
		notifier = notify.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfer{
		table:    table,
		elector:  elector,
		notifier: notifier,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// SetSleep overrides the inter-attempt pause. Test helper.
func (t *Transfer) SetSleep(fn func(time.Duration)) { t.sleep = fn }

// Schedule arms a handover after the given lead time. An empty target
// means "next viable in queue" at execution time; a named target must be
// in the queue now.
func (t *Transfer) Schedule(ctx context.Context, after time.Duration, target candidate.Identity) (OpResult, error) {
	if !t.elector.IsActive() {
		return OpResult{Message: "only the host can schedule a transfer"}, nil
	}
	if after < t.elector.Timings().MinScheduleLead {
		return OpResult{Message: fmt.Sprintf("minimum schedule lead is %s", t.elector.Timings().MinScheduleLead)}, nil
	}

	if !target.IsZero() {
		st, err := t.table.State(ctx, true)
		if err != nil {
			return OpResult{}, fmt.Errorf("primacy/host: schedule: %w", err)
		}
		entry := st.FindQueue(target)
		if entry == nil {
			return OpResult{Message: fmt.Sprintf("candidate not found in queue: %s", target)}, nil
		}
		if err := t.table.SetStatusCell(ctx, entry.Row, candidate.StatusTransferring); err != nil {
			t.logger.Debug("could not mark transfer target", "error", err)
		}
	}

	at := t.elector.now().Add(after)
	if err := t.table.SetTransfer(ctx, at, target); err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: schedule: %w", err)
	}

	dest := "next viable in queue"
	if !target.IsZero() {
		dest = string(target)
	}
	t.logger.Info("transfer scheduled", "at", at, "target", dest)
	t.table.AppendConsole(ctx, notify.EventTransferScheduled, t.elector.Self(),
		fmt.Sprintf("in %s to %s", after, dest))
	t.notifier.Notify(notify.EventTransferScheduled,
		fmt.Sprintf("Transfer scheduled in %s to %s", after.Round(time.Second), dest))

	return OpResult{Success: true, Message: fmt.Sprintf("transfer scheduled in %s", after.Round(time.Second))}, nil
}

// Cancel disarms a scheduled handover and restores any marked target.
func (t *Transfer) Cancel(ctx context.Context) (OpResult, error) {
	if !t.elector.IsActive() {
		return OpResult{Message: "only the host can cancel a transfer"}, nil
	}
	if err := t.table.ClearTransfer(ctx); err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: cancel: %w", err)
	}
	if st, err := t.table.State(ctx, true); err == nil {
		for _, en := range st.Queue {
			if en.Status == candidate.StatusTransferring {
				if err := t.table.SetStatusCell(ctx, en.Row, candidate.StatusWaiting); err != nil {
					t.logger.Debug("could not unmark transfer target", "error", err)
				}
			}
		}
	}

	t.logger.Info("transfer cancelled")
	t.table.AppendConsole(ctx, notify.EventTransferCancelled, t.elector.Self(), "cancelled by host")
	t.notifier.Notify(notify.EventTransferCancelled, "Scheduled transfer cancelled by the host")
	return OpResult{Success: true, Message: "transfer cancelled"}, nil
}

// Status reports the scheduled handover, if any. Ready flips once the
// schedule is due.
func (t *Transfer) Status(ctx context.Context) (TransferState, error) {
	st, err := t.table.State(ctx, false)
	if err != nil {
		return TransferState{}, fmt.Errorf("primacy/host: transfer status: %w", err)
	}
	if st.Host == nil || st.Host.TransferAt.IsZero() {
		return TransferState{}, nil
	}
	remaining := st.Host.TransferAt.Sub(t.elector.now())
	ts := TransferState{
		Scheduled: true,
		At:        st.Host.TransferAt,
		Target:    st.Host.TransferTo,
		Ready:     remaining <= 0,
	}
	if remaining > 0 {
		ts.Remaining = remaining
	}
	return ts, nil
}

// Execute runs a due handover, trying up to the configured attempt budget.
// A named target that went stale or missing degrades to next-viable mode
// for the remaining attempts. Exhaustion rolls the schedule back and keeps
// the current holder, so the system lands in a known-good state. Returns
// whether the role was handed over.
func (t *Transfer) Execute(ctx context.Context) (bool, error) {
	if !t.elector.IsActive() {
		return false, ErrNotHost
	}
	st, err := t.table.State(ctx, true)
	if err != nil {
		return false, fmt.Errorf("primacy/host: execute: %w", err)
	}
	if st.Host == nil || !st.Host.Identity.SameMachine(t.elector.Identity()) {
		// Someone else took the row from under us; nothing to hand over.
		t.elector.deactivate(PhaseLostOnTakeover)
		t.notifier.Notify(notify.EventHostLost,
			fmt.Sprintf("Host role lost before transfer could run: %s", t.elector.Identity()))
		return false, nil
	}

	target := st.Host.TransferTo
	attempts := t.elector.Timings().TransferAttempts
	offline := t.elector.Timings().OfflineTimeout

	for attempt := 1; attempt <= attempts; attempt++ {
		now := t.elector.now()
		var entry *control.QueueEntry

		if !target.IsZero() {
			entry = st.FindQueue(target)
			if entry == nil || entry.OfflineAfter(now, offline) {
				t.logger.Warn("named transfer target unavailable, falling back to next viable",
					"attempt", attempt, "target", target)
				target = ""
				if st, err = t.table.State(ctx, true); err != nil {
					return false, fmt.Errorf("primacy/host: execute: %w", err)
				}
				continue
			}
		} else {
			for i := range st.Queue {
				if !st.Queue[i].OfflineAfter(now, offline) {
					entry = &st.Queue[i]
					break
				}
				t.logger.Warn("skipping offline candidate",
					"attempt", attempt, "identity", st.Queue[i].Identity,
					"heartbeat_age", st.Queue[i].HeartbeatAge(now).Round(time.Second))
			}
		}

		if entry == nil {
			t.logger.Warn("no viable transfer candidate", "attempt", attempt)
			if attempt < attempts {
				t.sleep(t.elector.Timings().TransferRetryPause)
				if st, err = t.table.State(ctx, true); err != nil {
					return false, fmt.Errorf("primacy/host: execute: %w", err)
				}
			}
			continue
		}

		if err := t.promote(ctx, entry, "SCHEDULED", attempt); err != nil {
			t.logger.Error("transfer attempt failed", "attempt", attempt, "error", err)
			if attempt < attempts {
				t.sleep(t.elector.Timings().TransferRetryPause)
				if st, err = t.table.State(ctx, true); err != nil {
					return false, fmt.Errorf("primacy/host: execute: %w", err)
				}
			}
			continue
		}
		return true, nil
	}

	// Roll back: clear the schedule, keep holding.
	if err := t.table.ClearTransfer(ctx); err != nil {
		t.logger.Error("could not clear transfer fields after exhaustion", "error", err)
	}
	failedTarget := target
	if failedTarget.IsZero() {
		failedTarget = "AUTO"
	}
	t.table.AppendHistory(ctx, t.elector.Identity(), failedTarget, "SCHEDULED", false)
	t.logger.Error("transfer exhausted, keeping current host", "attempts", attempts)
	t.notifier.Notify(notify.EventTransferFailed,
		fmt.Sprintf("Transfer failed after %d attempts; %s keeps the host role", attempts, t.elector.Identity()))
	return false, nil
}

// Direct hands the role to a specific live candidate immediately, single
// attempt.
func (t *Transfer) Direct(ctx context.Context, target candidate.Identity) (OpResult, error) {
	if !t.elector.IsActive() {
		return OpResult{Message: "only the host can transfer"}, nil
	}
	st, err := t.table.State(ctx, true)
	if err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: transfer: %w", err)
	}
	entry := st.FindQueue(target)
	if entry == nil {
		return OpResult{Message: fmt.Sprintf("candidate not found in queue: %s", target)}, nil
	}
	now := t.elector.now()
	if entry.OfflineAfter(now, t.elector.Timings().OfflineTimeout) {
		age := entry.HeartbeatAge(now).Round(time.Second)
		return OpResult{Message: fmt.Sprintf("target is offline (%s without heartbeat)", age)}, nil
	}
	if err := t.promote(ctx, entry, "DIRECT", 1); err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: transfer: %w", err)
	}
	return OpResult{Success: true, Message: fmt.Sprintf("transferred to %s", target)}, nil
}

// promote copies the candidate into the host row (transfer fields
// cleared), vacates its queue row, renumbers, and drops our active flag.
func (t *Transfer) promote(ctx context.Context, entry *control.QueueEntry, reason string, attempt int) error {
	now := t.elector.now()
	rec := entry.Record.Clone()
	rec.Status = candidate.StatusHost
	rec.LastHeartbeat = now
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.TransferAt = time.Time{}
	rec.TransferTo = ""
	rec.QueuePosition = 0

	if err := t.table.WriteHost(ctx, rec); err != nil {
		return err
	}
	if err := t.table.DeleteRow(ctx, entry.Row); err != nil {
		t.logger.Warn("could not vacate promoted candidate's queue row", "row", entry.Row, "error", err)
	} else if err := t.table.Renumber(ctx); err != nil {
		t.logger.Warn("renumber after transfer failed", "error", err)
	}

	from := t.elector.Identity()
	t.table.AppendHistory(ctx, from, entry.Identity, reason, true)
	t.elector.deactivate(PhaseReleased)

	t.logger.Info("host role transferred",
		"from", from, "to", entry.Identity, "reason", reason, "attempt", attempt)
	t.table.AppendConsole(ctx, notify.EventTransferSuccess, t.elector.Self(),
		fmt.Sprintf("to %s (%s)", entry.Identity, reason))
	t.notifier.Notify(notify.EventTransferSuccess,
		fmt.Sprintf("Host transferred from %s to %s", from, entry.Identity))
	return nil
}
