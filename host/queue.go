package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xraph/primacy/candidate"
	"github.com/xraph/primacy/control"
	"github.com/xraph/primacy/notify"
)

// Queue administers the standby queue. Every operation is HOST-only and
// works against a forced re-read so the row indices it acts on are the
// freshest the store can give.
type Queue struct {
	table    *control.Table
	elector  *Elector
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewQueue creates the queue manager bound to an elector. The elector
// supplies the HOST-only guard, the clock, and the timing profile.
func NewQueue(table *control.Table, elector *Elector, notifier *notify.Notifier, logger *slog.Logger) *Queue {
	if notifier == nil {
		notifier = notify.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{table: table, elector: elector, notifier: notifier, logger: logger}
}

// Move relocates a candidate to a new 1-based queue position and rewrites
// all queue rows with contiguous positions in one batch.
func (q *Queue) Move(ctx context.Context, id candidate.Identity, newPos int) (OpResult, error) {
	if !q.elector.IsActive() {
		return OpResult{Message: "only the host can reorder the queue"}, nil
	}
	st, err := q.table.State(ctx, true)
	if err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: move: %w", err)
	}

	cur := -1
	for i := range st.Queue {
		if st.Queue[i].Identity == id {
			cur = i
			break
		}
	}
	if cur < 0 {
		return OpResult{Message: fmt.Sprintf("candidate not found in queue: %s", id)}, nil
	}
	if newPos < 1 || newPos > len(st.Queue) {
		return OpResult{Message: fmt.Sprintf("invalid position %d (queue has %d entries)", newPos, len(st.Queue))}, nil
	}
	if cur == newPos-1 {
		return OpResult{Success: true, Message: fmt.Sprintf("already at position %d", newPos)}, nil
	}

	recs := make([]candidate.Record, 0, len(st.Queue))
	for i := range st.Queue {
		recs = append(recs, st.Queue[i].Record)
	}
	moved := recs[cur]
	recs = append(recs[:cur], recs[cur+1:]...)
	reordered := make([]candidate.Record, 0, len(recs)+1)
	reordered = append(reordered, recs[:newPos-1]...)
	reordered = append(reordered, moved)
	reordered = append(reordered, recs[newPos-1:]...)

	if err := q.table.WriteQueueRows(ctx, reordered); err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: move: %w", err)
	}

	q.logger.Info("queue reordered", "identity", id, "position", newPos)
	q.table.AppendConsole(ctx, notify.EventQueueReorder, q.elector.Self(),
		fmt.Sprintf("%s moved to position %d", id, newPos))
	q.notifier.Notify(notify.EventQueueReorder,
		fmt.Sprintf("Queue reordered: %s is now position %d", id, newPos))

	return OpResult{Success: true, Message: fmt.Sprintf("moved to position %d", newPos)}, nil
}

// Remove deletes a candidate's queue row and renumbers the rest.
func (q *Queue) Remove(ctx context.Context, id candidate.Identity) (OpResult, error) {
	if !q.elector.IsActive() {
		return OpResult{Message: "only the host can remove queue entries"}, nil
	}
	st, err := q.table.State(ctx, true)
	if err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: remove: %w", err)
	}
	entry := st.FindQueue(id)
	if entry == nil {
		return OpResult{Message: fmt.Sprintf("candidate not found in queue: %s", id)}, nil
	}
	if err := q.table.DeleteRow(ctx, entry.Row); err != nil {
		return OpResult{}, fmt.Errorf("primacy/host: remove: %w", err)
	}
	if err := q.table.Renumber(ctx); err != nil {
		q.logger.Warn("renumber after remove failed", "error", err)
	}

	q.logger.Info("queue entry removed", "identity", id)
	q.table.AppendConsole(ctx, notify.EventQueueRemove, q.elector.Self(), string(id))
	q.notifier.Notify(notify.EventQueueRemove, fmt.Sprintf("Removed from queue: %s", id))

	return OpResult{Success: true, Message: fmt.Sprintf("removed %s", id)}, nil
}

// CleanupDead deletes every queue row whose heartbeat is past the offline
// timeout, renumbers, and reports who was removed.
func (q *Queue) CleanupDead(ctx context.Context) (CleanupResult, error) {
	if !q.elector.IsActive() {
		return CleanupResult{OpResult: OpResult{Message: "only the host can clean the queue"}}, nil
	}
	st, err := q.table.State(ctx, true)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("primacy/host: cleanup: %w", err)
	}

	now := q.elector.now()
	timeout := q.elector.Timings().OfflineTimeout
	type victim struct {
		row int
		id  candidate.Identity
		age time.Duration
	}
	var victims []victim
	for _, en := range st.Queue {
		if en.OfflineAfter(now, timeout) {
			victims = append(victims, victim{row: en.Row, id: en.Identity, age: en.HeartbeatAge(now)})
		}
	}

	// Reverse-order deletion keeps the remaining indices stable.
	sort.Slice(victims, func(i, j int) bool { return victims[i].row > victims[j].row })

	res := CleanupResult{OpResult: OpResult{Success: true}}
	for _, v := range victims {
		if err := q.table.DeleteRow(ctx, v.row); err != nil {
			q.logger.Warn("cleanup delete failed", "row", v.row, "error", err)
			continue
		}
		q.logger.Info("removed offline candidate", "identity", v.id, "heartbeat_age", v.age.Round(time.Second))
		res.Removed++
		res.Identities = append(res.Identities, v.id)
	}
	if res.Removed > 0 {
		if err := q.table.Renumber(ctx); err != nil {
			q.logger.Warn("renumber after cleanup failed", "error", err)
		}
		names := make([]string, len(res.Identities))
		for i, id := range res.Identities {
			names[i] = string(id)
		}
		q.table.AppendConsole(ctx, notify.EventQueueCleanup, q.elector.Self(),
			fmt.Sprintf("removed %d offline: %s", res.Removed, strings.Join(names, ", ")))
		q.notifier.Notify(notify.EventQueueCleanup,
			fmt.Sprintf("Queue cleanup removed %d offline candidate(s): %s", res.Removed, strings.Join(names, ", ")))
	}
	res.Message = fmt.Sprintf("removed %d offline candidate(s)", res.Removed)
	return res, nil
}
