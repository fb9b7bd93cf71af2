// Package control provides typed access to the coordination control table:
// a fixed layout of one header row, one host row, and N ordered queue rows,
// plus the append-only transfer-history and console-log sheets. All store
// traffic goes through a resilient.Accessor so quota survival is uniform.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/primacy/candidate"
	"github.com/xraph/primacy/resilient"
	"github.com/xraph/primacy/tabular"
)

// Sheet names. One spreadsheet (or keyspace) carries all three.
const (
	ControlSheet = "HOST_CONTROL"
	HistorySheet = "TRANSFER_HISTORY"
	ConsoleSheet = "CONSOLE"
)

// Fixed row layout of the control sheet.
const (
	HeaderRow     = 1
	HostRow       = 2
	FirstQueueRow = 3
)

// cacheName is the logical cache key for the control table snapshot.
const cacheName = "host_control"

// DefaultEnsureTTL is how often the sheet/header existence check re-runs.
// Frequent callers (heartbeat, poll) must not burn quota re-verifying
// headers.
const DefaultEnsureTTL = 10 * time.Minute

var historyHeaders = []string{"TIMESTAMP", "FROM", "TO", "REASON", "STATUS"}

var consoleHeaders = []string{"TIMESTAMP", "EVENT", "IDENTITY", "PID", "IP", "MESSAGE"}

// QueueEntry is one queue row together with its 1-based sheet row, so
// callers can address the exact row they observed.
type QueueEntry struct {
	candidate.Record
	Row int
}

// State is a typed snapshot of the control table.
type State struct {
	// Host is the current holder row, nil when vacant.
	Host *candidate.Record
	// Queue holds the standby rows in sheet order.
	Queue []QueueEntry
}

// FindQueue returns the queue entry with exactly this identity, or nil.
func (s *State) FindQueue(id candidate.Identity) *QueueEntry {
	for i := range s.Queue {
		if s.Queue[i].Identity == id {
			return &s.Queue[i]
		}
	}
	return nil
}

// FindQueueMachine returns the first queue entry from the same machine as
// id, or nil. Queue membership is deduplicated per machine, not per PID.
func (s *State) FindQueueMachine(id candidate.Identity) *QueueEntry {
	for i := range s.Queue {
		if s.Queue[i].Identity.SameMachine(id) {
			return &s.Queue[i]
		}
	}
	return nil
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// WithEnsureTTL sets how often sheet existence is re-verified.
func WithEnsureTTL(d time.Duration) Option {
	return func(t *Table) { t.ensureTTL = d }
}

// WithClock overrides the time source. Test helper.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// Table is the typed record store over the control sheet.
type Table struct {
	acc       *resilient.Accessor
	logger    *slog.Logger
	ensureTTL time.Duration
	now       func() time.Time

	mu          sync.Mutex
	lastEnsured time.Time
}

// New creates a Table over the given accessor.
func New(acc *resilient.Accessor, opts ...Option) *Table {
	t := &Table{
		acc:       acc,
		logger:    slog.Default(),
		ensureTTL: DefaultEnsureTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Accessor returns the underlying resilient accessor.
func (t *Table) Accessor() *resilient.Accessor { return t.acc }

// Ensure creates the three sheets with their headers when missing.
// Throttled by the ensure TTL; callers invoke it freely.
func (t *Table) Ensure(ctx context.Context) error {
	t.mu.Lock()
	if !t.lastEnsured.IsZero() && t.now().Sub(t.lastEnsured) < t.ensureTTL {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.acc.EnsureSheet(ctx, ControlSheet, candidate.Headers); err != nil {
		return fmt.Errorf("primacy/control: ensure %s: %w", ControlSheet, err)
	}
	if err := t.acc.EnsureSheet(ctx, HistorySheet, historyHeaders); err != nil {
		return fmt.Errorf("primacy/control: ensure %s: %w", HistorySheet, err)
	}
	if err := t.acc.EnsureSheet(ctx, ConsoleSheet, consoleHeaders); err != nil {
		return fmt.Errorf("primacy/control: ensure %s: %w", ConsoleSheet, err)
	}

	t.mu.Lock()
	t.lastEnsured = t.now()
	t.mu.Unlock()
	return nil
}

// State reads the control table (cached unless force) and decodes it.
func (t *Table) State(ctx context.Context, force bool) (*State, error) {
	rows, err := t.acc.Read(ctx, cacheName, ControlSheet, "", force)
	if err != nil {
		return nil, err
	}

	st := &State{}
	if len(rows) >= HostRow {
		if rec, ok := candidate.FromRow(rows[HostRow-1]); ok {
			st.Host = rec
		}
	}
	for i := FirstQueueRow - 1; i < len(rows); i++ {
		rec, ok := candidate.FromRow(rows[i])
		if !ok {
			continue
		}
		if rec.QueuePosition == 0 {
			rec.QueuePosition = len(st.Queue) + 1
		}
		st.Queue = append(st.Queue, QueueEntry{Record: *rec, Row: i + 1})
	}
	return st, nil
}

// WriteHost overwrites the host row with rec and invalidates the cache.
func (t *Table) WriteHost(ctx context.Context, rec *candidate.Record) error {
	if err := t.acc.WriteRange(ctx, ControlSheet, tabular.RowSpan(HostRow, candidate.NumColumns), [][]string{rec.Row()}); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// ClearHost blanks the host row, marking the role vacant.
func (t *Table) ClearHost(ctx context.Context) error {
	blank := make([]string, candidate.NumColumns)
	if err := t.acc.WriteRange(ctx, ControlSheet, tabular.RowSpan(HostRow, candidate.NumColumns), [][]string{blank}); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// Heartbeat writes ts into the host row's heartbeat cell.
func (t *Table) Heartbeat(ctx context.Context, ts time.Time) error {
	cell := tabular.Cell(candidate.ColLastHeartbeat, HostRow)
	if err := t.acc.WriteRange(ctx, ControlSheet, cell, [][]string{{ts.UTC().Format(candidate.TimeLayout)}}); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// SetTransfer writes the pending-handover fields on the host row.
func (t *Table) SetTransfer(ctx context.Context, at time.Time, target candidate.Identity) error {
	rng := tabular.Span(candidate.ColTransferAt, HostRow, candidate.ColTransferTo, HostRow)
	vals := [][]string{{at.UTC().Format(candidate.TimeLayout), string(target)}}
	if err := t.acc.WriteRange(ctx, ControlSheet, rng, vals); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// ClearTransfer blanks the pending-handover fields on the host row.
func (t *Table) ClearTransfer(ctx context.Context) error {
	rng := tabular.Span(candidate.ColTransferAt, HostRow, candidate.ColTransferTo, HostRow)
	if err := t.acc.WriteRange(ctx, ControlSheet, rng, [][]string{{"", ""}}); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// AppendQueue appends rec as a new queue row.
func (t *Table) AppendQueue(ctx context.Context, rec *candidate.Record) error {
	if err := t.acc.AppendRow(ctx, ControlSheet, rec.Row()); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// DeleteRow removes the given 1-based sheet row.
func (t *Table) DeleteRow(ctx context.Context, row int) error {
	if err := t.acc.DeleteRow(ctx, ControlSheet, row); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// RefreshQueueEntry updates the status, heartbeat, and position cells of
// one observed queue row in a single batch.
func (t *Table) RefreshQueueEntry(ctx context.Context, row int, status candidate.Status, pos int, hb time.Time) error {
	updates := []tabular.RangeUpdate{
		{Range: tabular.Cell(candidate.ColStatus, row), Values: [][]string{{string(status)}}},
		{Range: tabular.Cell(candidate.ColLastHeartbeat, row), Values: [][]string{{hb.UTC().Format(candidate.TimeLayout)}}},
	}
	if pos > 0 {
		updates = append(updates, tabular.RangeUpdate{
			Range:  tabular.Cell(candidate.ColQueuePosition, row),
			Values: [][]string{{strconv.Itoa(pos)}},
		})
	}
	if err := t.acc.BatchUpdate(ctx, ControlSheet, updates); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// SetStatusCell writes just the status cell of a row.
func (t *Table) SetStatusCell(ctx context.Context, row int, status candidate.Status) error {
	cell := tabular.Cell(candidate.ColStatus, row)
	if err := t.acc.WriteRange(ctx, ControlSheet, cell, [][]string{{string(status)}}); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// WriteQueueRows rewrites all queue rows from recs, in order, as a single
// batch. Positions are renumbered 1..N as part of the same write. Rows
// beyond len(recs) that previously held entries must be deleted by the
// caller beforehand.
func (t *Table) WriteQueueRows(ctx context.Context, recs []candidate.Record) error {
	updates := make([]tabular.RangeUpdate, 0, len(recs))
	for i := range recs {
		rec := recs[i]
		rec.QueuePosition = i + 1
		updates = append(updates, tabular.RangeUpdate{
			Range:  tabular.RowSpan(FirstQueueRow+i, candidate.NumColumns),
			Values: [][]string{rec.Row()},
		})
	}
	if len(updates) == 0 {
		return nil
	}
	if err := t.acc.BatchUpdate(ctx, ControlSheet, updates); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// Renumber recomputes contiguous queue positions 1..N against a forced
// re-read, as one batch write. Lost-update windows shrink but do not
// disappear; the substrate has no CAS.
func (t *Table) Renumber(ctx context.Context) error {
	st, err := t.State(ctx, true)
	if err != nil {
		return err
	}
	updates := make([]tabular.RangeUpdate, 0, len(st.Queue))
	for i, e := range st.Queue {
		want := strconv.Itoa(i + 1)
		updates = append(updates, tabular.RangeUpdate{
			Range:  tabular.Cell(candidate.ColQueuePosition, e.Row),
			Values: [][]string{{want}},
		})
	}
	if len(updates) == 0 {
		return nil
	}
	if err := t.acc.BatchUpdate(ctx, ControlSheet, updates); err != nil {
		return err
	}
	t.acc.Invalidate(cacheName)
	return nil
}

// AppendHistory records a transfer outcome in the audit sheet. Best effort:
// failures are logged, never surfaced.
func (t *Table) AppendHistory(ctx context.Context, from, to candidate.Identity, reason string, success bool) {
	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	row := []string{
		t.now().UTC().Format(candidate.TimeLayout),
		string(from), string(to), reason, status,
	}
	if err := t.acc.AppendRow(ctx, HistorySheet, row); err != nil {
		t.logger.Warn("transfer history append failed", "error", err)
	}
}

// AppendConsole records an operational event in the console sheet. Best
// effort: failures are logged, never surfaced.
func (t *Table) AppendConsole(ctx context.Context, event string, who *candidate.Record, message string) {
	row := []string{
		t.now().UTC().Format(candidate.TimeLayout),
		event, string(who.Identity), strconv.Itoa(who.PID), who.IP, message,
	}
	if err := t.acc.AppendRow(ctx, ConsoleSheet, row); err != nil {
		t.logger.Debug("console append failed", "error", err)
	}
}
