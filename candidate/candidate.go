// Package candidate defines the typed record for one process competing for
// the active role, its lifecycle status, and the codec between records and
// the control table's 11-column row layout.
package candidate

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a candidate as written to the store.
type Status string

const (
	// StatusHost marks the single candidate authorized to do the work.
	StatusHost Status = "HOST"
	// StatusReady marks a queued candidate cleared to take over next.
	StatusReady Status = "READY"
	// StatusWaiting marks a queued candidate holding its position.
	StatusWaiting Status = "WAITING"
	// StatusTransferring marks the named target of a pending handover.
	StatusTransferring Status = "TRANSFERRING"
	// StatusOffline marks a candidate whose heartbeat went stale. Computed
	// or written by cleanup, never self-reported.
	StatusOffline Status = "OFFLINE"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusHost, StatusReady, StatusWaiting, StatusTransferring, StatusOffline:
		return true
	}
	return false
}

// Control table columns, in sheet order.
const (
	ColIdentity = iota + 1
	ColHostname
	ColUser
	ColIP
	ColPID
	ColStartedAt
	ColLastHeartbeat
	ColStatus
	ColTransferAt
	ColTransferTo
	ColQueuePosition

	// NumColumns is the width of a control-table row.
	NumColumns = 11
)

// Headers is the control table's header row.
var Headers = []string{
	"IDENTITY", "HOSTNAME", "USER", "IP", "PID",
	"STARTED_AT", "LAST_HEARTBEAT", "STATUS",
	"TRANSFER_SCHEDULED_AT", "TRANSFER_TO", "QUEUE_POSITION",
}

// TimeLayout is the wire format for timestamps in the control table.
const TimeLayout = time.RFC3339

// Record is the typed form of one control-table row. Timestamps are real
// time.Time values; parsing of the store's strings happens only at the
// codec boundary.
type Record struct {
	Identity      Identity
	Hostname      string
	User          string
	IP            string
	PID           int
	StartedAt     time.Time
	LastHeartbeat time.Time
	Status        Status

	// Host-row only: pending handover, zero/blank when none.
	TransferAt time.Time
	TransferTo Identity

	// Queue rows only: 1-based position, 0 for the host row.
	QueuePosition int
}

// Self builds the record describing the calling process.
func Self() *Record {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	username := currentUser()
	pid := os.Getpid()
	return &Record{
		Identity: NewIdentity(username, hostname, pid),
		Hostname: hostname,
		User:     username,
		IP:       localIP(hostname),
		PID:      pid,
	}
}

// HeartbeatAge returns how long ago the record's heartbeat was refreshed.
// A zero heartbeat reports a very large age.
func (r *Record) HeartbeatAge(now time.Time) time.Duration {
	if r.LastHeartbeat.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(r.LastHeartbeat)
}

// OfflineAfter reports whether the heartbeat is older than timeout.
func (r *Record) OfflineAfter(now time.Time, timeout time.Duration) bool {
	return r.HeartbeatAge(now) > timeout
}

// Row encodes the record as an 11-column control-table row.
func (r *Record) Row() []string {
	row := make([]string, NumColumns)
	row[ColIdentity-1] = string(r.Identity)
	row[ColHostname-1] = r.Hostname
	row[ColUser-1] = r.User
	row[ColIP-1] = r.IP
	if r.PID > 0 {
		row[ColPID-1] = strconv.Itoa(r.PID)
	}
	row[ColStartedAt-1] = formatTime(r.StartedAt)
	row[ColLastHeartbeat-1] = formatTime(r.LastHeartbeat)
	row[ColStatus-1] = string(r.Status)
	row[ColTransferAt-1] = formatTime(r.TransferAt)
	row[ColTransferTo-1] = string(r.TransferTo)
	if r.QueuePosition > 0 {
		row[ColQueuePosition-1] = strconv.Itoa(r.QueuePosition)
	}
	return row
}

// FromRow decodes a control-table row. Returns ok=false for rows with a
// blank identity. Short or dirty rows decode leniently: missing cells are
// zero values, unparseable timestamps stay zero, unknown statuses are kept
// as-is so cleanup can still see them.
func FromRow(cells []string) (rec *Record, ok bool) {
	if cell(cells, ColIdentity) == "" {
		return nil, false
	}
	r := &Record{
		Identity:   Identity(cell(cells, ColIdentity)),
		Hostname:   cell(cells, ColHostname),
		User:       cell(cells, ColUser),
		IP:         cell(cells, ColIP),
		Status:     Status(cell(cells, ColStatus)),
		TransferTo: Identity(cell(cells, ColTransferTo)),
	}
	r.PID, _ = strconv.Atoi(cell(cells, ColPID))
	r.StartedAt = parseTime(cell(cells, ColStartedAt))
	r.LastHeartbeat = parseTime(cell(cells, ColLastHeartbeat))
	r.TransferAt = parseTime(cell(cells, ColTransferAt))
	r.QueuePosition, _ = strconv.Atoi(cell(cells, ColQueuePosition))
	return r, true
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	return &cp
}

func cell(cells []string, col int) string {
	if col > len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[col-1])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
