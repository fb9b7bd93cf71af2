// Package host implements the single-active coordination state machine:
// leader election over the control table, standby queue administration, and
// scheduled or immediate handover. There is no consensus and no store-side
// locking — every mutation is optimistic read-then-write, and the short
// dual-active window two racing takeovers can open is an accepted,
// documented property of the substrate, resolved by the next heartbeat
// cycle.
package host

import (
	"errors"
	"time"

	"github.com/xraph/primacy/candidate"
)

var (
	// ErrNotHost marks a HOST-only operation attempted by a non-holder.
	ErrNotHost = errors.New("primacy/host: not the current host")

	// ErrCandidateNotFound marks an operation naming an absent queue entry.
	ErrCandidateNotFound = errors.New("primacy/host: candidate not found in queue")

	// ErrTargetOffline marks a handover to a candidate whose heartbeat is
	// past the offline timeout.
	ErrTargetOffline = errors.New("primacy/host: target candidate is offline")

	// ErrTransferExhausted marks a scheduled handover that failed every
	// attempt. The schedule is rolled back and the holder retained.
	ErrTransferExhausted = errors.New("primacy/host: transfer attempts exhausted")
)

// Phase is this process's position in the election state machine.
type Phase string

const (
	PhaseNotTrying      Phase = "NOT_TRYING"
	PhaseTrying         Phase = "TRYING"
	PhaseActive         Phase = "ACTIVE"
	PhaseQueued         Phase = "QUEUED"
	PhaseReleased       Phase = "RELEASED"
	PhaseLostOnTakeover Phase = "LOST_ON_TAKEOVER"
)

// Timings collects every timeout and throttle of the state machine.
// The defaults match a store throttling at Google Sheets rates; all of
// them are properties of the chosen store, not of the algorithm.
type Timings struct {
	// HostDeadTimeout is the heartbeat age past which the holder is
	// considered dead and its row may be cleared.
	HostDeadTimeout time.Duration
	// OfflineTimeout is the heartbeat age past which a queued candidate is
	// considered offline and eligible for cleanup.
	OfflineTimeout time.Duration
	// CleanupInterval throttles the heavy queue scrub inside TryAcquire.
	CleanupInterval time.Duration
	// TransferAttempts bounds candidate resolution during a handover.
	TransferAttempts int
	// TransferRetryPause is the wait between handover attempts.
	TransferRetryPause time.Duration
	// MinScheduleLead is the shortest allowed scheduling horizon.
	MinScheduleLead time.Duration
}

// DefaultTimings returns the stock timing profile.
func DefaultTimings() Timings {
	return Timings{
		HostDeadTimeout:    90 * time.Second,
		OfflineTimeout:     180 * time.Second,
		CleanupInterval:    60 * time.Second,
		TransferAttempts:   3,
		TransferRetryPause: 2 * time.Second,
		MinScheduleLead:    time.Minute,
	}
}

// AcquireKind distinguishes the outcomes of TryAcquire.
type AcquireKind string

const (
	// KindAcquired means the vacant host row was claimed.
	KindAcquired AcquireKind = "acquired"
	// KindRecovered means the host row already belonged to this machine
	// (process restart) and was reclaimed without re-election.
	KindRecovered AcquireKind = "recovered"
	// KindForced means the host row was overwritten by operator override.
	KindForced AcquireKind = "forced"
	// KindQueued means the identity was appended to the standby queue.
	KindQueued AcquireKind = "queued"
	// KindAlreadyQueued means the identity already held a queue row.
	KindAlreadyQueued AcquireKind = "already_queued"
)

// AcquireResult is the structured outcome of TryAcquire.
type AcquireResult struct {
	Success       bool
	IsHost        bool
	Kind          AcquireKind
	Message       string
	CurrentHost   candidate.Identity
	QueuePosition int
}

// OpResult is the structured outcome of an operator-facing command.
// Expected failure modes (not-host, not-found, offline-target) come back
// as Success=false with a reason, never as a panic or a bare error.
type OpResult struct {
	Success bool
	Message string
}

// CleanupResult reports what a queue scrub removed.
type CleanupResult struct {
	OpResult
	Removed    int
	Identities []candidate.Identity
}

// TransferState describes a scheduled handover, if any.
type TransferState struct {
	Scheduled bool
	At        time.Time
	Target    candidate.Identity
	Remaining time.Duration
	// Ready is true once the schedule is due (Remaining hit zero).
	Ready bool
}

// SnapshotEntry is one queue row with its computed liveness.
type SnapshotEntry struct {
	candidate.Record
	Offline bool
}

// Snapshot is the operator-facing view of the control table.
type Snapshot struct {
	Host       *candidate.Record
	Queue      []SnapshotEntry
	Self       candidate.Identity
	IsSelfHost bool
}
