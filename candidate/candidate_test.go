package candidate

import (
	"testing"
	"time"
)

func TestIdentityParts(t *testing.T) {
	t.Parallel()

	id := NewIdentity("deploy", "worker-01", 4242)
	if got := string(id); got != "deploy@worker-01 (PID:4242)" {
		t.Errorf("identity = %q", got)
	}
	if got := id.MachineID(); got != "deploy@worker-01" {
		t.Errorf("MachineID() = %q", got)
	}
	if id.IsZero() {
		t.Error("non-blank identity reported zero")
	}
	if !Identity("  ").IsZero() {
		t.Error("whitespace identity not reported zero")
	}
}

func TestSameMachineIgnoresPID(t *testing.T) {
	t.Parallel()

	a := NewIdentity("deploy", "worker-01", 100)
	b := NewIdentity("deploy", "worker-01", 999)
	c := NewIdentity("deploy", "worker-02", 100)

	if !a.SameMachine(b) {
		t.Error("same machine, different PID: want match")
	}
	if a.SameMachine(c) {
		t.Error("different hostname: want no match")
	}
	if Identity("").SameMachine(Identity("")) {
		t.Error("two blank identities must never match")
	}
}

func TestRecordRowRoundTrip(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	hb := started.Add(5 * time.Minute)
	rec := &Record{
		Identity:      NewIdentity("deploy", "worker-01", 4242),
		Hostname:      "worker-01",
		User:          "deploy",
		IP:            "10.0.0.7",
		PID:           4242,
		StartedAt:     started,
		LastHeartbeat: hb,
		Status:        StatusHost,
	}

	row := rec.Row()
	if len(row) != NumColumns {
		t.Fatalf("row width = %d, want %d", len(row), NumColumns)
	}
	if row[ColLastHeartbeat-1] != hb.Format(TimeLayout) {
		t.Errorf("heartbeat cell = %q", row[ColLastHeartbeat-1])
	}
	if row[ColQueuePosition-1] != "" {
		t.Errorf("host row must have blank queue position, got %q", row[ColQueuePosition-1])
	}

	back, ok := FromRow(row)
	if !ok {
		t.Fatal("FromRow rejected a valid row")
	}
	if back.Identity != rec.Identity || back.PID != rec.PID || back.Status != rec.Status {
		t.Errorf("round trip changed the record: %+v", back)
	}
	if !back.LastHeartbeat.Equal(hb) {
		t.Errorf("heartbeat = %v, want %v", back.LastHeartbeat, hb)
	}
}

func TestFromRowLenient(t *testing.T) {
	t.Parallel()

	// Blank identity: not a record.
	if _, ok := FromRow([]string{"", "host", "user"}); ok {
		t.Error("blank identity decoded as a record")
	}
	if _, ok := FromRow(nil); ok {
		t.Error("nil row decoded as a record")
	}

	// Short and dirty rows decode with zero values, never panic.
	rec, ok := FromRow([]string{"deploy@w1 (PID:7)", "w1", "deploy", "", "not-a-pid", "garbage-time"})
	if !ok {
		t.Fatal("short row rejected")
	}
	if rec.PID != 0 {
		t.Errorf("dirty PID = %d, want 0", rec.PID)
	}
	if !rec.StartedAt.IsZero() {
		t.Errorf("dirty timestamp = %v, want zero", rec.StartedAt)
	}

	// Unknown statuses are kept, not dropped, so cleanup can still see them.
	row := make([]string, NumColumns)
	row[ColIdentity-1] = "x@y (PID:1)"
	row[ColStatus-1] = "WEIRD"
	rec, _ = FromRow(row)
	if rec.Status != Status("WEIRD") {
		t.Errorf("unknown status = %q, want preserved", rec.Status)
	}
	if rec.Status.Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestHeartbeatAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{LastHeartbeat: now.Add(-100 * time.Second)}

	if got := rec.HeartbeatAge(now); got != 100*time.Second {
		t.Errorf("HeartbeatAge = %v, want 100s", got)
	}
	if !rec.OfflineAfter(now, 90*time.Second) {
		t.Error("100s-old heartbeat not offline after 90s timeout")
	}
	if rec.OfflineAfter(now, 180*time.Second) {
		t.Error("100s-old heartbeat offline after 180s timeout")
	}

	// A zero heartbeat is ancient.
	blank := &Record{}
	if !blank.OfflineAfter(now, 90*time.Second) {
		t.Error("zero heartbeat not treated as dead")
	}
}

func TestSelfDescribesProcess(t *testing.T) {
	t.Parallel()

	rec := Self()
	if rec.Identity.IsZero() {
		t.Error("Self produced a blank identity")
	}
	if rec.PID <= 0 {
		t.Errorf("Self PID = %d", rec.PID)
	}
	if rec.Hostname == "" || rec.User == "" {
		t.Errorf("Self missing hostname/user: %+v", rec)
	}
}
