package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/primacy/candidate"
	"github.com/xraph/primacy/control"
	"github.com/xraph/primacy/resilient"
	"github.com/xraph/primacy/tabular/memory"
)

// env is a shared fake deployment: one store standing in for the
// spreadsheet, a mutable clock, and any number of candidate processes
// built on top. Each candidate gets its own table and accessor, the way
// separate processes would.
type env struct {
	t     *testing.T
	store *memory.Store
	clock time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		t:     t,
		store: memory.New(),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (e *env) now() time.Time          { return e.clock }
func (e *env) advance(d time.Duration) { e.clock = e.clock.Add(d) }

func (e *env) newTable() *control.Table {
	acc := resilient.New(e.store,
		resilient.WithCacheTTL(0),
		resilient.WithClock(e.now),
		resilient.WithSleep(func(time.Duration) {}),
	)
	return control.New(acc, control.WithClock(e.now))
}

func (e *env) newElector(user string, pid int) *Elector {
	rec := &candidate.Record{
		Identity: candidate.NewIdentity(user, "box-"+user, pid),
		Hostname: "box-" + user,
		User:     user,
		IP:       "10.0.0.1",
		PID:      pid,
	}
	return NewElector(e.newTable(), rec, WithClock(e.now))
}

func mustAcquire(t *testing.T, e *Elector, force bool) *AcquireResult {
	t.Helper()
	res, err := e.TryAcquire(context.Background(), force)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	return res
}

func TestFirstCandidateBecomesHost(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)

	res := mustAcquire(t, p1, false)
	if !res.IsHost || res.Kind != KindAcquired {
		t.Fatalf("result = %+v, want acquired host", res)
	}
	if !p1.IsActive() || p1.Phase() != PhaseActive {
		t.Errorf("active=%v phase=%v", p1.IsActive(), p1.Phase())
	}
}

func TestSecondCandidateQueues(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)

	mustAcquire(t, p1, false)
	env.advance(time.Second)

	res := mustAcquire(t, p2, false)
	if res.IsHost || res.Kind != KindQueued {
		t.Fatalf("result = %+v, want queued", res)
	}
	if res.QueuePosition != 1 {
		t.Errorf("position = %d, want 1", res.QueuePosition)
	}
	if res.CurrentHost != p1.Identity() {
		t.Errorf("current host = %q", res.CurrentHost)
	}
	if p2.Phase() != PhaseQueued {
		t.Errorf("phase = %v", p2.Phase())
	}
}

func TestReacquireWhileQueuedIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)

	mustAcquire(t, p1, false)
	env.advance(time.Second)
	mustAcquire(t, p2, false)
	env.advance(10 * time.Second)

	res := mustAcquire(t, p2, false)
	if res.Kind != KindAlreadyQueued || res.QueuePosition != 1 {
		t.Fatalf("result = %+v, want already queued at 1", res)
	}

	// The refresh must have touched the queue row's heartbeat.
	st, err := p2.table.State(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Queue) != 1 {
		t.Fatalf("queue len = %d (idempotent re-acquire must not duplicate)", len(st.Queue))
	}
	if !st.Queue[0].LastHeartbeat.Equal(env.now()) {
		t.Errorf("queue heartbeat = %v, want refreshed to %v", st.Queue[0].LastHeartbeat, env.now())
	}
}

func TestQueuedCandidateTakesOverDeadHost(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)

	mustAcquire(t, p1, false)
	env.advance(time.Second)
	mustAcquire(t, p2, false)

	// P1 stops heartbeating past the dead timeout.
	env.advance(100 * time.Second)

	res := mustAcquire(t, p2, false)
	if !res.IsHost || res.Kind != KindAcquired {
		t.Fatalf("result = %+v, want takeover acquisition", res)
	}

	st, err := p2.table.State(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if st.Host == nil || st.Host.Identity != p2.Identity() {
		t.Fatalf("host row = %+v, want p2", st.Host)
	}
	if len(st.Queue) != 0 {
		t.Errorf("queue len = %d, want 0 (promoted candidate vacates its row)", len(st.Queue))
	}
}

func TestHostAliveBlocksTakeover(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)

	mustAcquire(t, p1, false)
	env.advance(time.Second)
	mustAcquire(t, p2, false)

	// Within the dead timeout the holder keeps the role.
	env.advance(60 * time.Second)
	if err := p1.Heartbeat(context.Background()); err != nil {
		t.Fatal(err)
	}
	env.advance(60 * time.Second)

	res := mustAcquire(t, p2, false)
	if res.IsHost {
		t.Fatalf("result = %+v, p2 must stay queued while p1 heartbeats", res)
	}
}

func TestRestartOnSameMachineRecovers(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	mustAcquire(t, p1, false)
	env.advance(5 * time.Second)

	// Same machine id, new PID: the restarted process.
	p1b := env.newElector("p1", 101)
	res := mustAcquire(t, p1b, false)
	if !res.IsHost || res.Kind != KindRecovered {
		t.Fatalf("result = %+v, want recovered session", res)
	}
	if !p1b.IsActive() {
		t.Error("restarted process not active")
	}
}

func TestForceOverridesLiveHost(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)

	mustAcquire(t, p1, false)
	env.advance(time.Second)

	res := mustAcquire(t, p2, true)
	if !res.IsHost || res.Kind != KindForced {
		t.Fatalf("result = %+v, want forced acquisition", res)
	}

	st, err := p2.table.State(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if st.Host.Identity != p2.Identity() {
		t.Errorf("host row = %q, want p2", st.Host.Identity)
	}
}

func TestReleaseVacatesWithoutPromotion(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)
	ctx := context.Background()

	mustAcquire(t, p1, false)
	env.advance(time.Second)
	mustAcquire(t, p2, false)
	env.advance(time.Second)

	res, err := p1.Release(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("release result = %+v", res)
	}
	if p1.IsActive() || p1.Phase() != PhaseReleased {
		t.Errorf("active=%v phase=%v", p1.IsActive(), p1.Phase())
	}

	// Nobody is promoted by the release itself.
	st, err := p2.table.State(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if st.Host != nil {
		t.Errorf("host row = %+v, want vacant", st.Host)
	}
	if len(st.Queue) != 1 {
		t.Errorf("queue len = %d, want p2 still queued", len(st.Queue))
	}

	// P2 discovers the vacancy on its own next attempt.
	env.advance(time.Second)
	if got := mustAcquire(t, p2, false); !got.IsHost {
		t.Errorf("p2 after vacancy = %+v, want host", got)
	}
}

func TestReleaseWhenNotHost(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)

	res, err := p1.Release(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Errorf("release without the role = %+v, want failure result", res)
	}
}

func TestReleaseAfterForcedEvictionLeavesUsurper(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)

	mustAcquire(t, p1, false)
	env.advance(time.Second)
	res := mustAcquire(t, p2, true)
	if !res.IsHost || res.Kind != KindForced {
		t.Fatalf("result = %+v, want forced host", res)
	}

	// p1 has not polled yet and still believes it is active; its shutdown
	// must not blank p2's claim.
	env.advance(time.Second)
	op, err := p1.Release(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if op.Success {
		t.Fatal("release succeeded for an evicted holder")
	}
	if p1.IsActive() || p1.Phase() != PhaseLostOnTakeover {
		t.Errorf("active=%v phase=%v", p1.IsActive(), p1.Phase())
	}

	snap, err := p2.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Host == nil || snap.Host.Identity != p2.Identity() {
		t.Fatalf("host row = %+v, want the forcing candidate kept", snap.Host)
	}
}

func TestHeartbeatRequiresActive(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)

	if err := p1.Heartbeat(context.Background()); !errors.Is(err, ErrNotHost) {
		t.Errorf("err = %v, want ErrNotHost", err)
	}

	mustAcquire(t, p1, false)
	env.advance(30 * time.Second)
	if err := p1.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	st, _ := p1.table.State(context.Background(), true)
	if !st.Host.LastHeartbeat.Equal(env.now()) {
		t.Errorf("heartbeat cell = %v, want %v", st.Host.LastHeartbeat, env.now())
	}
}

func TestCleanupRemovesDuplicatesAndOffline(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	ctx := context.Background()

	mustAcquire(t, p1, false)
	env.advance(time.Second)

	table := env.newTable()
	hb := env.now()
	add := func(user string, pid int, hbAt time.Time) {
		rec := &candidate.Record{
			Identity:      candidate.NewIdentity(user, "box-"+user, pid),
			Hostname:      "box-" + user,
			User:          user,
			PID:           pid,
			LastHeartbeat: hbAt,
			Status:        candidate.StatusWaiting,
		}
		if err := table.AppendQueue(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	add("p2", 200, hb)                       // first row for its machine, kept
	add("p2", 201, hb)                       // same machine again, scrubbed as duplicate
	add("p3", 300, hb.Add(-200*time.Second)) // past offline timeout, scrubbed
	add("p4", 400, hb)                       // healthy, kept

	env.advance(61 * time.Second) // past the cleanup throttle
	if err := p1.Heartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	mustAcquire(t, p1, false) // re-acquire runs the scrub as a side effect

	st, err := p1.table.State(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Queue) != 2 {
		t.Fatalf("queue after scrub = %d entries, want 2: %+v", len(st.Queue), st.Queue)
	}
	if st.Queue[0].User != "p2" || st.Queue[1].User != "p4" {
		t.Errorf("survivors = %s, %s", st.Queue[0].User, st.Queue[1].User)
	}
	for i, e := range st.Queue {
		if e.QueuePosition != i+1 {
			t.Errorf("position %d = %d, want contiguous", i, e.QueuePosition)
		}
	}
}

func TestSnapshotComputesLiveness(t *testing.T) {
	t.Parallel()
	env := newEnv(t)
	p1 := env.newElector("p1", 100)
	p2 := env.newElector("p2", 200)
	ctx := context.Background()

	mustAcquire(t, p1, false)
	env.advance(time.Second)
	mustAcquire(t, p2, false)

	env.advance(200 * time.Second)
	snap, err := p1.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Host == nil || !snap.IsSelfHost {
		t.Fatalf("snapshot host = %+v", snap.Host)
	}
	if len(snap.Queue) != 1 {
		t.Fatalf("snapshot queue = %d", len(snap.Queue))
	}
	if !snap.Queue[0].Offline || snap.Queue[0].Status != candidate.StatusOffline {
		t.Errorf("stale queue entry not reported offline: %+v", snap.Queue[0])
	}
}
