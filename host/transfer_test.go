package host

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/primacy/candidate"
)

// transferFixture gives one active host, two queued candidates, and a
// Transfer with the inter-attempt pause stubbed out.
func transferFixture(t *testing.T) (*env, *Elector, *Transfer, []candidate.Identity) {
	t.Helper()
	env := newEnv(t)
	h := env.newElector("host", 100)
	mustAcquire(t, h, false)
	env.advance(time.Second)

	var ids []candidate.Identity
	for _, user := range []string{"a", "b"} {
		e := env.newElector(user, 500)
		mustAcquire(t, e, false)
		ids = append(ids, e.Identity())
		env.advance(time.Second)
	}
	tr := NewTransfer(h.table, h, nil, nil)
	tr.SetSleep(func(time.Duration) {})
	return env, h, tr, ids
}

func TestScheduleEnforcesLeadTime(t *testing.T) {
	t.Parallel()
	_, _, tr, _ := transferFixture(t)

	res, err := tr.Schedule(context.Background(), 30*time.Second, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Errorf("30s lead accepted, want rejection below the minimum: %+v", res)
	}
}

func TestScheduleAndStatus(t *testing.T) {
	t.Parallel()
	env, _, tr, ids := transferFixture(t)
	ctx := context.Background()

	res, err := tr.Schedule(ctx, 2*time.Minute, ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("schedule = %+v", res)
	}

	ts, err := tr.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Scheduled || ts.Target != ids[1] || ts.Ready {
		t.Fatalf("status = %+v", ts)
	}
	if ts.Remaining <= 0 || ts.Remaining > 2*time.Minute {
		t.Errorf("remaining = %v", ts.Remaining)
	}

	env.advance(3 * time.Minute)
	ts, err = tr.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Ready || ts.Remaining != 0 {
		t.Errorf("due status = %+v, want ready", ts)
	}
}

func TestScheduleUnknownTarget(t *testing.T) {
	t.Parallel()
	_, _, tr, _ := transferFixture(t)

	res, err := tr.Schedule(context.Background(), 2*time.Minute, candidate.NewIdentity("ghost", "x", 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Errorf("schedule to unknown target succeeded: %+v", res)
	}
}

func TestCancelRestoresTargets(t *testing.T) {
	t.Parallel()
	_, h, tr, ids := transferFixture(t)
	ctx := context.Background()

	if _, err := tr.Schedule(ctx, 2*time.Minute, ids[0]); err != nil {
		t.Fatal(err)
	}
	st, _ := h.table.State(ctx, true)
	if st.Queue[0].Status != candidate.StatusTransferring {
		t.Fatalf("target not marked: %+v", st.Queue[0])
	}

	res, err := tr.Cancel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("cancel = %+v", res)
	}
	st, _ = h.table.State(ctx, true)
	if !st.Host.TransferAt.IsZero() || st.Host.TransferTo != "" {
		t.Error("transfer fields survived the cancel")
	}
	if st.Queue[0].Status != candidate.StatusWaiting {
		t.Errorf("target status = %q, want restored to WAITING", st.Queue[0].Status)
	}
}

func TestExecuteHandsOverToNamedTarget(t *testing.T) {
	t.Parallel()
	env, h, tr, ids := transferFixture(t)
	ctx := context.Background()

	if _, err := tr.Schedule(ctx, 2*time.Minute, ids[1]); err != nil {
		t.Fatal(err)
	}
	env.advance(2 * time.Minute)
	if err := h.Heartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	// Keep the target's heartbeat fresh so it is still viable.
	st, _ := h.table.State(ctx, true)
	for _, e := range st.Queue {
		if err := h.table.RefreshQueueEntry(ctx, e.Row, candidate.StatusWaiting, e.QueuePosition, env.now()); err != nil {
			t.Fatal(err)
		}
	}

	handedOver, err := tr.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !handedOver {
		t.Fatal("Execute did not hand over")
	}
	if h.IsActive() || h.Phase() != PhaseReleased {
		t.Errorf("old holder active=%v phase=%v", h.IsActive(), h.Phase())
	}

	st, _ = h.table.State(ctx, true)
	if st.Host == nil || st.Host.Identity != ids[1] {
		t.Fatalf("host row = %+v, want %q", st.Host, ids[1])
	}
	if st.Host.Status != candidate.StatusHost {
		t.Errorf("new host status = %q", st.Host.Status)
	}
	if !st.Host.TransferAt.IsZero() || st.Host.TransferTo != "" {
		t.Error("transfer fields carried into the new host row")
	}
	if len(st.Queue) != 1 {
		t.Errorf("queue = %d entries, want promoted row vacated", len(st.Queue))
	}
}

func TestExecuteFallsBackWhenTargetStale(t *testing.T) {
	t.Parallel()
	env, h, tr, ids := transferFixture(t)
	ctx := context.Background()

	if _, err := tr.Schedule(ctx, 2*time.Minute, ids[1]); err != nil {
		t.Fatal(err)
	}
	// The named target goes silent; the first queued candidate stays live.
	env.advance(4 * time.Minute)
	if err := h.Heartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	st, _ := h.table.State(ctx, true)
	for _, e := range st.Queue {
		if e.Identity == ids[0] {
			if err := h.table.RefreshQueueEntry(ctx, e.Row, candidate.StatusWaiting, e.QueuePosition, env.now()); err != nil {
				t.Fatal(err)
			}
		}
	}

	handedOver, err := tr.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !handedOver {
		t.Fatal("Execute did not hand over via fallback")
	}
	st, _ = h.table.State(ctx, true)
	if st.Host.Identity != ids[0] {
		t.Errorf("host = %q, want fallback target %q", st.Host.Identity, ids[0])
	}
}

func TestExecuteExhaustionRollsBack(t *testing.T) {
	t.Parallel()
	env, h, tr, _ := transferFixture(t)
	ctx := context.Background()

	if _, err := tr.Schedule(ctx, 2*time.Minute, ""); err != nil {
		t.Fatal(err)
	}
	// Everyone in the queue goes silent: no viable candidate at all.
	env.advance(5 * time.Minute)
	if err := h.Heartbeat(ctx); err != nil {
		t.Fatal(err)
	}

	handedOver, err := tr.Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if handedOver {
		t.Fatal("Execute handed over with no viable candidate")
	}
	if !h.IsActive() {
		t.Error("holder lost the role on a failed transfer")
	}
	st, _ := h.table.State(ctx, true)
	if st.Host.Identity != h.Identity() {
		t.Errorf("host = %q, want retained holder", st.Host.Identity)
	}
	if !st.Host.TransferAt.IsZero() {
		t.Error("schedule not rolled back after exhaustion")
	}
}

func TestDirectTransferChecksLiveness(t *testing.T) {
	t.Parallel()
	env, h, tr, ids := transferFixture(t)
	ctx := context.Background()

	// Target heartbeat goes stale past the offline timeout.
	env.advance(4 * time.Minute)
	if err := h.Heartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := tr.Direct(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Errorf("direct transfer to offline target succeeded: %+v", res)
	}
	if !h.IsActive() {
		t.Error("holder deactivated by a refused transfer")
	}
}

func TestDirectTransferSucceeds(t *testing.T) {
	t.Parallel()
	env, h, tr, ids := transferFixture(t)
	ctx := context.Background()

	env.advance(time.Second)
	st, _ := h.table.State(ctx, true)
	for _, e := range st.Queue {
		if err := h.table.RefreshQueueEntry(ctx, e.Row, candidate.StatusWaiting, e.QueuePosition, env.now()); err != nil {
			t.Fatal(err)
		}
	}

	res, err := tr.Direct(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("direct transfer = %+v", res)
	}
	st, _ = h.table.State(ctx, true)
	if st.Host.Identity != ids[0] {
		t.Errorf("host = %q, want %q", st.Host.Identity, ids[0])
	}
	if h.IsActive() {
		t.Error("old holder still active after handover")
	}
}

func TestTransferGuardsRequireHost(t *testing.T) {
	t.Parallel()
	env, h, _, ids := transferFixture(t)
	ctx := context.Background()

	bystander := env.newElector("a", 501)
	tr := NewTransfer(h.table, bystander, nil, nil)

	if res, _ := tr.Schedule(ctx, 2*time.Minute, ""); res.Success {
		t.Error("non-host scheduled a transfer")
	}
	if res, _ := tr.Cancel(ctx); res.Success {
		t.Error("non-host cancelled a transfer")
	}
	if res, _ := tr.Direct(ctx, ids[0]); res.Success {
		t.Error("non-host ran a direct transfer")
	}
}
