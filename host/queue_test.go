package host

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/primacy/candidate"
)

// queueFixture gives one active host plus three queued candidates.
func queueFixture(t *testing.T) (*env, *Elector, *Queue, []candidate.Identity) {
	t.Helper()
	env := newEnv(t)
	h := env.newElector("host", 100)
	mustAcquire(t, h, false)
	env.advance(time.Second)

	var ids []candidate.Identity
	for _, user := range []string{"a", "b", "c"} {
		e := env.newElector(user, 500)
		mustAcquire(t, e, false)
		ids = append(ids, e.Identity())
		env.advance(time.Second)
	}
	q := NewQueue(h.table, h, nil, nil)
	return env, h, q, ids
}

func queueOrder(t *testing.T, h *Elector) []string {
	t.Helper()
	st, err := h.table.State(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	var users []string
	for i, e := range st.Queue {
		if e.QueuePosition != i+1 {
			t.Fatalf("position %d = %d, want contiguous 1..N", i, e.QueuePosition)
		}
		users = append(users, e.User)
	}
	return users
}

func TestMoveToFront(t *testing.T) {
	t.Parallel()
	_, h, q, ids := queueFixture(t)

	res, err := q.Move(context.Background(), ids[2], 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if got := queueOrder(t, h); got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Errorf("order = %v, want [c a b]", got)
	}
}

func TestMoveToBack(t *testing.T) {
	t.Parallel()
	_, h, q, ids := queueFixture(t)

	if _, err := q.Move(context.Background(), ids[0], 3); err != nil {
		t.Fatal(err)
	}
	if got := queueOrder(t, h); got[0] != "b" || got[2] != "a" {
		t.Errorf("order = %v, want [b c a]", got)
	}
}

func TestMoveRejectsBadInput(t *testing.T) {
	t.Parallel()
	_, _, q, ids := queueFixture(t)
	ctx := context.Background()

	res, err := q.Move(ctx, candidate.NewIdentity("ghost", "nowhere", 1), 1)
	if err != nil || res.Success {
		t.Errorf("unknown identity: res=%+v err=%v", res, err)
	}
	res, err = q.Move(ctx, ids[0], 0)
	if err != nil || res.Success {
		t.Errorf("position 0: res=%+v err=%v", res, err)
	}
	res, err = q.Move(ctx, ids[0], 4)
	if err != nil || res.Success {
		t.Errorf("position beyond queue: res=%+v err=%v", res, err)
	}

	// Same position is a no-op success.
	res, err = q.Move(ctx, ids[1], 2)
	if err != nil || !res.Success {
		t.Errorf("same position: res=%+v err=%v", res, err)
	}
}

func TestMoveRequiresHost(t *testing.T) {
	t.Parallel()
	env, h, _, ids := queueFixture(t)

	// A queued candidate must not be able to reorder.
	bystander := env.newElector("a", 501)
	q := NewQueue(h.table, bystander, nil, nil)
	res, err := q.Move(context.Background(), ids[0], 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Errorf("non-host reorder succeeded: %+v", res)
	}
}

func TestRemoveRenumbers(t *testing.T) {
	t.Parallel()
	_, h, q, ids := queueFixture(t)

	res, err := q.Remove(context.Background(), ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if got := queueOrder(t, h); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("order = %v, want [a c]", got)
	}

	res, err = q.Remove(context.Background(), ids[1])
	if err != nil || res.Success {
		t.Errorf("double remove: res=%+v err=%v", res, err)
	}
}

func TestCleanupDeadReportsVictims(t *testing.T) {
	t.Parallel()
	env, h, q, ids := queueFixture(t)
	ctx := context.Background()

	// Everyone but "b" goes silent past the offline timeout.
	env.advance(200 * time.Second)
	if err := h.Heartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	st, err := h.table.State(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range st.Queue {
		if e.User == "b" {
			if err := h.table.RefreshQueueEntry(ctx, e.Row, candidate.StatusWaiting, e.QueuePosition, env.now()); err != nil {
				t.Fatal(err)
			}
		}
	}

	res, err := q.CleanupDead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 2 {
		t.Fatalf("removed = %d, want 2: %+v", res.Removed, res)
	}
	for _, id := range res.Identities {
		if id == ids[1] {
			t.Errorf("live candidate %q reported removed", id)
		}
	}
	if got := queueOrder(t, h); len(got) != 1 || got[0] != "b" {
		t.Errorf("survivors = %v, want [b]", got)
	}
}

func TestCleanupDeadRequiresHost(t *testing.T) {
	t.Parallel()
	env, h, _, _ := queueFixture(t)

	bystander := env.newElector("a", 501)
	q := NewQueue(h.table, bystander, nil, nil)
	res, err := q.CleanupDead(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Errorf("non-host cleanup succeeded: %+v", res)
	}
}
