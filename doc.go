// Package primacy keeps exactly one instance of a long-running worker
// "active" across any number of candidate processes, using nothing but a
// shared, rate-limited, eventually-consistent tabular store as the
// coordination medium — no lock service, no consensus cluster.
//
// Primacy is designed as a library, not a service. Import it, configure a
// tabular store backend, and run one Coordinator per candidate process.
//
// # Quick Start
//
//	c, err := primacy.New(
//	    primacy.WithStore(memory.New()),
//	    primacy.WithNotifier(func(ctx context.Context, event, msg string) error {
//	        return chat.Send(ctx, msg)
//	    }),
//	)
//	if err != nil { ... }
//	c.Start(ctx)        // poll loop: acquire, heartbeat, takeover, transfers
//	defer c.Stop(ctx)   // releases the role on clean shutdown
//
//	if c.IsHost() {
//	    // do the protected work
//	}
//
// # Architecture
//
// Primacy follows a composable store pattern: the tabular package defines
// the grid contract (whole-range reads/writes, append, delete-row, batch);
// backends live in tabular/memory, tabular/sheets, tabular/redis, and
// tabular/bun. The resilient package survives store quotas with a TTL
// cache, bounded retries, and a growing cooldown window. The host package
// carries the election state machine, queue administration, and handover
// scheduling over the control table.
//
// # Guarantees and non-guarantees
//
// At-most-one-active is eventual, not linearizable: the store offers no
// compare-and-swap, so two candidates racing over a dead host can overlap
// briefly. The window is bounded by the timing profile and converges on
// the next heartbeat cycle. Queue positions stay a contiguous 1..N
// sequence across reorder, removal, and cleanup.
package primacy
