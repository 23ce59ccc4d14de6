// Package dispatch runs fire-and-forget background work on named lanes.
//
// Invariants:
// - Submit never blocks. A full lane rejects with ErrQueueFull.
// - Each lane runs at most Workers tasks at once and buffers at most Backlog more.
// - A panicking task is recovered and counted as failed.
// - After Close, Submit returns ErrClosed and queued tasks are drained until the
//   close timeout expires, after which running tasks see their context cancelled.
//
// Usage:
//
//	d := dispatch.New(log.Logger, dispatch.LaneConfig{Name: "callback", Workers: 2, Backlog: 128})
//	defer d.Close(5 * time.Second)
//	err := d.Submit(ctx, "callback", func(ctx context.Context) error {
//		return deliver(ctx)
//	})
package dispatch
