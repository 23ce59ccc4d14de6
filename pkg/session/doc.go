// Package session holds conversation transcripts and cumulative indicator sets in
// memory, keyed by an opaque session key.
//
// Invariants:
// - Sessions are created on first reference and live for the process lifetime.
// - Mutations of the same session are serialized by a per-session lock.
// - A transcript longer than CompactionThreshold turns is cut to its last
//   CompactionKeep turns. Indicator sets are never compacted.
// - The cumulative indicator set only grows.
//
// Usage:
//
//	store := session.NewStore(log.Logger)
//	_ = store.Update(ctx, "conv-1", func(tx *session.Tx) {
//		tx.AppendTurn(session.Turn{Role: session.RoleScammer, Message: "hello"})
//	})
//	snap, _ := store.Get(ctx, "conv-1")
//	_ = snap
package session
