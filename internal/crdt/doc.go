// Package crdt implements the conflict-free replicated data types behind
// a workspace's document: a last-writer-wins field register, an
// observed-remove presence set, a replicated growable array for ordered
// children, and the Replica that ties them into a single workspace
// document with a two-phase sync protocol on top.
//
//	┌──────────────────────── Replica ────────────────────────────┐
//	│                                                                │
//	│   blocks: map[id]Block ── each Block's fields are             │
//	│            FieldRegister[T] (last-writer-wins)                │
//	│            children is a Sequence (ordered, RGA-like)         │
//	│                                                                │
//	│   updated: map[id]lastModified metadata                       │
//	│                                                                │
//	│   awareness: PresenceSet (per-client ephemeral presence)       │
//	│                                                                │
//	│   opLog: []Op, the append-only history a transaction commits  │
//	│          to; state vectors diff against it for sync.          │
//	└────────────────────────────────────────────────────────────────┘
//
// Applying the same update twice is a no-op (each Op carries the
// (ClientID, Clock) pair that make it idempotent and commutative), and
// observer callbacks registered with ObserveDoc/ObserveAwareness fire
// once per committed transaction, after commit, never during.
package crdt
