// Package storage persists workspace snapshots and op-log updates so a
// Replica can be reconstructed after a process restart (spec §4.6).
package storage

import "errors"

// ErrNotFound is returned when a workspace has no durable state yet.
var ErrNotFound = errors.New("storage: workspace not found")

// Store is the durability boundary a Hub/Connector depends on. A
// workspace's durable state is a snapshot plus every update appended
// since that snapshot; Load replays both to hand the caller bytes a
// crdt.Replica can be rebuilt from via crdt.FromSnapshot plus
// crdt.ApplyUpdate.
type Store interface {
	// Load returns the latest snapshot for workspaceID followed by every
	// update appended since it, in append order. Returns ErrNotFound if
	// the workspace has no snapshot; an update log without a snapshot is
	// not returned.
	Load(workspaceID string) (snapshot []byte, updates [][]byte, err error)

	// AppendUpdate appends one encoded update to workspaceID's update
	// log. It does not compact; callers check ShouldCompact and call
	// SaveSnapshot themselves.
	AppendUpdate(workspaceID string, update []byte) error

	// SaveSnapshot replaces workspaceID's snapshot and clears its
	// pending update log, atomically.
	SaveSnapshot(workspaceID string, snapshot []byte) error

	// ShouldCompact reports whether workspaceID has accumulated enough
	// pending updates to warrant folding them into a fresh snapshot.
	ShouldCompact(workspaceID string) bool

	// Exists reports whether workspaceID has a persisted snapshot; an
	// update log without a snapshot does not count.
	Exists(workspaceID string) (bool, error)

	// Delete permanently removes workspaceID's snapshot and pending
	// update log.
	Delete(workspaceID string) error

	// Close releases the store's underlying resources.
	Close() error
}
