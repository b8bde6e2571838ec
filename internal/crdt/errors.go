package crdt

import "errors"

// Error kinds a Replica can raise, per spec §4.1/§4.2's failure table.
var (
	ErrWorkspaceNotFound  = errors.New("crdt: workspace not found")
	ErrCorruptSnapshot    = errors.New("crdt: corrupt snapshot")
	ErrMalformedUpdate    = errors.New("crdt: malformed update")
	ErrTransactionConflict = errors.New("crdt: transaction conflict")
)
