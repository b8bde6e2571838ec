// Package hub fans out per-workspace broadcast events to every connector
// subscribed to that workspace, adapted from warren's events.Broker into
// a per-workspace, lagging-subscriber-aware broadcast primitive (spec
// §4.3/§4.4).
package hub

// EventKind discriminates the kinds of broadcast a Hub can carry.
type EventKind uint8

const (
	EventAwarenessDelta EventKind = iota + 1
	EventContentDelta
	EventCloseUser
	EventCloseAll
)

// Event is the closed set of broadcast messages flowing through a Hub,
// grounded on the BroadcastType enum (BroadcastAwareness / BroadcastContent /
// CloseUser / CloseAll) the jwst-rpc broadcast layer this spec was
// distilled from. It is a Go sum type: each variant implements the
// unexported event() marker, so a type switch with a forgotten case is
// caught by its default branch at runtime.
type Event interface {
	event()
	Kind() EventKind
}

// AwarenessDeltaEvent carries an encoded awareness delta for a workspace.
type AwarenessDeltaEvent struct {
	Update []byte
	Origin string // connector id that produced this delta, excluded from delivery
}

// ContentDeltaEvent carries an encoded doc update for a workspace.
type ContentDeltaEvent struct {
	Update []byte
	Origin string
}

// CloseUserEvent asks the workspace's connectors to drop one user's
// session (e.g. a revoked token), mirroring close_websocket's
// single-connection removal semantics.
type CloseUserEvent struct {
	UserID string
	Reason string
}

// CloseAllEvent asks every connector on the workspace to close,
// mirroring close_websocket_by_workspace's unconditional teardown.
type CloseAllEvent struct {
	Reason string
}

func (AwarenessDeltaEvent) event() {}
func (ContentDeltaEvent) event()   {}
func (CloseUserEvent) event()      {}
func (CloseAllEvent) event()       {}

func (AwarenessDeltaEvent) Kind() EventKind { return EventAwarenessDelta }
func (ContentDeltaEvent) Kind() EventKind   { return EventContentDelta }
func (CloseUserEvent) Kind() EventKind      { return EventCloseUser }
func (CloseAllEvent) Kind() EventKind       { return EventCloseAll }
