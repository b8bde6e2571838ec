package crdt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DocObserver is invoked after each committed transaction (local or
// merged from a peer) with the byte-level update it produced and the
// origin that caused it: the connector id passed to HandleMessage, or
// "" for a change with no specific connector behind it (a direct
// Transact call, or replay from storage).
type DocObserver func(update []byte, origin string)

// AwarenessObserver is invoked after an awareness change with the
// (added, updated, removed) client id lists it produced and the origin
// that caused it, same convention as DocObserver.
type AwarenessObserver func(added, updated, removed []string, origin string)

// Subscription is an opaque handle returned by ObserveDoc/ObserveAwareness.
type Subscription struct {
	cancel func()
}

// Unsubscribe unregisters the observer. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Replica owns a single workspace's CRDT state: its blocks, updated
// metadata, awareness, and the op log that both back up and drive
// sync-protocol diffs (spec §4.1).
type Replica struct {
	id       string
	clientID string

	mu    sync.Mutex // serializes transactions (spec: "Two transactions on the same Replica are serialized")
	clock uint64
	blocks  map[string]*Block
	updated map[string]*updatedMeta
	opLog   []Op
	sv      VClock

	awMu      sync.Mutex
	awareness *PresenceSet

	obsMu               sync.Mutex
	docObservers        map[int]DocObserver
	awarenessObservers   map[int]AwarenessObserver
	nextSubID            int

	dispatching int32 // atomic: 1 while observer callbacks are running
}

// NewReplica creates a Replica with empty blocks/updated and a fresh
// stable logical client id (spec §3 invariant (iii)).
func NewReplica(id string) *Replica {
	return &Replica{
		id:                 id,
		clientID:           uuid.NewString(),
		blocks:             make(map[string]*Block),
		updated:            make(map[string]*updatedMeta),
		sv:                 make(VClock),
		awareness:          NewPresenceSet(),
		docObservers:       make(map[int]DocObserver),
		awarenessObservers: make(map[int]AwarenessObserver),
	}
}

// FromSnapshot rebuilds a Replica from bytes produced by a prior
// EncodeStateAsUpdate(VClock{}) call. Fails with ErrCorruptSnapshot if
// decoding fails (spec §4.1).
func FromSnapshot(id string, data []byte) (*Replica, error) {
	r := NewReplica(id)
	ops, err := decodeOps(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	now := time.Now()
	for _, op := range ops {
		r.applyOp(op, now)
	}
	r.opLog = ops
	return r, nil
}

// ID returns the workspace id this Replica holds.
func (r *Replica) ID() string { return r.id }

// ClientID returns this Replica's stable logical client id.
func (r *Replica) ClientID() string { return r.clientID }

// Get returns the block with the given id, if present.
func (r *Replica) Get(blockID string) (*Block, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[blockID]
	return b, ok
}

// Exists reports whether blockID is currently present.
func (r *Replica) Exists(blockID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blocks[blockID]
	return ok
}

// BlockCount returns the number of live blocks.
func (r *Replica) BlockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

// Updated returns the last-modified metadata recorded for blockID.
func (r *Replica) Updated(blockID string) (clientID string, clock uint64, ts time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, found := r.updated[blockID]
	if !found {
		return "", 0, time.Time{}, false
	}
	return m.ClientID, m.Clock, m.Timestamp, true
}

// Txn is a scoped read-write handle on a Replica, created implicitly by
// Transact and committed when the callback returns (spec §3).
type Txn struct {
	replica *Replica
	ops     []Op
}

// Create creates a block with the given flavor, or returns the existing
// block if blockID is already present (spec §4.1's "never orphaned
// silently" pairs with "create is idempotent on an existing id").
func (t *Txn) Create(blockID, flavor string) *Block {
	if b, ok := t.replica.blocks[blockID]; ok {
		return b
	}
	op := Op{Kind: OpCreateBlock, BlockID: blockID, Flavor: flavor, ClientID: t.replica.clientID, Clock: t.replica.nextClock()}
	t.replica.applyOp(op, time.Now())
	t.ops = append(t.ops, op)
	return t.replica.blocks[blockID]
}

// Remove removes blockID and its updated-map entry together (spec §3
// invariant (i)). Returns false if blockID did not exist.
func (t *Txn) Remove(blockID string) bool {
	if _, ok := t.replica.blocks[blockID]; !ok {
		return false
	}
	op := Op{Kind: OpRemoveBlock, BlockID: blockID, ClientID: t.replica.clientID, Clock: t.replica.nextClock()}
	t.replica.applyOp(op, time.Now())
	t.ops = append(t.ops, op)
	return true
}

// Set sets field on blockID to value (a string, float64, or bool).
func (t *Txn) Set(blockID, field string, value interface{}) error {
	if _, ok := t.replica.blocks[blockID]; !ok {
		return fmt.Errorf("crdt: set %s.%s: %w", blockID, field, ErrWorkspaceNotFound)
	}
	op := Op{Kind: OpSetField, BlockID: blockID, Field: field, Value: value, ClientID: t.replica.clientID, Clock: t.replica.nextClock()}
	t.replica.applyOp(op, time.Now())
	t.ops = append(t.ops, op)
	return nil
}

// InsertChild inserts childID into blockID's children list after
// afterChildID (empty string: insert at the head).
func (t *Txn) InsertChild(blockID, afterChildID, childID string) error {
	parent, ok := t.replica.blocks[blockID]
	if !ok {
		return fmt.Errorf("crdt: insert child into %s: %w", blockID, ErrWorkspaceNotFound)
	}
	var after SeqNodeID
	if afterChildID != "" {
		found, ok := parent.children.NodeIDForValue(afterChildID)
		if !ok {
			return fmt.Errorf("crdt: anchor child %s not found in %s", afterChildID, blockID)
		}
		after = found
	}
	node := parent.children.Insert(after, childID, t.replica.clientID)
	op := Op{Kind: OpInsertChild, BlockID: blockID, ChildNode: node, ClientID: t.replica.clientID, Clock: t.replica.nextClock()}
	t.ops = append(t.ops, op)
	return nil
}

// RemoveChild removes childID from blockID's children list.
func (t *Txn) RemoveChild(blockID, childID string) error {
	parent, ok := t.replica.blocks[blockID]
	if !ok {
		return fmt.Errorf("crdt: remove child from %s: %w", blockID, ErrWorkspaceNotFound)
	}
	id, ok := parent.children.NodeIDForValue(childID)
	if !ok {
		return fmt.Errorf("crdt: child %s not found in %s", childID, blockID)
	}
	parent.children.Delete(id)
	op := Op{Kind: OpRemoveChild, BlockID: blockID, ChildNode: SeqNode{ID: id, Deleted: true}, ClientID: t.replica.clientID, Clock: t.replica.nextClock()}
	t.ops = append(t.ops, op)
	return nil
}

func (r *Replica) nextClock() uint64 {
	r.clock++
	return r.clock
}

// Transact runs f against a scoped Txn; its ops commit atomically when f
// returns, and doc observers fire once, after commit. Calling Transact
// reentrantly from an observer callback is a fail-fast invariant
// violation (spec §4.1).
func (r *Replica) Transact(f func(*Txn) error) error {
	if atomic.LoadInt32(&r.dispatching) == 1 {
		panic("crdt: Transact called reentrantly from an observer callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	txn := &Txn{replica: r}
	if err := f(txn); err != nil {
		return err
	}
	if len(txn.ops) == 0 {
		return nil
	}
	r.opLog = append(r.opLog, txn.ops...)
	update, err := encodeOps(txn.ops)
	if err != nil {
		return err
	}
	r.dispatchDoc(update, "")
	return nil
}

// applyOp mutates blocks/updated in place and bumps the state vector. It
// is used both for locally-created ops (always new) and for merging
// remote ops (caller is responsible for the idempotency check).
func (r *Replica) applyOp(op Op, now time.Time) {
	switch op.Kind {
	case OpCreateBlock:
		if _, ok := r.blocks[op.BlockID]; !ok {
			r.blocks[op.BlockID] = newBlock(op.BlockID, op.Flavor)
			r.updated[op.BlockID] = &updatedMeta{}
		}
		r.touch(op.BlockID, op.Clock, op.ClientID, now)
	case OpRemoveBlock:
		delete(r.blocks, op.BlockID)
		delete(r.updated, op.BlockID)
	case OpSetField:
		if b, ok := r.blocks[op.BlockID]; ok {
			b.setField(op.Field, op.Value, op.Clock, op.ClientID)
			r.touch(op.BlockID, op.Clock, op.ClientID, now)
		}
	case OpInsertChild:
		if b, ok := r.blocks[op.BlockID]; ok {
			b.children.Apply(op.ChildNode)
			r.touch(op.BlockID, op.Clock, op.ClientID, now)
		}
	case OpRemoveChild:
		if b, ok := r.blocks[op.BlockID]; ok {
			b.children.Apply(op.ChildNode)
			r.touch(op.BlockID, op.Clock, op.ClientID, now)
		}
	default:
		panic(fmt.Sprintf("crdt: unreachable op kind %d", op.Kind))
	}
	r.bumpStateVector(op.ClientID, op.Clock)
}

func (r *Replica) touch(blockID string, clock uint64, clientID string, now time.Time) {
	if m, ok := r.updated[blockID]; ok {
		m.touch(clock, clientID, now)
	}
}

func (r *Replica) bumpStateVector(clientID string, clock uint64) {
	if clock > r.sv[clientID] {
		r.sv[clientID] = clock
	}
}

// EncodeStateAsUpdate returns the bytes needed to bring a peer at state
// vector sv up to the local state. An empty sv yields a full snapshot.
func (r *Replica) EncodeStateAsUpdate(sv VClock) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var diff []Op
	for _, op := range r.opLog {
		if op.Clock > sv.Get(op.ClientID) {
			diff = append(diff, op)
		}
	}
	return encodeOps(diff)
}

// Snapshot returns a full encoded snapshot, equivalent to
// EncodeStateAsUpdate(VClock{}).
func (r *Replica) Snapshot() ([]byte, error) {
	return r.EncodeStateAsUpdate(VClock{})
}

// ApplyUpdate merges a peer's update with no particular connector behind
// it (e.g. replaying updates loaded from storage). See ApplyUpdateFrom.
func (r *Replica) ApplyUpdate(data []byte) error {
	return r.ApplyUpdateFrom(data, "")
}

// ApplyUpdateFrom merges a peer's update, attributing the resulting doc
// observer dispatch to origin. Fails with ErrMalformedUpdate on decode
// error. Applying the same update twice is a no-op: each op's
// (ClientID, Clock) is checked against the state vector before applying.
func (r *Replica) ApplyUpdateFrom(data []byte, origin string) error {
	ops, err := decodeOps(data)
	if err != nil {
		return err
	}
	if atomic.LoadInt32(&r.dispatching) == 1 {
		panic("crdt: Transact/ApplyUpdate called reentrantly from an observer callback")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var applied []Op
	for _, op := range ops {
		if op.Clock <= r.sv.Get(op.ClientID) {
			continue
		}
		r.applyOp(op, now)
		applied = append(applied, op)
	}
	if len(applied) == 0 {
		return nil
	}
	r.opLog = append(r.opLog, applied...)
	update, err := encodeOps(applied)
	if err != nil {
		return err
	}
	r.dispatchDoc(update, origin)
	return nil
}

// BuildInitMessage returns the frames a server sends a newly-negotiated
// client: its state vector (so the client can compute what it's missing)
// followed by the full awareness state (spec §4.1).
func (r *Replica) BuildInitMessage() ([]Frame, error) {
	r.mu.Lock()
	sv := r.sv.Clone()
	r.mu.Unlock()
	full, err := r.fullAwareness()
	if err != nil {
		return nil, err
	}
	return []Frame{SyncStep1{StateVector: sv}, AwarenessUpdate{Update: full}}, nil
}

// HandleMessage implements the two-phase sync protocol table in spec
// §4.1, returning an optional reply frame. origin identifies the
// connector the frame arrived on, so doc/awareness observers can
// attribute the resulting dispatch back to it (e.g. to skip echoing the
// change back to its own sender).
func (r *Replica) HandleMessage(f Frame, origin string) (Frame, error) {
	switch m := f.(type) {
	case SyncStep1:
		diff, err := r.EncodeStateAsUpdate(m.StateVector)
		if err != nil {
			return nil, err
		}
		return SyncStep2{Update: diff}, nil
	case SyncStep2:
		return nil, r.ApplyUpdateFrom(m.Update, origin)
	case Update:
		return nil, r.ApplyUpdateFrom(m.Update, origin)
	case AwarenessQuery:
		full, err := r.fullAwareness()
		if err != nil {
			return nil, err
		}
		return AwarenessUpdate{Update: full}, nil
	case AwarenessUpdate:
		return nil, r.mergeAwareness(m.Update, origin)
	default:
		panic(fmt.Sprintf("crdt: unreachable frame variant %T", f))
	}
}

// SetAwareness records clientID's presence payload as a local change and
// notifies awareness observers. No connector originates this call, so
// observers see an empty origin.
func (r *Replica) SetAwareness(clientID string, data []byte) {
	r.awMu.Lock()
	added := r.awareness.Update(clientID, data)
	r.awMu.Unlock()

	if added {
		r.dispatchAwareness([]string{clientID}, nil, nil, "")
	} else {
		r.dispatchAwareness(nil, []string{clientID}, nil, "")
	}
}

// RemoveAwareness clears clientID's presence, e.g. on disconnect.
func (r *Replica) RemoveAwareness(clientID string) {
	r.awMu.Lock()
	existed := r.awareness.Remove(clientID)
	r.awMu.Unlock()
	if existed {
		r.dispatchAwareness(nil, nil, []string{clientID}, "")
	}
}

func (r *Replica) mergeAwareness(data []byte, origin string) error {
	w, err := decodeAwareness(data)
	if err != nil {
		return err
	}
	var added, updated, removed []string
	r.awMu.Lock()
	for _, e := range w.Present {
		if r.awareness.Update(e.ClientID, e.Data) {
			added = append(added, e.ClientID)
		} else {
			updated = append(updated, e.ClientID)
		}
	}
	for _, id := range w.Removed {
		if r.awareness.Remove(id) {
			removed = append(removed, id)
		}
	}
	r.awMu.Unlock()

	if len(added)+len(updated)+len(removed) > 0 {
		r.dispatchAwareness(added, updated, removed, origin)
	}
	return nil
}

func (r *Replica) fullAwareness() ([]byte, error) {
	r.awMu.Lock()
	var w awarenessWire
	for _, id := range r.awareness.ClientIDs() {
		data, _ := r.awareness.Data(id)
		w.Present = append(w.Present, awarenessEntryWire{ClientID: id, Data: data})
	}
	r.awMu.Unlock()
	return encodeAwareness(w)
}

// EncodeAwarenessDelta materializes the outbound bytes for an
// (added, updated, removed) transition, for the Subscription Bridge to
// dedup and publish (spec §4.4).
func (r *Replica) EncodeAwarenessDelta(added, updated, removed []string) ([]byte, error) {
	r.awMu.Lock()
	var w awarenessWire
	for _, id := range added {
		if data, ok := r.awareness.Data(id); ok {
			w.Present = append(w.Present, awarenessEntryWire{ClientID: id, Data: data})
		}
	}
	for _, id := range updated {
		if data, ok := r.awareness.Data(id); ok {
			w.Present = append(w.Present, awarenessEntryWire{ClientID: id, Data: data})
		}
	}
	w.Removed = removed
	r.awMu.Unlock()
	return encodeAwareness(w)
}

// ObserveDoc registers cb to run after each committed transaction.
// Unsubscribing the returned Subscription stops future delivery.
func (r *Replica) ObserveDoc(cb DocObserver) *Subscription {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.docObservers[id] = cb
	return &Subscription{cancel: func() {
		r.obsMu.Lock()
		delete(r.docObservers, id)
		r.obsMu.Unlock()
	}}
}

// ObserveAwareness registers cb to run after each awareness change.
func (r *Replica) ObserveAwareness(cb AwarenessObserver) *Subscription {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	id := r.nextSubID
	r.nextSubID++
	r.awarenessObservers[id] = cb
	return &Subscription{cancel: func() {
		r.obsMu.Lock()
		delete(r.awarenessObservers, id)
		r.obsMu.Unlock()
	}}
}

func (r *Replica) dispatchDoc(update []byte, origin string) {
	r.obsMu.Lock()
	cbs := make([]DocObserver, 0, len(r.docObservers))
	for _, cb := range r.docObservers {
		cbs = append(cbs, cb)
	}
	r.obsMu.Unlock()

	atomic.StoreInt32(&r.dispatching, 1)
	defer atomic.StoreInt32(&r.dispatching, 0)
	for _, cb := range cbs {
		cb(update, origin)
	}
}

func (r *Replica) dispatchAwareness(added, updated, removed []string, origin string) {
	r.obsMu.Lock()
	cbs := make([]AwarenessObserver, 0, len(r.awarenessObservers))
	for _, cb := range r.awarenessObservers {
		cbs = append(cbs, cb)
	}
	r.obsMu.Unlock()

	atomic.StoreInt32(&r.dispatching, 1)
	defer atomic.StoreInt32(&r.dispatching, 0)
	for _, cb := range cbs {
		cb(added, updated, removed, origin)
	}
}
