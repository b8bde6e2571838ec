package crdt

// FieldRegister is a last-write-wins register used for a single Block
// field. Unlike a wall-clock LWW register, ties are broken on a logical
// (clock, clientID) pair so that merge order never depends on two
// replicas' system clocks agreeing.
type FieldRegister[T any] struct {
	value   T
	clock   uint64
	client  string
	present bool
}

// Set updates the register if (clock, client) dominates the current
// stamp: clock > current clock, or equal clock with a lexicographically
// greater clientID. Returns true if the value changed.
func (r *FieldRegister[T]) Set(val T, clock uint64, client string) bool {
	if r.dominates(clock, client) {
		r.value = val
		r.clock = clock
		r.client = client
		r.present = true
		return true
	}
	return false
}

func (r *FieldRegister[T]) dominates(clock uint64, client string) bool {
	if !r.present {
		return true
	}
	if clock != r.clock {
		return clock > r.clock
	}
	return client > r.client
}

// Get returns the current value, its clock stamp, and whether the
// register has ever been set.
func (r *FieldRegister[T]) Get() (T, uint64, bool) {
	return r.value, r.clock, r.present
}

// Merge pulls in a remote register's state.
func (r *FieldRegister[T]) Merge(other *FieldRegister[T]) bool {
	if !other.present {
		return false
	}
	return r.Set(other.value, other.clock, other.client)
}
