package crdt

import "testing"

func TestFieldRegisterSetHigherClockWins(t *testing.T) {
	r := &FieldRegister[string]{}
	r.Set("a", 1, "client-1")
	r.Set("b", 2, "client-2")

	val, clock, ok := r.Get()
	if !ok || val != "b" || clock != 2 {
		t.Fatalf("expected b@2, got %v@%d ok=%v", val, clock, ok)
	}
}

func TestFieldRegisterSetStaleClockLoses(t *testing.T) {
	r := &FieldRegister[string]{}
	r.Set("b", 5, "client-2")
	r.Set("a", 1, "client-1")

	val, _, _ := r.Get()
	if val != "b" {
		t.Fatalf("stale write must not win, got %v", val)
	}
}

func TestFieldRegisterTieBreaksOnClientID(t *testing.T) {
	r := &FieldRegister[string]{}
	r.Set("from-a", 3, "a")
	r.Set("from-z", 3, "z")

	val, _, _ := r.Get()
	if val != "from-z" {
		t.Fatalf("expected higher client id to win tie, got %v", val)
	}
}

func TestFieldRegisterMergeIsCommutative(t *testing.T) {
	r1 := &FieldRegister[string]{}
	r1.Set("x", 1, "a")
	r2 := &FieldRegister[string]{}
	r2.Set("y", 2, "b")

	merged1 := &FieldRegister[string]{}
	merged1.Set("x", 1, "a")
	merged1.Merge(r2)

	merged2 := &FieldRegister[string]{}
	merged2.Set("y", 2, "b")
	merged2.Merge(r1)

	v1, _, _ := merged1.Get()
	v2, _, _ := merged2.Get()
	if v1 != v2 {
		t.Fatalf("merge must converge regardless of order: %v vs %v", v1, v2)
	}
}
