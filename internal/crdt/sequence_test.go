package crdt

import (
	"reflect"
	"testing"
)

func TestSequenceInsertAtHead(t *testing.T) {
	s := NewSequence()
	s.Insert(SeqNodeID{}, "a", "c1")
	s.Insert(SeqNodeID{}, "b", "c1")

	got := s.Values()
	want := []string{"b", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected last-inserted-at-head to lead, got %v", got)
	}
}

func TestSequenceInsertAfterAnchorPreservesOrder(t *testing.T) {
	s := NewSequence()
	n1 := s.Insert(SeqNodeID{}, "a", "c1")
	s.Insert(n1.ID, "b", "c1")

	if got := s.Values(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", got)
	}
}

func TestSequenceConcurrentInsertSameAnchorConverges(t *testing.T) {
	base := NewSequence()
	n1 := base.Insert(SeqNodeID{}, "a", "c1")

	left := &Sequence{index: map[SeqNodeID]int{}}
	left.nodes = append(left.nodes, base.nodes...)
	for i, n := range left.nodes {
		left.index[n.ID] = i
	}
	right := &Sequence{index: map[SeqNodeID]int{}}
	right.nodes = append(right.nodes, base.nodes...)
	for i, n := range right.nodes {
		right.index[n.ID] = i
	}

	nodeFromC2 := SeqNode{ID: SeqNodeID{Seq: 1, ClientID: "c2"}, InsertAfter: n1.ID, Value: "from-c2"}
	nodeFromC3 := SeqNode{ID: SeqNodeID{Seq: 1, ClientID: "c3"}, InsertAfter: n1.ID, Value: "from-c3"}

	// left applies c2 then c3; right applies c3 then c2 — different
	// arrival order, must converge to the same final order.
	left.Apply(nodeFromC2)
	left.Apply(nodeFromC3)
	right.Apply(nodeFromC3)
	right.Apply(nodeFromC2)

	if !reflect.DeepEqual(left.Values(), right.Values()) {
		t.Fatalf("concurrent inserts diverged: left=%v right=%v", left.Values(), right.Values())
	}
}

func TestSequenceDeleteTombstones(t *testing.T) {
	s := NewSequence()
	n := s.Insert(SeqNodeID{}, "a", "c1")
	s.Delete(n.ID)
	if got := s.Values(); len(got) != 0 {
		t.Fatalf("expected deleted node to be hidden, got %v", got)
	}
}

func TestSequenceApplyIsIdempotent(t *testing.T) {
	s := NewSequence()
	n := SeqNode{ID: SeqNodeID{Seq: 1, ClientID: "c1"}, Value: "a"}
	s.Apply(n)
	s.Apply(n)
	if got := s.Values(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("re-applying the same insert must be a no-op, got %v", got)
	}
}

func TestSequenceNodeIDForValue(t *testing.T) {
	s := NewSequence()
	n := s.Insert(SeqNodeID{}, "child-1", "c1")
	id, ok := s.NodeIDForValue("child-1")
	if !ok || id != n.ID {
		t.Fatalf("expected to resolve child-1 to %v, got %v ok=%v", n.ID, id, ok)
	}
	if _, ok := s.NodeIDForValue("missing"); ok {
		t.Fatal("expected missing value to report not found")
	}
}
