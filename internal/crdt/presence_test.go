package crdt

import "testing"

func TestPresenceSetUpdateReportsAddedVsUpdated(t *testing.T) {
	s := NewPresenceSet()
	if added := s.Update("c1", []byte("a")); !added {
		t.Fatal("first Update should report added")
	}
	if added := s.Update("c1", []byte("b")); added {
		t.Fatal("second Update should report updated, not added")
	}
	data, ok := s.Data("c1")
	if !ok || string(data) != "b" {
		t.Fatalf("expected latest payload b, got %q ok=%v", data, ok)
	}
}

func TestPresenceSetRemove(t *testing.T) {
	s := NewPresenceSet()
	s.Update("c1", nil)
	if !s.Remove("c1") {
		t.Fatal("Remove should report the client existed")
	}
	if s.Contains("c1") {
		t.Fatal("client should no longer be present")
	}
	if s.Remove("c1") {
		t.Fatal("second Remove should report false")
	}
}

func TestPresenceSetMergeConcurrentAddBeatsRemove(t *testing.T) {
	a := NewPresenceSet()
	a.Update("c1", []byte("a"))

	b := NewPresenceSet()
	b.Update("c1", []byte("a"))
	b.Remove("c1")

	a.Merge(b)
	if !a.Contains("c1") {
		t.Fatal("concurrent add must survive a concurrent remove in an OR-Set")
	}
}
