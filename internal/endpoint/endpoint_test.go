package endpoint

import "testing"

func TestLessOrdersByHostThenPort(t *testing.T) {
	a := Endpoint{Host: "10.0.0.1", Port: 9000}
	b := Endpoint{Host: "10.0.0.1", Port: 9001}
	c := Endpoint{Host: "10.0.0.2", Port: 1}

	if !a.Less(b) {
		t.Fatalf("expected %v < %v", a, b)
	}
	if b.Less(a) {
		t.Fatalf("expected %v not < %v", b, a)
	}
	if !b.Less(c) {
		t.Fatalf("expected %v < %v (host dominates)", b, c)
	}
}

func TestSortedIsStableUnderPermutation(t *testing.T) {
	all := []Endpoint{
		{Host: "b", Port: 2},
		{Host: "a", Port: 2},
		{Host: "a", Port: 1},
	}
	got := Sorted(all)
	want := []Endpoint{{Host: "a", Port: 1}, {Host: "a", Port: 2}, {Host: "b", Port: 2}}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
	// Sorted must not mutate its argument.
	if !all[0].Equal(Endpoint{Host: "b", Port: 2}) {
		t.Fatalf("Sorted mutated its input slice")
	}
}

func TestMinPicksSmallestUnderComparator(t *testing.T) {
	all := []Endpoint{{Host: "z", Port: 1}, {Host: "a", Port: 9}, {Host: "a", Port: 2}}
	min := Min(all)
	if !min.Equal(Endpoint{Host: "a", Port: 2}) {
		t.Fatalf("got %v, want {a 2}", min)
	}
}

func TestSuccessorAndPredecessorWrapAround(t *testing.T) {
	all := []Endpoint{
		{Host: "a", Port: 1},
		{Host: "b", Port: 1},
		{Host: "c", Port: 1},
	}
	last := all[2]
	if succ := Successor(all, last); !succ.Equal(all[0]) {
		t.Fatalf("successor of last should wrap to first, got %v", succ)
	}
	first := all[0]
	if pred := Predecessor(all, first); !pred.Equal(all[2]) {
		t.Fatalf("predecessor of first should wrap to last, got %v", pred)
	}
}

func TestContains(t *testing.T) {
	all := []Endpoint{{Host: "a", Port: 1}, {Host: "b", Port: 2}}
	if !Contains(all, Endpoint{Host: "a", Port: 1}) {
		t.Fatalf("expected vector to contain {a 1}")
	}
	if Contains(all, Endpoint{Host: "z", Port: 9}) {
		t.Fatalf("did not expect vector to contain {z 9}")
	}
}

func TestParseRoundTripsWithString(t *testing.T) {
	ep, err := Parse("127.0.0.1:8081")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Host != "127.0.0.1" || ep.Port != 8081 {
		t.Fatalf("got %+v", ep)
	}
	if ep.String() != "127.0.0.1:8081" {
		t.Fatalf("got %q", ep.String())
	}
}

func TestParseRejectsMissingPort(t *testing.T) {
	if _, err := Parse("127.0.0.1"); err == nil {
		t.Fatalf("expected an error for a portless address")
	}
}

func TestIsZero(t *testing.T) {
	var zero Endpoint
	if !zero.IsZero() {
		t.Fatalf("expected the zero value to report IsZero")
	}
	if (Endpoint{Host: "a"}).IsZero() {
		t.Fatalf("a non-empty host should not be zero")
	}
}
