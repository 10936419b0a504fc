package segment

import (
	"fmt"
	"math"
	"testing"
)

var names = []string{"Alice", "Bob", "Charlie", "Diana"}

func makeEntries(n int) []string {
	entries := make([]string, n)
	for i := range entries {
		entries[i] = fmt.Sprintf("entry-%d", i)
	}
	return entries
}

func TestSegmentsForPartitionsCircle(t *testing.T) {
	for n := 1; n <= 64; n++ {
		segments := SegmentsFor(makeEntries(n))
		if len(segments) != n {
			t.Fatalf("SegmentsFor(%d entries) returned %d segments", n, len(segments))
		}
		if segments[0].Start != 0 {
			t.Errorf("n=%d: first segment starts at %v, want 0", n, segments[0].Start)
		}
		if segments[n-1].End != FullTurn {
			t.Errorf("n=%d: last segment ends at %v, want %v", n, segments[n-1].End, FullTurn)
		}
		w := FullTurn / float64(n)
		for i, s := range segments {
			if s.Index != i {
				t.Errorf("n=%d: segment %d has index %d", n, i, s.Index)
			}
			if math.Abs((s.End-s.Start)-w) > 1e-9 {
				t.Errorf("n=%d: segment %d width %v, want %v", n, i, s.End-s.Start, w)
			}
			if i > 0 && segments[i-1].End != s.Start {
				t.Errorf("n=%d: gap or overlap between %d and %d: %v != %v", n, i-1, i, segments[i-1].End, s.Start)
			}
		}
	}
}

func TestSegmentsForEmpty(t *testing.T) {
	if got := SegmentsFor(nil); len(got) != 0 {
		t.Errorf("SegmentsFor(nil) = %v, want empty", got)
	}
	if got := SegmentsFor([]string{}); len(got) != 0 {
		t.Errorf("SegmentsFor([]) = %v, want empty", got)
	}
}

func TestSegmentsForKeepsOrderAndDuplicates(t *testing.T) {
	entries := []string{"x", "y", "x"}
	segments := SegmentsFor(entries)
	for i, s := range segments {
		if s.Label != entries[i] {
			t.Errorf("segment %d label = %q, want %q", i, s.Label, entries[i])
		}
	}
}

func TestResolveWinner(t *testing.T) {
	tests := []struct {
		name     string
		rotation float64
		want     int
	}{
		{name: "zero rotation lands on first entry", rotation: 0, want: 0},
		{name: "quarter turn lands on last entry", rotation: math.Pi / 2, want: 3},
		{name: "half turn", rotation: math.Pi, want: 2},
		{name: "three quarter turn", rotation: 3 * math.Pi / 2, want: 1},
		{name: "just under a full turn", rotation: math.Nextafter(FullTurn, 0), want: 0},
		{name: "full turn", rotation: FullTurn, want: 0},
		{name: "mid segment after many turns", rotation: 7*FullTurn + 0.6*math.Pi, want: 2},
		{name: "just past zero", rotation: 1e-12, want: 3},
		{name: "negative rotation", rotation: -math.Pi / 4, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveWinner(names, tt.rotation)
			if got != tt.want {
				t.Errorf("ResolveWinner(%v) = %d (%s), want %d (%s)", tt.rotation, got, names[got], tt.want, names[tt.want])
			}
		})
	}
}

func TestResolveWinnerAlwaysInRange(t *testing.T) {
	for n := 1; n <= 13; n++ {
		entries := makeEntries(n)
		for i := 0; i <= 10000; i++ {
			r := FullTurn * float64(i) / 10000
			got := ResolveWinner(entries, r)
			if got < 0 || got >= n {
				t.Fatalf("ResolveWinner(n=%d, %v) = %d, out of range", n, r, got)
			}
		}
		if got := ResolveWinner(entries, math.Nextafter(FullTurn, 0)); got < 0 || got >= n {
			t.Fatalf("ResolveWinner(n=%d, 2pi-ulp) = %d, out of range", n, got)
		}
	}
}

func TestResolveWinnerIsDeterministic(t *testing.T) {
	for _, r := range []float64{0, 0.1, 1, 2.5, 4, 6, 100.25} {
		a := ResolveWinner(names, r)
		b := ResolveWinner(names, r)
		if a != b {
			t.Errorf("ResolveWinner(%v) returned %d then %d", r, a, b)
		}
	}
}

func TestResolveWinnerMatchesSegments(t *testing.T) {
	entries := makeEntries(7)
	segments := SegmentsFor(entries)
	for i := 0; i < 1000; i++ {
		r := FullTurn * (float64(i) + 0.5) / 1000
		idx := ResolveWinner(entries, r)
		pointer := Normalize(r)
		s := segments[idx]
		if pointer < s.Start || pointer >= s.End {
			t.Errorf("rotation %v: pointer at %v outside winning segment %d [%v, %v)", r, pointer, idx, s.Start, s.End)
		}
	}
}
