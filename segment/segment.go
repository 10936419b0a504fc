// Package segment maps an ordered list of entries onto equal arcs of a circle
// and maps a stopping rotation back to the entry under the pointer.
//
// Everything here is stateless.  Segments are recomputed from the entry list
// whenever they are needed, so there is nothing to invalidate when the list
// changes.
package segment

import (
	"math"
)

// FullTurn is one full rotation in radians.
const FullTurn = 2 * math.Pi

// Segment is the arc [Start, End) assigned to the entry at Index.
type Segment struct {
	Index int
	Label string
	Start float64
	End   float64
}

// Width returns the angular width of each of n segments.  It returns 0 for
// n <= 0.
func Width(n int) float64 {
	if n <= 0 {
		return 0
	}
	return FullTurn / float64(n)
}

// SegmentsFor divides the circle into len(entries) equal arcs in list order.
// An empty list yields an empty (nil) result.
func SegmentsFor(entries []string) []Segment {
	n := len(entries)
	if n == 0 {
		return nil
	}
	w := Width(n)
	segments := make([]Segment, n)
	for i, label := range entries {
		end := float64(i+1) * w
		if i == n-1 {
			// Pin the last edge so the arcs cover exactly one turn.
			end = FullTurn
		}
		segments[i] = Segment{
			Index: i,
			Label: label,
			Start: float64(i) * w,
			End:   end,
		}
	}
	return segments
}

// Normalize reflects a wheel rotation into the wheel's own angular frame, as
// seen by the fixed pointer.  The result is in [0, FullTurn).
func Normalize(rotation float64) float64 {
	r := math.Mod(rotation, FullTurn)
	if r < 0 {
		r += FullTurn
	}
	n := math.Mod(FullTurn-r, FullTurn)
	if n < 0 || n >= FullTurn {
		return 0
	}
	return n
}

// ResolveWinner returns the index of the entry under the pointer when the
// wheel has stopped at rotation.  The caller must not pass an empty list.
func ResolveWinner(entries []string, rotation float64) int {
	n := len(entries)
	idx := int(math.Floor(Normalize(rotation) / Width(n)))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}
