package spin

import (
	"math"

	"github.com/ts4z/spinwheel/segment"
)

const (
	// MinSpins and MaxSpins bound the number of whole turns in a spin.
	MinSpins = 5
	MaxSpins = 10
)

// EaseOutCubic maps linear progress p in [0, 1] to 1-(1-p)^3: fast start,
// zero velocity at p == 1.  p is clamped.
func EaseOutCubic(p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	q := 1 - p
	return 1 - q*q*q
}

// DrawTarget picks the total rotation for one spin: a uniform number of whole
// turns in [MinSpins, MaxSpins) plus an independent uniform angle in
// [0, 2pi).  The second draw alone decides where the wheel stops.
func DrawTarget(rng RandomSource) float64 {
	spins := MinSpins + rng.Float64()*(MaxSpins-MinSpins)
	finalAngle := rng.Float64() * segment.FullTurn
	return spins*segment.FullTurn + finalAngle
}

// progress returns elapsed/duration clamped to [0, 1].
func progress(elapsed, duration float64) float64 {
	if duration <= 0 {
		return 1
	}
	return math.Min(math.Max(elapsed/duration, 0), 1)
}
