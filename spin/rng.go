package spin

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// RandomSource yields uniform values in [0, 1).
type RandomSource interface {
	Float64() float64
}

type cryptoSource struct{}

// Float64 takes the top 53 bits of a crypto/rand word.  If the system source
// fails we fall back to math/rand rather than stall a spin.
func (cryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return rand.Float64()
	}
	u := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(u) / (1 << 53)
}

// DefaultRandomSource is what production spins use.
func DefaultRandomSource() RandomSource { return cryptoSource{} }

type seededSource struct {
	r *rand.Rand
}

// NewSeededSource returns a replayable source, for simulations and tests.
func NewSeededSource(seed uint64) RandomSource {
	return &seededSource{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededSource) Float64() float64 { return s.r.Float64() }
