package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// Source is the randomness every game draws from.
type Source interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// IntN returns a value in [0, n). It panics if n <= 0.
	IntN(n int) int
}

type cryptoSource struct{}

// Crypto returns a Source backed by crypto/rand.
func Crypto() Source {
	return cryptoSource{}
}

func (cryptoSource) Uint64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("rng: crypto/rand unavailable: " + err.Error())
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (c cryptoSource) Float64() float64 {
	return float64(c.Uint64()>>11) / (1 << 53)
}

func (c cryptoSource) IntN(n int) int {
	if n <= 0 {
		panic("rng: IntN with non-positive n")
	}
	return int(rand.New(c).Uint64N(uint64(n)))
}

type seeded struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeeded returns a deterministic Source. Tests and simulations use it to
// replay the same draws.
func NewSeeded(seed uint64) Source {
	return &seeded{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seeded) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

func (s *seeded) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.IntN(n)
}

// Sequence replays fixed unit values in order and wraps around. IntN maps
// the next value onto [0, n).
type Sequence struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

func NewSequence(values ...float64) *Sequence {
	if len(values) == 0 {
		values = []float64{0}
	}
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}

func (s *Sequence) IntN(n int) int {
	if n <= 0 {
		panic("rng: IntN with non-positive n")
	}
	i := int(s.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Unit draws h uniformly from [0, 1).
func Unit(src Source) float64 {
	return src.Float64()
}

// Direction draws one fair binary choice: 0 is left, 1 is right.
func Direction(src Source) int {
	if src.Float64() < 0.5 {
		return 0
	}
	return 1
}
