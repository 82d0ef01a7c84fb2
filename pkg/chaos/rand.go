package chaos

import "math/rand/v2"

// Rand is the randomness used by the injectors and the traffic shaper.
// *rand.Rand from math/rand/v2 satisfies it; implementations must be safe
// for concurrent use when shared across requests.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// globalRand draws from the math/rand/v2 top-level source, which is
// safe for concurrent use.
type globalRand struct{}

//nolint:gosec // chaos simulation, not security
func (globalRand) Float64() float64 { return rand.Float64() }

//nolint:gosec // chaos simulation, not security
func (globalRand) IntN(n int) int { return rand.IntN(n) }

// roll reports whether an event with probability p happens.
// p <= 0 never fires and p >= 1 always fires.
func roll(rng Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rng.Float64() < p
}
