// Package retention decides which aged-out records survive deletion.
// Aggregation has already locked in the statistics; what remains is a small
// uniform sample of raw detail kept for spot checks and model debugging.
package retention

import (
	"math/rand"
	"time"
)

// Sampler makes independent keep/discard decisions. Each candidate is kept
// with probability Rate (Bernoulli), so the sample needs no second pass and
// no stored candidate set; the expected survivor count is Rate * candidates
// with binomial variance.
type Sampler struct {
	Rate float64
	rng  func() float64
}

// NewSampler creates a sampler keeping roughly the given fraction.
// Rates outside [0, 1] are clamped.
func NewSampler(rate float64) *Sampler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Sampler{Rate: rate, rng: r.Float64}
}

// NewSeededSampler creates a deterministic sampler for tests.
func NewSeededSampler(rate float64, seed int64) *Sampler {
	s := NewSampler(rate)
	r := rand.New(rand.NewSource(seed))
	s.rng = r.Float64
	return s
}

// Keep decides one candidate.
func (s *Sampler) Keep() bool {
	if s.Rate <= 0 {
		return false
	}
	if s.Rate >= 1 {
		return true
	}
	return s.rng() < s.Rate
}
