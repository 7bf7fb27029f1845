package guard

import (
	"fmt"
	"sync/atomic"
)

// tierCount is the number of detection tiers.
const tierCount = 3

// TierCounters aggregates process-lifetime detection counters. All
// mutation is via atomic increments; Snapshot never observes a torn
// numerator/denominator pair because derived ratios are computed from
// one snapshot, not from live counters.
type TierCounters struct {
	totalRequests atomic.Uint64
	cacheHits     atomic.Uint64
	rejected      atomic.Uint64

	invocations [tierCount]atomic.Uint64
	completions [tierCount]atomic.Uint64
	timeouts    [tierCount]atomic.Uint64
	errored     [tierCount]atomic.Uint64
	adopted     [tierCount]atomic.Uint64
}

// NewTierCounters creates a zeroed counter set. Inject a fresh instance
// per test for isolation; there is no package-level aggregate.
func NewTierCounters() *TierCounters {
	return &TierCounters{}
}

func tierIndex(tier int) (int, bool) {
	if tier < 1 || tier > tierCount {
		return 0, false
	}
	return tier - 1, true
}

// RecordRequest counts one evaluate call.
func (c *TierCounters) RecordRequest() { c.totalRequests.Add(1) }

// RecordCacheHit counts a request served from the decision cache.
func (c *TierCounters) RecordCacheHit() { c.cacheHits.Add(1) }

// RecordRejected counts a request refused by input validation.
func (c *TierCounters) RecordRejected() { c.rejected.Add(1) }

// RecordAttempt counts one tier invocation and its terminal status.
func (c *TierCounters) RecordAttempt(outcome TierOutcome) {
	i, ok := tierIndex(outcome.Tier)
	if !ok {
		return
	}
	c.invocations[i].Add(1)
	switch outcome.Status {
	case StatusCompleted, StatusSkippedPathological:
		c.completions[i].Add(1)
	case StatusTimedOut:
		c.timeouts[i].Add(1)
	case StatusErrored:
		c.errored[i].Add(1)
	}
}

// RecordAdopted tallies which tier's outcome was ultimately used.
func (c *TierCounters) RecordAdopted(tier int) {
	if i, ok := tierIndex(tier); ok {
		c.adopted[i].Add(1)
	}
}

// Reset zeroes every counter.
func (c *TierCounters) Reset() {
	c.totalRequests.Store(0)
	c.cacheHits.Store(0)
	c.rejected.Store(0)
	for i := 0; i < tierCount; i++ {
		c.invocations[i].Store(0)
		c.completions[i].Store(0)
		c.timeouts[i].Store(0)
		c.errored[i].Store(0)
		c.adopted[i].Store(0)
	}
}

// TierSnapshot is the per-tier view inside a StatsSnapshot.
type TierSnapshot struct {
	Invocations  uint64  `json:"invocations"`
	Completions  uint64  `json:"completions"`
	Timeouts     uint64  `json:"timeouts"`
	Errors       uint64  `json:"errors"`
	Adopted      uint64  `json:"adopted"`
	AdoptedShare float64 `json:"adopted_share"`
}

// StatsSnapshot is a point-in-time copy of all counters, safe to read
// while evaluation continues.
type StatsSnapshot struct {
	TotalRequests uint64                 `json:"total_requests"`
	CacheHits     uint64                 `json:"cache_hits"`
	Rejected      uint64                 `json:"rejected"`
	Tiers         [tierCount]TierSnapshot `json:"tiers"`
}

// Snapshot copies all counters and derives per-tier adoption shares.
// Shares are computed over adopted totals so they always sum to ~1.
func (c *TierCounters) Snapshot() StatsSnapshot {
	s := StatsSnapshot{
		TotalRequests: c.totalRequests.Load(),
		CacheHits:     c.cacheHits.Load(),
		Rejected:      c.rejected.Load(),
	}
	var adoptedTotal uint64
	for i := 0; i < tierCount; i++ {
		s.Tiers[i] = TierSnapshot{
			Invocations: c.invocations[i].Load(),
			Completions: c.completions[i].Load(),
			Timeouts:    c.timeouts[i].Load(),
			Errors:      c.errored[i].Load(),
			Adopted:     c.adopted[i].Load(),
		}
		adoptedTotal += s.Tiers[i].Adopted
	}
	if adoptedTotal > 0 {
		for i := 0; i < tierCount; i++ {
			s.Tiers[i].AdoptedShare = float64(s.Tiers[i].Adopted) / float64(adoptedTotal)
		}
	}
	return s
}

// HealthBand configures the acceptable tier distribution around the
// expected "mostly Tier 1" shape (the 95/4/1 reference split).
type HealthBand struct {
	// Tier1Floor is the minimum acceptable Tier 1 adoption share.
	Tier1Floor float64 `yaml:"tier1_floor"`
	// Tier3Ceiling is the maximum acceptable Tier 3 adoption share.
	Tier3Ceiling float64 `yaml:"tier3_ceiling"`
	// MinSamples suppresses health judgments until enough outcomes
	// were adopted to make the shares meaningful.
	MinSamples uint64 `yaml:"min_samples"`
}

// DefaultHealthBand returns the reference band: Tier 1 handling at
// least 80% and Tier 3 at most 5% of adopted outcomes.
func DefaultHealthBand() HealthBand {
	return HealthBand{Tier1Floor: 0.80, Tier3Ceiling: 0.05, MinSamples: 100}
}

// Health is the operator-facing distribution diagnostic. It is a
// signal, not an enforcement decision.
type Health struct {
	Healthy bool   `json:"healthy"`
	Reason  string `json:"reason"`
}

// EvaluateHealth judges a snapshot against the band.
func EvaluateHealth(s StatsSnapshot, band HealthBand) Health {
	var adoptedTotal uint64
	for i := 0; i < tierCount; i++ {
		adoptedTotal += s.Tiers[i].Adopted
	}
	if adoptedTotal < band.MinSamples {
		return Health{Healthy: true, Reason: fmt.Sprintf("insufficient samples (%d < %d)", adoptedTotal, band.MinSamples)}
	}
	if s.Tiers[0].AdoptedShare < band.Tier1Floor {
		return Health{Healthy: false, Reason: fmt.Sprintf(
			"tier 1 share %.2f below floor %.2f; cheap detection is under-terminating", s.Tiers[0].AdoptedShare, band.Tier1Floor)}
	}
	if s.Tiers[2].AdoptedShare > band.Tier3Ceiling {
		return Health{Healthy: false, Reason: fmt.Sprintf(
			"tier 3 share %.2f above ceiling %.2f; too many requests reach deep analysis", s.Tiers[2].AdoptedShare, band.Tier3Ceiling)}
	}
	return Health{Healthy: true, Reason: "tier distribution within expected band"}
}
