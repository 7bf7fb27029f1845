package guard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RouterConfig holds per-tier budgets and the confidence thresholds
// driving escalation. Budgets are configuration, not hardcoded; the
// defaults reflect the reference magnitudes (milliseconds for pattern
// matching, tens-to-hundreds of milliseconds for semantic scoring,
// seconds for reasoning).
type RouterConfig struct {
	Tier1Budget time.Duration `yaml:"tier1_budget"`
	Tier2Budget time.Duration `yaml:"tier2_budget"`
	Tier3Budget time.Duration `yaml:"tier3_budget"`

	// HardDeadlineGrace is added to each tier's budget to form the hard
	// external deadline. The collaborator's cooperative budget is the
	// contract; the hard deadline is the backstop for misbehavior.
	HardDeadlineGrace time.Duration `yaml:"hard_deadline_grace"`

	// Tier1HighThreshold: confidence >= this is a confident violation,
	// terminate. Tier1LowThreshold: confidence <= this is a confident
	// non-violation, terminate. Between the two is the ambiguous band
	// that escalates. Boundary values resolve toward termination.
	Tier1HighThreshold float64 `yaml:"tier1_high_threshold"`
	Tier1LowThreshold  float64 `yaml:"tier1_low_threshold"`
	Tier2HighThreshold float64 `yaml:"tier2_high_threshold"`
	Tier2LowThreshold  float64 `yaml:"tier2_low_threshold"`
}

// DefaultRouterConfig returns the reference configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Tier1Budget:        5 * time.Millisecond,
		Tier2Budget:        150 * time.Millisecond,
		Tier3Budget:        3 * time.Second,
		HardDeadlineGrace:  50 * time.Millisecond,
		Tier1HighThreshold: 0.80,
		Tier1LowThreshold:  0.20,
		Tier2HighThreshold: 0.75,
		Tier2LowThreshold:  0.25,
	}
}

// budget returns the cooperative budget for a tier.
func (c RouterConfig) budget(tier int) time.Duration {
	switch tier {
	case 1:
		return c.Tier1Budget
	case 2:
		return c.Tier2Budget
	default:
		return c.Tier3Budget
	}
}

// routerState is the per-request escalation state machine position.
type routerState int

const (
	stateTier1 routerState = iota + 1
	stateTier2
	stateTier3
	stateDone
)

// TierRouter owns the escalation algorithm: from a tier's outcome it
// decides whether to stop or escalate, enforces hard deadlines, and
// converts collaborator panics into errored outcomes. Escalation never
// revisits an earlier tier.
type TierRouter struct {
	cfg       RouterConfig
	detectors [tierCount]TierDetector
	log       *zap.Logger
}

// NewTierRouter builds a router over the three tier collaborators.
// A nil detector for a tier is treated as permanently errored for that
// tier (degraded deployment without, say, a reasoning backend).
func NewTierRouter(cfg RouterConfig, tier1, tier2, tier3 TierDetector, log *zap.Logger) *TierRouter {
	if log == nil {
		log = zap.NewNop()
	}
	return &TierRouter{
		cfg:       cfg,
		detectors: [tierCount]TierDetector{tier1, tier2, tier3},
		log:       log,
	}
}

// Route runs the cascade for one request and returns the adopted
// terminal outcome plus every tier attempt made (for stats recording).
// It never returns an error: collaborator failures degrade to
// escalation or a fail-closed terminal outcome. The returned outcome's
// Tier field is the tier whose result was adopted.
func (r *TierRouter) Route(ctx context.Context, text string, reqCtx map[string]string) (TierOutcome, []TierOutcome) {
	attempts := make([]TierOutcome, 0, tierCount)
	state := stateTier1

	for state != stateDone {
		tier := int(state)
		outcome := r.invoke(ctx, tier, text, reqCtx)
		attempts = append(attempts, outcome)

		// A pathological skip is already a high-confidence decision;
		// never burn further tier budgets on adversarial input.
		if outcome.Status == StatusSkippedPathological {
			return outcome, attempts
		}

		switch state {
		case stateTier1, stateTier2:
			if r.terminal(tier, outcome) {
				return outcome, attempts
			}
			state++
		case stateTier3:
			return r.adoptTier3(outcome, attempts), attempts
		}

		if ctx.Err() != nil {
			// Caller cancelled mid-cascade; produce a terminal outcome
			// so the tower can discard it without caching.
			out := TierOutcome{
				Tier:          tier,
				Status:        StatusErrored,
				Indeterminate: true,
				Explanation:   "request cancelled before a terminal tier outcome",
			}
			return out, attempts
		}
	}

	// Unreachable; the loop always returns from a terminal state.
	return TierOutcome{Tier: 3, Status: StatusErrored, Indeterminate: true}, attempts
}

// terminal applies the threshold logic for tiers 1 and 2. A non-completed
// status is always ambiguous (escalate); completed outcomes terminate
// when confidence leaves the ambiguous band, with boundary values
// resolving toward termination to bound tail latency.
func (r *TierRouter) terminal(tier int, o TierOutcome) bool {
	if o.Status != StatusCompleted {
		return false
	}
	var high, low float64
	if tier == 1 {
		high, low = r.cfg.Tier1HighThreshold, r.cfg.Tier1LowThreshold
	} else {
		high, low = r.cfg.Tier2HighThreshold, r.cfg.Tier2LowThreshold
	}
	return o.Confidence >= high || o.Confidence <= low
}

// adoptTier3 finalizes the cascade. Tier 3 is terminal whatever it
// returns; on timeout or error the adopted outcome fails closed via the
// indeterminate flag, which the policy engine maps to the configured
// conservative action rather than silently allowing.
func (r *TierRouter) adoptTier3(o TierOutcome, attempts []TierOutcome) TierOutcome {
	if o.Status == StatusCompleted {
		return o
	}
	r.log.Warn("tier 3 failed; adopting fail-closed outcome",
		zap.String("status", string(o.Status)),
		zap.Int("attempts", len(attempts)))
	return TierOutcome{
		Tier:          3,
		Status:        o.Status,
		Elapsed:       o.Elapsed,
		Indeterminate: true,
		Explanation:   fmt.Sprintf("tier 3 %s; no tier produced a decision", o.Status),
	}
}

// invoke runs one tier under its hard deadline. The collaborator gets
// a context cancelled at budget+grace; if it fails to return by then
// its eventual result is abandoned and the attempt is recorded as
// timed out. On some backends cancellation cannot physically stop
// computation already in flight; the deadline only prevents consuming
// the result.
func (r *TierRouter) invoke(ctx context.Context, tier int, text string, reqCtx map[string]string) TierOutcome {
	det := r.detectors[tier-1]
	if det == nil {
		return TierOutcome{
			Tier:        tier,
			Status:      StatusErrored,
			Explanation: fmt.Sprintf("tier %d detector not configured", tier),
		}
	}

	budget := r.cfg.budget(tier)
	hard := budget + r.cfg.HardDeadlineGrace
	tierCtx, cancel := context.WithTimeout(ctx, hard)
	defer cancel()

	start := time.Now()
	done := make(chan TierOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- TierOutcome{
					Tier:        tier,
					Status:      StatusErrored,
					Elapsed:     time.Since(start),
					Explanation: fmt.Sprintf("tier %d panicked: %v", tier, rec),
				}
			}
		}()
		done <- det.Evaluate(tierCtx, text, reqCtx, budget)
	}()

	select {
	case o := <-done:
		o.Tier = tier
		if o.Elapsed == 0 {
			o.Elapsed = time.Since(start)
		}
		if o.Status == StatusErrored {
			r.log.Debug("tier errored", zap.Int("tier", tier), zap.String("explanation", o.Explanation))
		}
		return o
	case <-tierCtx.Done():
		r.log.Warn("tier exceeded hard deadline, abandoning call",
			zap.Int("tier", tier),
			zap.Duration("budget", budget),
			zap.Duration("hard_deadline", hard))
		return TierOutcome{
			Tier:        tier,
			Status:      StatusTimedOut,
			Elapsed:     time.Since(start),
			Explanation: fmt.Sprintf("tier %d exceeded hard deadline of %s", tier, hard),
		}
	}
}
