package guard

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxTextLength is the absolute input size bound. Anything longer is
// refused before the tier pipeline so oversized input cannot consume
// tier budget.
const maxTextLength = 10000

// TowerConfig holds the orchestration knobs of the ControlTower.
type TowerConfig struct {
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	HealthBand HealthBand    `yaml:"health_band"`
}

// DefaultTowerConfig returns the reference configuration: verdicts
// cached for an hour, reference health band.
func DefaultTowerConfig() TowerConfig {
	return TowerConfig{
		CacheTTL:   time.Hour,
		HealthBand: DefaultHealthBand(),
	}
}

// ControlTower is the top-level facade: fingerprint, cache lookup,
// tier routing on miss, policy resolution, stats recording. It is the
// only component that knows all the others.
type ControlTower struct {
	cfg         TowerConfig
	fingerprint *Fingerprinter
	cache       DecisionCache
	router      *TierRouter
	engine      *PolicyEngine
	policies    *PolicyHolder
	stats       *TierCounters
	audit       AuditSink
	log         *zap.Logger
}

// NewControlTower wires the core together. cache and audit may be nil
// (no caching / no audit trail); everything else is required.
func NewControlTower(
	cfg TowerConfig,
	fp *Fingerprinter,
	cache DecisionCache,
	router *TierRouter,
	policies *PolicyHolder,
	stats *TierCounters,
	audit AuditSink,
	log *zap.Logger,
) *ControlTower {
	if log == nil {
		log = zap.NewNop()
	}
	return &ControlTower{
		cfg:         cfg,
		fingerprint: fp,
		cache:       cache,
		router:      router,
		engine:      NewPolicyEngine(),
		policies:    policies,
		stats:       stats,
		audit:       audit,
		log:         log,
	}
}

// Evaluate runs the full decision pipeline for one request. It always
// produces a concrete (Verdict, Action) pair for business-logic
// outcomes; the only returned error is the caller's own context
// cancellation, in which case no partial verdict is cached.
func (t *ControlTower) Evaluate(ctx context.Context, req DetectionRequest) (Verdict, Action, error) {
	t.stats.RecordRequest()
	policy := t.policies.Load()

	// Input validation happens before fingerprinting so malformed
	// requests never touch the cache or tier budgets.
	if rejected, ok := t.validate(req); ok {
		t.stats.RecordRejected()
		v, action := t.engine.Resolve(rejected, policy)
		return v, action, nil
	}

	fp := t.fingerprint.Fingerprint(req)

	if t.cache != nil {
		if cached, ok := t.cache.Get(ctx, fp); ok {
			t.stats.RecordCacheHit()
			// Only the detection outcome is cached; the action is
			// recomputed so a policy swap applies to hits immediately.
			action := t.engine.ResolveCached(cached, policy)
			return cached, action, nil
		}
	}

	outcome, attempts := t.router.Route(ctx, req.Text, req.Context)
	for _, a := range attempts {
		t.stats.RecordAttempt(a)
	}

	if err := ctx.Err(); err != nil {
		// Cancelled mid-cascade: discard partial results, cache nothing.
		return Verdict{}, ActionAllow, err
	}

	t.stats.RecordAdopted(outcome.Tier)
	verdict, action := t.engine.Resolve(outcome, policy)

	if t.cache != nil {
		t.cache.Put(ctx, fp, verdict, t.cfg.CacheTTL)
	}
	if t.audit != nil {
		t.audit.Record(ctx, fp, verdict, action)
	}

	t.log.Debug("request evaluated",
		zap.String("fingerprint", string(fp)),
		zap.Int("tier_used", verdict.TierUsed),
		zap.String("class", string(verdict.Class)),
		zap.String("severity", string(verdict.Severity)),
		zap.String("action", string(action)),
		zap.Duration("elapsed", outcome.Elapsed))

	return verdict, action, nil
}

// validate refuses empty and oversized input before the pipeline.
// Empty text resolves to an ALLOW-with-diagnostic rejected outcome;
// oversized text fails closed as pathological.
func (t *ControlTower) validate(req DetectionRequest) (TierOutcome, bool) {
	trimmed := strings.TrimSpace(req.Text)
	if trimmed == "" {
		return TierOutcome{
			Status:      StatusRejected,
			Confidence:  0,
			Explanation: "empty input; nothing to analyze",
		}, true
	}
	if len(req.Text) > maxTextLength {
		return TierOutcome{
			Status:      StatusSkippedPathological,
			Class:       ClassPromptInjection,
			Confidence:  0.85,
			Explanation: "input exceeds maximum length; refusing analysis",
		}, true
	}
	return TierOutcome{}, false
}

// SetPolicy atomically installs a new policy. In-flight requests keep
// the snapshot they already loaded.
func (t *ControlTower) SetPolicy(p *Policy) error {
	return t.policies.Swap(p)
}

// Policy returns the active policy snapshot.
func (t *ControlTower) Policy() *Policy {
	return t.policies.Load()
}

// Stats returns a point-in-time counter snapshot, safe under
// concurrent evaluation.
func (t *ControlTower) Stats() StatsSnapshot {
	return t.stats.Snapshot()
}

// ResetStats zeroes all counters.
func (t *ControlTower) ResetStats() {
	t.stats.Reset()
}

// Health judges the observed tier distribution against the configured
// band. Diagnostic only; never feeds enforcement.
func (t *ControlTower) Health() Health {
	return EvaluateHealth(t.stats.Snapshot(), t.cfg.HealthBand)
}
