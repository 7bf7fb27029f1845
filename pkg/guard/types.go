// Package guard implements the tiered detection core: fingerprinting,
// decision caching, confidence-routed tier escalation, and policy-driven
// enforcement. Detection collaborators (pattern matcher, semantic scorer,
// reasoning agent) live behind the TierDetector contract and are supplied
// at construction time.
package guard

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action represents an enforcement decision for analyzed content.
type Action string

const (
	// ActionAllow indicates content is safe to deliver
	ActionAllow Action = "ALLOW"
	// ActionWarn indicates content is suspicious but not blocked
	ActionWarn Action = "WARN"
	// ActionBlock indicates content must not be delivered
	ActionBlock Action = "BLOCK"
)

// String returns the string representation of an Action.
func (a Action) String() string {
	return string(a)
}

// Severity classifies the impact of a detected failure, ordered from
// most to least severe. SeverityNone means no violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
)

func (s Severity) String() string {
	return string(s)
}

// FailureClass identifies the risk category of a detected violation.
type FailureClass string

const (
	ClassPromptInjection   FailureClass = "prompt_injection"
	ClassToxicity          FailureClass = "toxicity"
	ClassBias              FailureClass = "bias"
	ClassFabricatedConcept FailureClass = "fabricated_concept"
	ClassFabricatedFact    FailureClass = "fabricated_fact"
	ClassMissingGrounding  FailureClass = "missing_grounding"
	ClassOverconfidence    FailureClass = "overconfidence"
	ClassDomainMismatch    FailureClass = "domain_mismatch"

	// ClassNone marks a clean outcome (no violation found).
	ClassNone FailureClass = ""
)

func (c FailureClass) String() string {
	return string(c)
}

// KnownClasses returns every failure class the default policy covers.
func KnownClasses() []FailureClass {
	return []FailureClass{
		ClassPromptInjection,
		ClassToxicity,
		ClassBias,
		ClassFabricatedConcept,
		ClassFabricatedFact,
		ClassMissingGrounding,
		ClassOverconfidence,
		ClassDomainMismatch,
	}
}

// NormalizeClass maps an arbitrary category string emitted by a
// collaborator to a known failure class. Clean-outcome labels resolve
// to ClassNone. Collaborators built on external models sometimes
// report their own label taxonomy; unknown labels fall through keyword
// matching and finally resolve to the raw string so the policy's
// unknown-class default applies.
func NormalizeClass(category string) FailureClass {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "", "none", "no_violation", "clean", "safe":
		return ClassNone
	}
	for _, c := range KnownClasses() {
		if string(c) == category {
			return c
		}
	}

	lower := strings.ToLower(category)
	switch {
	case containsAny(lower, "inject", "jailbreak", "override", "ignore", "bypass", "persona"):
		return ClassPromptInjection
	case containsAny(lower, "toxic", "hate", "harass", "abus"):
		return ClassToxicity
	case containsAny(lower, "bias", "discrimin", "stereotyp"):
		return ClassBias
	case containsAny(lower, "fabricat", "hallucinat", "invent"):
		return ClassFabricatedConcept
	case containsAny(lower, "ground", "citation", "unattributed", "source"):
		return ClassMissingGrounding
	case containsAny(lower, "overconfiden", "certain"):
		return ClassOverconfidence
	case containsAny(lower, "domain", "scope", "topic"):
		return ClassDomainMismatch
	}
	return FailureClass(category)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DetectionRequest is a single piece of model output to analyze,
// plus scalar context (domain, caller metadata). Immutable once built.
type DetectionRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

// TierStatus tags how a tier attempt terminated.
type TierStatus string

const (
	// StatusCompleted means the tier finished its analysis in budget.
	StatusCompleted TierStatus = "completed"
	// StatusTimedOut means the tier exceeded its budget (self-reported
	// or cut off by the router's hard deadline).
	StatusTimedOut TierStatus = "timed_out"
	// StatusErrored means the tier failed internally.
	StatusErrored TierStatus = "errored"
	// StatusSkippedPathological means the tier refused degenerate input
	// and returned a conservative high-confidence block.
	StatusSkippedPathological TierStatus = "skipped_pathological"
	// StatusRejected means input validation refused the request before
	// any tier ran (empty text).
	StatusRejected TierStatus = "rejected"
)

// TierOutcome is the result of a single tier attempt.
type TierOutcome struct {
	Tier        int          `json:"tier"`
	Class       FailureClass `json:"failure_class,omitempty"`
	Confidence  float64      `json:"confidence"`
	Explanation string       `json:"explanation,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Status      TierStatus   `json:"status"`

	// Indeterminate is set when every tier errored or timed out and no
	// detection signal exists. The policy engine maps it to the
	// configured conservative action instead of ALLOW.
	Indeterminate bool `json:"indeterminate,omitempty"`
}

// Violation reports whether the outcome carries a failure class.
func (o TierOutcome) Violation() bool {
	return o.Class != ClassNone
}

// Verdict is the finalized detection decision for a request. Severity
// is always derived from Class via the active policy; SeverityNone
// implies Class is absent.
type Verdict struct {
	ID          uuid.UUID    `json:"verdict_id"`
	Class       FailureClass `json:"failure_class,omitempty"`
	Severity    Severity     `json:"severity"`
	Confidence  float64      `json:"confidence"`
	TierUsed    int          `json:"tier_used"`
	Explanation string       `json:"explanation,omitempty"`

	// Indeterminate is carried from the adopted outcome so a cache hit
	// re-resolves to the configured conservative action.
	Indeterminate bool `json:"indeterminate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TierDetector is the contract every tier collaborator implements.
//
// Obligations on the implementation:
//   - never run longer than budget; return StatusTimedOut rather than
//     relying on the caller to kill it (the router enforces a hard
//     deadline regardless)
//   - short-circuit pathological input with StatusSkippedPathological
//     and a conservative high-confidence outcome
//   - convert internal failures to StatusErrored; never panic across
//     this boundary
type TierDetector interface {
	Evaluate(ctx context.Context, text string, reqCtx map[string]string, budget time.Duration) TierOutcome
}

// AuditSink receives finalized verdicts for persistence. Implementations
// must never block the decision path; write failures are their own
// concern to log and drop.
type AuditSink interface {
	Record(ctx context.Context, fp Fingerprint, v Verdict, action Action)
}
