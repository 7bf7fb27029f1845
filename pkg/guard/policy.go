package guard

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Policy errors.
var (
	ErrNilPolicy     = errors.New("policy must not be nil")
	ErrEmptyPolicy   = errors.New("policy defines no failure classes")
	ErrBadThreshold  = errors.New("confidence threshold must be within [0,1]")
	ErrBadSeverity   = errors.New("unknown severity")
	ErrBadAction     = errors.New("unknown action")
)

// ClassPolicy configures enforcement for one failure class.
type ClassPolicy struct {
	Severity            Severity `json:"severity" yaml:"severity"`
	Action              Action   `json:"action" yaml:"action"`
	ConfidenceThreshold float64  `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// Policy maps failure classes to enforcement behavior. A Policy value
// is immutable once installed; reconfiguration swaps the whole value
// (see PolicyHolder) so concurrent requests never observe a torn read.
type Policy struct {
	Classes map[FailureClass]ClassPolicy `json:"classes" yaml:"classes"`

	// StrictMode escalates medium-severity findings to BLOCK.
	StrictMode bool `json:"strict_mode" yaml:"strict_mode"`

	// UnknownClass applies to failure classes absent from Classes.
	// Policy configuration must never crash evaluation.
	UnknownClass ClassPolicy `json:"unknown_class" yaml:"unknown_class"`

	// IndeterminateAction applies when every tier errored or timed out
	// and no detection signal exists.
	IndeterminateAction Action `json:"indeterminate_action" yaml:"indeterminate_action"`

	Version string `json:"version" yaml:"version"`
}

// Validate checks a policy for construction-time misuse. This is the
// only place policy problems are fatal; at evaluation time lookups
// always resolve via defaults.
func (p *Policy) Validate() error {
	if p == nil {
		return ErrNilPolicy
	}
	if len(p.Classes) == 0 {
		return ErrEmptyPolicy
	}
	check := func(class string, cp ClassPolicy) error {
		if cp.ConfidenceThreshold < 0 || cp.ConfidenceThreshold > 1 {
			return fmt.Errorf("%s: %w (got %v)", class, ErrBadThreshold, cp.ConfidenceThreshold)
		}
		switch cp.Severity {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityNone:
		default:
			return fmt.Errorf("%s: %w %q", class, ErrBadSeverity, cp.Severity)
		}
		switch cp.Action {
		case ActionAllow, ActionWarn, ActionBlock:
		default:
			return fmt.Errorf("%s: %w %q", class, ErrBadAction, cp.Action)
		}
		return nil
	}
	for class, cp := range p.Classes {
		if err := check(string(class), cp); err != nil {
			return err
		}
	}
	if err := check("unknown_class", p.UnknownClass); err != nil {
		return err
	}
	switch p.IndeterminateAction {
	case ActionAllow, ActionWarn, ActionBlock:
	default:
		return fmt.Errorf("indeterminate_action: %w %q", ErrBadAction, p.IndeterminateAction)
	}
	return nil
}

// lookup returns the class policy, falling back to the unknown-class
// default for classes the policy does not cover.
func (p *Policy) lookup(class FailureClass) ClassPolicy {
	if cp, ok := p.Classes[class]; ok {
		return cp
	}
	return p.UnknownClass
}

// PolicyHolder publishes the active policy snapshot. Replacement is an
// atomic pointer swap; in-flight requests keep the snapshot they read.
type PolicyHolder struct {
	current atomic.Pointer[Policy]
}

// NewPolicyHolder installs the initial policy. The policy must
// validate; a process without a usable policy cannot start.
func NewPolicyHolder(p *Policy) (*PolicyHolder, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("initial policy invalid: %w", err)
	}
	h := &PolicyHolder{}
	h.current.Store(p)
	return h, nil
}

// Load returns the active policy snapshot.
func (h *PolicyHolder) Load() *Policy {
	return h.current.Load()
}

// Swap atomically installs a new policy after validation.
func (h *PolicyHolder) Swap(p *Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("replacement policy invalid: %w", err)
	}
	h.current.Store(p)
	return nil
}

// PolicyEngine maps tier outcomes to verdicts and enforcement actions
// under a given policy. Stateless; safe for concurrent use.
type PolicyEngine struct{}

// NewPolicyEngine creates a policy engine.
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{}
}

// Resolve converts an adopted tier outcome into a Verdict and the
// enforcement action the policy demands.
//
// Rules, in order:
//   - indeterminate outcome (all tiers failed) -> severity none, the
//     policy's IndeterminateAction (conservative, never silently ALLOW
//     unless configured so)
//   - no failure class -> severity none, ALLOW
//   - confidence below the class threshold -> demoted to severity
//     none, ALLOW (a low-confidence flag must not trigger enforcement)
//   - otherwise the class severity and default action, with strict
//     mode escalating medium severity to BLOCK
func (e *PolicyEngine) Resolve(outcome TierOutcome, policy *Policy) (Verdict, Action) {
	v := Verdict{
		ID:            uuid.New(),
		TierUsed:      outcome.Tier,
		Confidence:    outcome.Confidence,
		Explanation:   outcome.Explanation,
		Indeterminate: outcome.Indeterminate,
		CreatedAt:     time.Now().UTC(),
	}

	if outcome.Indeterminate {
		v.Severity = SeverityNone
		if v.Explanation == "" {
			v.Explanation = "all detection tiers failed; applying conservative default"
		}
		return v, policy.IndeterminateAction
	}

	if !outcome.Violation() {
		v.Severity = SeverityNone
		return v, ActionAllow
	}

	cp := policy.lookup(outcome.Class)
	if outcome.Confidence < cp.ConfidenceThreshold {
		// Demote: the flag stays in the explanation for operators but
		// carries no enforcement weight. The class is stripped, so the
		// cached verdict cannot re-trigger under a later, lower
		// threshold until the cache entry expires.
		v.Severity = SeverityNone
		v.Explanation = fmt.Sprintf("%s flagged below threshold (%.2f < %.2f): %s",
			outcome.Class, outcome.Confidence, cp.ConfidenceThreshold, outcome.Explanation)
		return v, ActionAllow
	}

	v.Class = outcome.Class
	v.Severity = cp.Severity

	action := cp.Action
	if policy.StrictMode && cp.Severity == SeverityMedium {
		action = ActionBlock
	}
	return v, action
}

// ResolveCached recomputes the action for a cached verdict against the
// current policy. Only the detection outcome is cached; enforcement is
// always fresh so policy changes apply to hits immediately.
func (e *PolicyEngine) ResolveCached(v Verdict, policy *Policy) Action {
	if v.Indeterminate {
		return policy.IndeterminateAction
	}
	if v.Class == ClassNone {
		return ActionAllow
	}
	cp := policy.lookup(v.Class)
	if v.Confidence < cp.ConfidenceThreshold {
		return ActionAllow
	}
	if policy.StrictMode && cp.Severity == SeverityMedium {
		return ActionBlock
	}
	return cp.Action
}
