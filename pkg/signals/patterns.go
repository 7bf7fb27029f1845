package signals

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/bulwark-ai/bulwark/pkg/guard"
)

// patternTextCap bounds how much text the regex pass scans. Patterns
// below avoid catastrophic backtracking (no nested unbounded
// repetition), but the length cap bounds cost regardless.
const patternTextCap = 4000

// Pattern is one Tier 1 signature: a compiled regex with its failure
// class and the confidence a match asserts. Class guard.ClassNone
// marks an allow-pattern (strong benign indicator).
type Pattern struct {
	Name       string
	Regexp     *regexp.Regexp
	Class      guard.FailureClass
	Confidence float64
	Desc       string
}

// AllowPatterns are strong benign indicators checked first; a match
// terminates Tier 1 with a confident non-violation.
var AllowPatterns = []Pattern{
	{
		Name:       "cited_source",
		Regexp:     regexp.MustCompile(`(?i)\baccording to\s+(?:the\s+)?[A-Z][\w.]+(?:\s+[A-Z][\w.]+){0,4}`),
		Class:      guard.ClassNone,
		Confidence: 0.85,
		Desc:       "claim carries an explicit attribution",
	},
	{
		Name:       "hedged_uncertainty",
		Regexp:     regexp.MustCompile(`(?i)\b(?:i am not certain|i don't know|i'm not sure|this may be inaccurate|i cannot verify)\b`),
		Class:      guard.ClassNone,
		Confidence: 0.80,
		Desc:       "response acknowledges its own uncertainty",
	},
}

// BlockPatterns map text shapes to failure classes. Derived from the
// production pattern corpus; every regex uses bounded repetition.
var BlockPatterns = []Pattern{
	// === PROMPT INJECTION ===
	{
		Name:       "ignore_instructions",
		Regexp:     regexp.MustCompile(`(?i)\b(?:ignore|disregard|forget)\s+(?:previous|prior|above|all|everything)\s*(?:instructions|commands|rules|prompts|directions)?\b`),
		Class:      guard.ClassPromptInjection,
		Confidence: 0.95,
		Desc:       "instruction override attempt",
	},
	{
		Name:       "memory_reset",
		Regexp:     regexp.MustCompile(`(?i)\b(?:forget|erase|clear)\s+(?:everything|all)\s+(?:above|before|previous)\b`),
		Class:      guard.ClassPromptInjection,
		Confidence: 0.95,
		Desc:       "memory reset attempt",
	},
	{
		Name:       "system_prompt_extraction",
		Regexp:     regexp.MustCompile(`(?i)\b(?:reveal|show|print|repeat|output)\s+(?:the\s+|your\s+)?(?:system\s+prompt|hidden\s+instructions|initial\s+prompt)\b`),
		Class:      guard.ClassPromptInjection,
		Confidence: 0.90,
		Desc:       "system prompt extraction attempt",
	},
	{
		Name:       "persona_hijack",
		Regexp:     regexp.MustCompile(`(?i)\byou\s+are\s+now\s+\w{1,30},?\s*(?:an?\s+)?(?:AI|assistant|bot|model)?\s*(?:with|without|that\s+has)\s+no\s+(?:restrictions?|rules?|limits?|guidelines?)\b`),
		Class:      guard.ClassPromptInjection,
		Confidence: 0.90,
		Desc:       "unrestricted persona hijack",
	},
	{
		Name:       "jailbreak_mode",
		Regexp:     regexp.MustCompile(`\b(?:DAN|STAN|DUDE)\b|(?i)\b(?:developer\s*mode|jailbreak\s*mode)\b`),
		Class:      guard.ClassPromptInjection,
		Confidence: 0.90,
		Desc:       "named jailbreak persona or mode switch",
	},
	{
		Name:       "admin_override",
		Regexp:     regexp.MustCompile(`(?i)\b(?:admin|root|system|sudo)\s+(?:override|access|mode|privileges?)\b`),
		Class:      guard.ClassPromptInjection,
		Confidence: 0.85,
		Desc:       "privilege escalation phrasing",
	},

	// === TOXICITY ===
	{
		Name:       "violent_threat",
		Regexp:     regexp.MustCompile(`(?i)\b(?:i|we)\s+(?:will|should|want\s+to)\s+(?:hurt|harm|kill|attack|destroy)\s+(?:you|them|him|her|people)\b`),
		Class:      guard.ClassToxicity,
		Confidence: 0.90,
		Desc:       "direct violent threat",
	},
	{
		Name:       "dehumanizing_language",
		Regexp:     regexp.MustCompile(`(?i)\b(?:those|these)\s+(?:people|folks)\s+are\s+(?:animals|vermin|subhuman|trash|garbage)\b`),
		Class:      guard.ClassToxicity,
		Confidence: 0.90,
		Desc:       "dehumanizing generalization",
	},

	// === BIAS ===
	{
		Name:       "group_generalization",
		Regexp:     regexp.MustCompile(`(?i)\b(?:all|every)\s+(?:women|men|immigrants|foreigners)\s+are\s+\w{1,20}\b`),
		Class:      guard.ClassBias,
		Confidence: 0.80,
		Desc:       "sweeping demographic generalization",
	},
	{
		Name:       "inherent_superiority",
		Regexp:     regexp.MustCompile(`(?i)\b\w{1,20}\s+(?:are|is)\s+(?:naturally|inherently|biologically)\s+(?:better|worse|superior|inferior)\b`),
		Class:      guard.ClassBias,
		Confidence: 0.85,
		Desc:       "inherent superiority claim",
	},

	// === FABRICATED CONCEPT ===
	{
		Name:       "fake_acronym_definition",
		Regexp:     regexp.MustCompile(`\b[A-Z]{2,6}\s+(?:stands for|means)\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,4}\b`),
		Class:      guard.ClassFabricatedConcept,
		Confidence: 0.85,
		Desc:       "invented acronym expansion",
	},
	{
		Name:       "buzzword_concept",
		Regexp:     regexp.MustCompile(`(?i)\b(?:quantum|neural|crypto|cyber|nano|meta)-?(?:synergy|paradigm|convergence|nexus)\b`),
		Class:      guard.ClassFabricatedConcept,
		Confidence: 0.80,
		Desc:       "buzzword pseudo-concept",
	},
	{
		Name:       "fake_law",
		Regexp:     regexp.MustCompile(`\b(?:Law|Theorem|Principle|Effect)\s+of\s+[A-Z][a-z]+(?:'s)?\s+(?:Conservation|Paradox|Constant)\b`),
		Class:      guard.ClassFabricatedConcept,
		Confidence: 0.70,
		Desc:       "fabricated scientific law",
	},

	// === FABRICATED FACT ===
	{
		Name:       "precise_unverifiable_stat",
		Regexp:     regexp.MustCompile(`(?i)\bexactly\s+\d{1,3}(?:\.\d{1,4})?%\s+of\s+(?:all\s+)?\w{1,20}\b`),
		Class:      guard.ClassFabricatedFact,
		Confidence: 0.75,
		Desc:       "implausibly precise statistic",
	},

	// === MISSING GROUNDING ===
	{
		Name:       "vague_research_claim",
		Regexp:     regexp.MustCompile(`(?i)\b(?:studies show|research suggests|experts say|scientists believe)\b`),
		Class:      guard.ClassMissingGrounding,
		Confidence: 0.90,
		Desc:       "unattributed research claim",
	},
	{
		Name:       "weasel_words",
		Regexp:     regexp.MustCompile(`(?i)\b(?:many believe|some say|it is thought|commonly accepted|widely known)\b`),
		Class:      guard.ClassMissingGrounding,
		Confidence: 0.85,
		Desc:       "weasel wording",
	},
	{
		Name:       "uncited_percentage",
		Regexp:     regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,2})?%\s+of\s+(?:people|users|customers|respondents)\b`),
		Class:      guard.ClassMissingGrounding,
		Confidence: 0.80,
		Desc:       "statistic without citation",
	},

	// === OVERCONFIDENCE ===
	{
		Name:       "absolute_certainty",
		Regexp:     regexp.MustCompile(`(?i)\b(?:definitely|certainly|absolutely|guaranteed|without\s+(?:a\s+)?doubt)\b.{0,60}\b(?:will|cannot\s+fail|always|never)\b`),
		Class:      guard.ClassOverconfidence,
		Confidence: 0.70,
		Desc:       "absolute certainty about contingent outcome",
	},

	// === DOMAIN MISMATCH ===
	{
		Name:       "medical_advice_disclaimer_missing",
		Regexp:     regexp.MustCompile(`(?i)\byou\s+should\s+(?:take|stop\s+taking|increase|decrease)\s+\d{1,5}\s*(?:mg|ml|units)\b`),
		Class:      guard.ClassDomainMismatch,
		Confidence: 0.80,
		Desc:       "specific dosage instruction",
	},
}

// PatternMatcher is the Tier 1 collaborator: deterministic regex
// scanning over NFKC-normalized text. It keeps the highest-confidence
// block match, after allow-patterns get first refusal.
type PatternMatcher struct {
	allow []Pattern
	block []Pattern
}

// NewPatternMatcher builds a matcher over the built-in pattern tables.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{allow: AllowPatterns, block: BlockPatterns}
}

// NewPatternMatcherWithPatterns builds a matcher over custom tables.
func NewPatternMatcherWithPatterns(allow, block []Pattern) *PatternMatcher {
	return &PatternMatcher{allow: allow, block: block}
}

// Evaluate implements guard.TierDetector.
func (m *PatternMatcher) Evaluate(ctx context.Context, text string, _ map[string]string, budget time.Duration) guard.TierOutcome {
	start := time.Now()
	deadline := start.Add(budget)

	if reason, ok := DetectPathological(text); ok {
		return guard.TierOutcome{
			Status:      guard.StatusSkippedPathological,
			Class:       guard.ClassPromptInjection,
			Confidence:  0.90,
			Elapsed:     time.Since(start),
			Explanation: fmt.Sprintf("pathological input refused: %s", reason),
		}
	}

	normalized, _ := NormalizeUnicode(text)
	if len(normalized) > patternTextCap {
		normalized = normalized[:patternTextCap]
	}

	for _, p := range m.allow {
		if p.Regexp.MatchString(normalized) {
			return guard.TierOutcome{
				Status:      guard.StatusCompleted,
				Confidence:  1 - p.Confidence, // strong benign signal = low violation confidence
				Elapsed:     time.Since(start),
				Explanation: fmt.Sprintf("allow-pattern %s: %s", p.Name, p.Desc),
			}
		}
	}

	var best *Pattern
	for i := range m.block {
		if i%8 == 0 {
			if ctx.Err() != nil || time.Now().After(deadline) {
				return guard.TierOutcome{
					Status:      guard.StatusTimedOut,
					Elapsed:     time.Since(start),
					Explanation: "pattern scan exceeded its budget",
				}
			}
		}
		p := &m.block[i]
		if p.Regexp.MatchString(normalized) && (best == nil || p.Confidence > best.Confidence) {
			best = p
		}
	}

	if best != nil {
		return guard.TierOutcome{
			Status:      guard.StatusCompleted,
			Class:       best.Class,
			Confidence:  best.Confidence,
			Elapsed:     time.Since(start),
			Explanation: fmt.Sprintf("%s: %s", best.Name, best.Desc),
		}
	}

	// No signal either way: the ambiguous middle, for the router to
	// escalate or terminate per its low threshold.
	return guard.TierOutcome{
		Status:      guard.StatusCompleted,
		Confidence:  0.0,
		Elapsed:     time.Since(start),
		Explanation: "no pattern matched",
	}
}
