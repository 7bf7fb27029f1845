package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bulwark-ai/bulwark/pkg/guard"
)

// Policy YAML shape:
//
//	version: "2026-01"
//	strict_mode: false
//	indeterminate_action: WARN
//	unknown_class:
//	  severity: medium
//	  action: WARN
//	  confidence_threshold: 0.7
//	failure_policies:
//	  prompt_injection:
//	    severity: critical
//	    action: BLOCK
//	    confidence_threshold: 0.6
type policyFile struct {
	Version             string                     `yaml:"version"`
	StrictMode          bool                       `yaml:"strict_mode"`
	IndeterminateAction string                     `yaml:"indeterminate_action"`
	UnknownClass        *classPolicyYAML           `yaml:"unknown_class"`
	Classes             map[string]classPolicyYAML `yaml:"failure_policies"`
}

type classPolicyYAML struct {
	Severity            string  `yaml:"severity"`
	Action              string  `yaml:"action"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// LoadPolicyFile reads and validates a policy YAML file. A missing
// path yields the built-in default policy.
func LoadPolicyFile(path string) (*guard.Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses policy YAML content into a validated Policy.
func ParsePolicy(data []byte) (*guard.Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	p := DefaultPolicy()
	p.Version = file.Version
	p.StrictMode = file.StrictMode
	if file.IndeterminateAction != "" {
		p.IndeterminateAction = guard.Action(file.IndeterminateAction)
	}
	if file.UnknownClass != nil {
		p.UnknownClass = toClassPolicy(*file.UnknownClass)
	}
	if len(file.Classes) > 0 {
		p.Classes = make(map[guard.FailureClass]guard.ClassPolicy, len(file.Classes))
		for name, cp := range file.Classes {
			class := guard.FailureClass(name)
			if !knownClass(class) {
				return nil, fmt.Errorf("policy names unknown class %q", name)
			}
			p.Classes[class] = toClassPolicy(cp)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func knownClass(class guard.FailureClass) bool {
	for _, c := range guard.KnownClasses() {
		if c == class {
			return true
		}
	}
	return false
}

func toClassPolicy(cp classPolicyYAML) guard.ClassPolicy {
	return guard.ClassPolicy{
		Severity:            guard.Severity(cp.Severity),
		Action:              guard.Action(cp.Action),
		ConfidenceThreshold: cp.ConfidenceThreshold,
	}
}

// DefaultPolicy is the built-in enforcement posture. Injection is the
// one class where a miss is unrecoverable, so it sits at critical
// with the lowest threshold.
func DefaultPolicy() *guard.Policy {
	return &guard.Policy{
		Version: "builtin",
		Classes: map[guard.FailureClass]guard.ClassPolicy{
			guard.ClassPromptInjection:   {Severity: guard.SeverityCritical, Action: guard.ActionBlock, ConfidenceThreshold: 0.6},
			guard.ClassToxicity:          {Severity: guard.SeverityHigh, Action: guard.ActionBlock, ConfidenceThreshold: 0.7},
			guard.ClassBias:              {Severity: guard.SeverityMedium, Action: guard.ActionWarn, ConfidenceThreshold: 0.7},
			guard.ClassFabricatedConcept: {Severity: guard.SeverityHigh, Action: guard.ActionBlock, ConfidenceThreshold: 0.7},
			guard.ClassFabricatedFact:    {Severity: guard.SeverityHigh, Action: guard.ActionBlock, ConfidenceThreshold: 0.7},
			guard.ClassMissingGrounding:  {Severity: guard.SeverityMedium, Action: guard.ActionWarn, ConfidenceThreshold: 0.75},
			guard.ClassOverconfidence:    {Severity: guard.SeverityLow, Action: guard.ActionWarn, ConfidenceThreshold: 0.8},
			guard.ClassDomainMismatch:    {Severity: guard.SeverityMedium, Action: guard.ActionWarn, ConfidenceThreshold: 0.7},
		},
		UnknownClass: guard.ClassPolicy{
			Severity:            guard.SeverityMedium,
			Action:              guard.ActionWarn,
			ConfidenceThreshold: 0.7,
		},
		IndeterminateAction: guard.ActionWarn,
	}
}

// StrictPolicy is DefaultPolicy with strict mode enabled.
func StrictPolicy() *guard.Policy {
	p := DefaultPolicy()
	p.StrictMode = true
	return p
}
