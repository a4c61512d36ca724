package permission

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidPattern indicates a namespace or deny pattern could not be
	// compiled.
	ErrInvalidPattern = errors.New("invalid permission pattern")

	// ErrInvalidDescriptor indicates the descriptor failed structural
	// validation.
	ErrInvalidDescriptor = errors.New("invalid permission descriptor")
)

// descriptorValidate is the shared validator for descriptor structures.
var descriptorValidate = validator.New()

// =============================================================================
// Descriptor
// =============================================================================

// Rule maps a candidate id namespace to a declared scope and approval mode.
// Namespaces are glob patterns over candidate ids with ':' as the
// separator, so `fs:*` covers `fs:read` without crossing into other
// namespaces. Rules are evaluated in order; the first match wins.
type Rule struct {
	Namespace string   `yaml:"namespace" validate:"required"`
	Scope     Scope    `yaml:"scope" validate:"required,oneof=minimal filesystem network elevated"`
	Approval  Approval `yaml:"approval,omitempty" validate:"omitempty,oneof=automatic always_human"`
}

// Descriptor is the externally authored permission document. This core only
// reads it; authorship and distribution live outside the process.
type Descriptor struct {
	Rules []Rule `yaml:"rules" validate:"dive"`

	// DenyPatterns are id globs that force human approval regardless of
	// score, the static backstop for destructive operations.
	DenyPatterns []string `yaml:"deny_patterns,omitempty"`
}

// Validate checks the descriptor's structure.
func (d Descriptor) Validate() error {
	if err := descriptorValidate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}

// =============================================================================
// Classifier
// =============================================================================

type compiledRule struct {
	matcher  glob.Glob
	tier     Tier
	approval Approval
}

// Classifier answers risk and approval questions about candidate ids from a
// compiled descriptor. It is immutable after construction and safe for
// concurrent readers.
type Classifier struct {
	rules  []compiledRule
	deny   []glob.Glob
	logger *slog.Logger
}

// NewClassifier compiles a descriptor. Invalid globs and structurally
// invalid descriptors fail construction; classification itself never fails.
func NewClassifier(d Descriptor, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{logger: logger}
	for _, rule := range d.Rules {
		matcher, err := glob.Compile(rule.Namespace, ':')
		if err != nil {
			return nil, fmt.Errorf("%w: namespace %q: %v", ErrInvalidPattern, rule.Namespace, err)
		}
		approval := rule.Approval
		if approval == "" {
			approval = ApprovalAutomatic
		}
		c.rules = append(c.rules, compiledRule{
			matcher:  matcher,
			tier:     tierOfScope(rule.Scope),
			approval: approval,
		})
	}
	for _, pattern := range d.DenyPatterns {
		matcher, err := glob.Compile(pattern, ':')
		if err != nil {
			return nil, fmt.Errorf("%w: deny pattern %q: %v", ErrInvalidPattern, pattern, err)
		}
		c.deny = append(c.deny, matcher)
	}

	logger.Debug("permission descriptor compiled",
		"rules", len(c.rules),
		"deny_patterns", len(c.deny))
	return c, nil
}

// LoadClassifier reads and compiles a YAML descriptor file.
func LoadClassifier(path string, logger *slog.Logger) (*Classifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission descriptor: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return NewClassifier(d, logger)
}

// TierOf classifies a candidate id. Ids matching no rule are TierUnknown,
// which downstream policy routes to human approval.
func (c *Classifier) TierOf(id string) Tier {
	for _, rule := range c.rules {
		if rule.matcher.Match(id) {
			return rule.tier
		}
	}
	return TierUnknown
}

// ApprovalOf returns the declared approval mode. Undeclared ids always
// require a human.
func (c *Classifier) ApprovalOf(id string) Approval {
	for _, rule := range c.rules {
		if rule.matcher.Match(id) {
			return rule.approval
		}
	}
	return ApprovalAlwaysHuman
}

// Denied reports whether the id matches a static deny pattern.
func (c *Classifier) Denied(id string) bool {
	for _, matcher := range c.deny {
		if matcher.Match(id) {
			return true
		}
	}
	return false
}

// DeriveCapabilityTier computes a capability's risk as the maximum tier over
// its leaf tools. An empty tool set derives TierUnknown: a capability whose
// composition cannot be resolved must not look safe. This is the single
// policy point to change if per-tool usage weighting is ever adopted.
func (c *Classifier) DeriveCapabilityTier(leafTools []string) Tier {
	if len(leafTools) == 0 {
		return TierUnknown
	}
	tier := TierSafe
	for _, id := range leafTools {
		tier = MaxTier(tier, c.TierOf(id))
	}
	return tier
}

// DeriveCapabilityApproval returns the strictest approval mode among a
// capability's leaf tools. One always-human constituent makes the whole
// capability always-human; an unresolvable composition does too.
func (c *Classifier) DeriveCapabilityApproval(leafTools []string) Approval {
	if len(leafTools) == 0 {
		return ApprovalAlwaysHuman
	}
	for _, id := range leafTools {
		if c.ApprovalOf(id) == ApprovalAlwaysHuman {
			return ApprovalAlwaysHuman
		}
	}
	return ApprovalAutomatic
}
