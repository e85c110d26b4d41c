package rules

import (
	"time"
)

// Scope selects the identity dimension a rule limits on.
type Scope string

const (
	ScopeGlobal    Scope = "GLOBAL"
	ScopePerIP     Scope = "PER_IP"
	ScopePerUser   Scope = "PER_USER"
	ScopePerAPIKey Scope = "PER_API_KEY"
	ScopeCustom    Scope = "CUSTOM"
)

// Policy decides what happens to a request once a rule rejects it.
type Policy string

const (
	PolicyReject        Policy = "REJECT_REQUEST"
	PolicyWaitForRefill Policy = "WAIT_FOR_REFILL"
)

// DefaultBandLabel is used when a band carries no label of its own.
const DefaultBandLabel = "default"

// Band is one (window, capacity) tier of a rule. The refill rate is
// capacity tokens per window.
type Band struct {
	Window   time.Duration `json:"window" yaml:"window"`
	Capacity int64         `json:"capacity" yaml:"capacity"`
	Label    string        `json:"label,omitempty" yaml:"label,omitempty"`
}

// EffectiveLabel returns the band label, or the default label when unset.
func (b Band) EffectiveLabel() string {
	if b.Label == "" {
		return DefaultBandLabel
	}
	return b.Label
}

func (b Band) Validate() error {
	if b.Capacity < 1 {
		return NewInvalidCapacityError(b.Capacity)
	}
	if b.Window <= 0 {
		return NewInvalidWindowError(b.Window)
	}
	return nil
}

// Rule is a single rate-limiting rule inside a rule set.
type Rule struct {
	ID            string         `json:"id" yaml:"id"`
	Name          string         `json:"name,omitempty" yaml:"name,omitempty"`
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Scope         Scope          `json:"scope" yaml:"scope"`
	KeyStrategyID string         `json:"key_strategy_id,omitempty" yaml:"key_strategy_id,omitempty"`
	OnLimitExceed Policy         `json:"on_limit_exceed,omitempty" yaml:"on_limit_exceed,omitempty"`
	Bands         []Band         `json:"bands" yaml:"bands"`
	RuleSetID     string         `json:"rule_set_id" yaml:"rule_set_id"`
	Attributes    map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ExceedPolicy returns the configured policy, defaulting to rejection.
func (r Rule) ExceedPolicy() Policy {
	if r.OnLimitExceed == "" {
		return PolicyReject
	}
	return r.OnLimitExceed
}

func (r Rule) Validate() error {
	if r.ID == "" {
		return ErrEmptyRuleID
	}
	switch r.Scope {
	case ScopeGlobal, ScopePerIP, ScopePerUser, ScopePerAPIKey:
	case ScopeCustom:
		if r.KeyStrategyID == "" {
			return NewCustomScopeError(r.ID)
		}
	default:
		return NewInvalidScopeError(r.ID, string(r.Scope))
	}
	switch r.ExceedPolicy() {
	case PolicyReject, PolicyWaitForRefill:
	default:
		return NewInvalidPolicyError(r.ID, string(r.OnLimitExceed))
	}
	if len(r.Bands) == 0 {
		return NewNoBandsError(r.ID)
	}
	for _, band := range r.Bands {
		if err := band.Validate(); err != nil {
			return NewInvalidBandError(r.ID, err)
		}
	}
	return nil
}

// RuleSet is a named, ordered collection of rules applied together.
// A nil Resolver falls back to the limiter's configured resolver.
type RuleSet struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Rules       []Rule `json:"rules"`
	Resolver    KeyResolver
}

func (rs RuleSet) Validate() error {
	if rs.ID == "" {
		return ErrEmptyRuleSetID
	}
	for _, rule := range rs.Rules {
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}
