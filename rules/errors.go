package rules

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyRuleID    = errors.New("rule id cannot be empty")
	ErrEmptyRuleSetID = errors.New("rule set id cannot be empty")

	// ErrRuleSetNotFound is returned by repositories when no rules exist
	// for the requested rule set id.
	ErrRuleSetNotFound = errors.New("rule set not found")
)

func NewInvalidCapacityError(capacity int64) error {
	return fmt.Errorf("band capacity must be at least 1, got %d", capacity)
}

func NewInvalidWindowError(window time.Duration) error {
	return fmt.Errorf("band window must be positive, got %s", window)
}

func NewCustomScopeError(ruleID string) error {
	return fmt.Errorf("rule %q uses CUSTOM scope but has no key strategy id", ruleID)
}

func NewInvalidScopeError(ruleID, scope string) error {
	return fmt.Errorf("rule %q has unknown scope %q", ruleID, scope)
}

func NewInvalidPolicyError(ruleID, policy string) error {
	return fmt.Errorf("rule %q has unknown on-limit-exceed policy %q", ruleID, policy)
}

func NewNoBandsError(ruleID string) error {
	return fmt.Errorf("rule %q must define at least one band", ruleID)
}

func NewInvalidBandError(ruleID string, err error) error {
	return fmt.Errorf("rule %q has an invalid band: %w", ruleID, err)
}
