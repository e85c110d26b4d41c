package rules

import (
	"context"
	"sync"
)

// Repository is the durable source of rule definitions. The enforcement
// core only reads; writes belong to admin tooling.
type Repository interface {
	// FindByRuleSetID returns all rules belonging to the rule set, in
	// stored order. An unknown id yields ErrRuleSetNotFound.
	FindByRuleSetID(ctx context.Context, ruleSetID string) ([]Rule, error)
}

// StaticRepository serves rules from memory. Useful for embedded
// configurations and tests.
type StaticRepository struct {
	mu       sync.RWMutex
	ruleSets map[string][]Rule
}

func NewStaticRepository() *StaticRepository {
	return &StaticRepository{
		ruleSets: make(map[string][]Rule),
	}
}

func (r *StaticRepository) FindByRuleSetID(ctx context.Context, ruleSetID string) ([]Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.ruleSets[ruleSetID]
	if !ok || len(stored) == 0 {
		return nil, ErrRuleSetNotFound
	}

	out := make([]Rule, len(stored))
	copy(out, stored)
	return out, nil
}

// Put replaces the rules of a rule set.
func (r *StaticRepository) Put(ruleSetID string, ruleList ...Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]Rule, len(ruleList))
	copy(stored, ruleList)
	r.ruleSets[ruleSetID] = stored
}

// Remove drops a rule set entirely.
func (r *StaticRepository) Remove(ruleSetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.ruleSets, ruleSetID)
}
