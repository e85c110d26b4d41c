package buckets

import (
	"strings"
	"sync"
)

// KeyPrefix namespaces every bucket key in the shared store.
const KeyPrefix = "fluxgate:"

// Hash field names of a persisted bucket.
const (
	FieldTokens          = "tokens"
	FieldLastRefillNanos = "last_refill_nanos"
)

// builderPool reduces allocations on the per-request key construction path.
var builderPool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// Key builds the bucket key for a (ruleSet, rule, identity, band) tuple:
// fluxgate:{ruleSetId}:{ruleId}:{keyValue}:{bandLabel}
func Key(ruleSetID, ruleID, keyValue, bandLabel string) string {
	sb := builderPool.Get().(*strings.Builder)
	defer func() {
		sb.Reset()
		builderPool.Put(sb)
	}()

	sb.Grow(len(KeyPrefix) + len(ruleSetID) + len(ruleID) + len(keyValue) + len(bandLabel) + 4)
	sb.WriteString(KeyPrefix)
	sb.WriteString(ruleSetID)
	sb.WriteByte(':')
	sb.WriteString(ruleID)
	sb.WriteByte(':')
	sb.WriteString(keyValue)
	sb.WriteByte(':')
	sb.WriteString(bandLabel)
	return sb.String()
}

// RuleSetPattern matches every bucket of one rule set.
func RuleSetPattern(ruleSetID string) string {
	return KeyPrefix + ruleSetID + ":*"
}

// AllPattern matches every bucket this framework owns.
func AllPattern() string {
	return KeyPrefix + "*"
}
