package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Fingerprint computes a deterministic hash of a rule set's content. Two
// rule sets with identical id, description and rules (in order) hash to the
// same value regardless of process or host. Fingerprints are never
// persisted; polling keeps them in memory to detect upstream changes.
func Fingerprint(id, description string, ruleList []Rule) string {
	h := sha256.New()
	writeField(h, id)
	writeField(h, description)
	for _, rule := range ruleList {
		writeField(h, rule.ID)
		writeField(h, rule.Name)
		writeField(h, strconv.FormatBool(rule.Enabled))
		writeField(h, string(rule.Scope))
		writeField(h, rule.KeyStrategyID)
		writeField(h, string(rule.ExceedPolicy()))
		writeField(h, rule.RuleSetID)
		for _, band := range rule.Bands {
			writeField(h, band.EffectiveLabel())
			writeField(h, strconv.FormatInt(band.Capacity, 10))
			writeField(h, strconv.FormatInt(band.Window.Nanoseconds(), 10))
		}
		writeAttributes(h, rule.Attributes)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed field so adjacent values cannot
// collide ("ab"+"c" vs "a"+"bc").
func writeField(w io.Writer, field string) {
	fmt.Fprintf(w, "%d:%s", len(field), field)
}

func writeAttributes(w io.Writer, attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(w, k)
		writeField(w, fmt.Sprintf("%v", attrs[k]))
	}
}
