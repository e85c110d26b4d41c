package rules

import "fmt"

// Key values shared by every resolver implementation.
const (
	GlobalKey    = "global"
	UnknownIPKey = "unknown"
)

// KeyResolver maps (request, rule) to the bucket identity for that rule's
// scope. Results must be non-empty.
type KeyResolver interface {
	Resolve(ctx RequestContext, rule Rule) string
}

// DefaultKeyResolver implements the standard scope table. Missing identity
// collapses into a shared bucket rather than bypassing the limit: an
// unidentified client falls back to its IP, and an unknown IP falls back to
// the literal "unknown".
type DefaultKeyResolver struct{}

func (DefaultKeyResolver) Resolve(ctx RequestContext, rule Rule) string {
	switch rule.Scope {
	case ScopeGlobal:
		return GlobalKey
	case ScopePerIP:
		return ipKey(ctx)
	case ScopePerUser:
		if ctx.UserID != "" {
			return ctx.UserID
		}
		return ipKey(ctx)
	case ScopePerAPIKey:
		if ctx.APIKey != "" {
			return ctx.APIKey
		}
		return ipKey(ctx)
	case ScopeCustom:
		if val := ctx.Attribute(rule.KeyStrategyID); val != nil {
			if s := fmt.Sprintf("%v", val); s != "" {
				return s
			}
		}
		return ipKey(ctx)
	default:
		return ipKey(ctx)
	}
}

func ipKey(ctx RequestContext) string {
	if ctx.ClientIP != "" {
		return ctx.ClientIP
	}
	return UnknownIPKey
}
