package fluxgate

import "errors"

var (
	// ErrUnknownRuleSet is surfaced by Check under the THROW missing-rule-set
	// strategy.
	ErrUnknownRuleSet = errors.New("unknown rule set")

	// ErrMissingRepository is returned when no rule repository was
	// configured and none can be built from configuration.
	ErrMissingRepository = errors.New("a rule repository is required")

	// ErrMissingProvider is returned when a configured feature needs the
	// coordination store but only an in-process bucket store was supplied.
	ErrMissingProvider = errors.New("pub/sub reload requires a coordination-store provider")
)
