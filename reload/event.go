package reload

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies what produced a reload event.
type Source string

const (
	SourcePubSub      Source = "PUBSUB"
	SourcePolling     Source = "POLLING"
	SourceManual      Source = "MANUAL"
	SourceAPI         Source = "API"
	SourceStartup     Source = "STARTUP"
	SourceCacheExpiry Source = "CACHE_EXPIRY"
)

// Event announces that rule definitions changed upstream. An empty
// RuleSetID means everything must be reloaded.
type Event struct {
	ID        string
	RuleSetID string
	Source    Source
	Timestamp time.Time
	Metadata  map[string]string
}

// Full reports whether the event covers all rule sets.
func (e Event) Full() bool {
	return e.RuleSetID == ""
}

// NewEvent builds a per-rule-set event; pass "" for a full reload.
func NewEvent(ruleSetID string, source Source) Event {
	return Event{
		ID:        uuid.NewString(),
		RuleSetID: ruleSetID,
		Source:    source,
		Timestamp: time.Now(),
	}
}
