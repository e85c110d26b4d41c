// Package reload distributes rule-change notifications to the components
// that hold derived state: the rule cache and the bucket store. Strategies
// differ only in how they learn about changes; fan-out behavior is shared.
package reload

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives reload events. Listeners run synchronously on the
// emitting goroutine, in registration order.
type Listener interface {
	OnReload(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) OnReload(e Event) {
	f(e)
}

// Strategy emits reload events. Start and Stop are idempotent; the manual
// triggers work on every implementation regardless of its own event
// source.
type Strategy interface {
	Start() error
	Stop() error
	TriggerReload(ruleSetID string)
	TriggerReloadAll()
	AddListener(Listener)
}

// broadcaster is the shared listener fan-out. A panicking listener is
// logged and skipped; the remaining listeners still run.
type broadcaster struct {
	mu        sync.Mutex
	listeners []Listener
	log       zerolog.Logger
}

func (b *broadcaster) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *broadcaster) emit(event Event) {
	b.mu.Lock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		b.notify(l, event)
	}
}

func (b *broadcaster) notify(l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Any("panic", r).
				Str("event", event.ID).
				Msg("reload listener panicked")
		}
	}()
	l.OnReload(event)
}

// TriggerReload emits a manual per-rule-set event.
func (b *broadcaster) TriggerReload(ruleSetID string) {
	b.emit(NewEvent(ruleSetID, SourceManual))
}

// TriggerReloadAll emits a manual full-reload event.
func (b *broadcaster) TriggerReloadAll() {
	b.emit(NewEvent("", SourceManual))
}
