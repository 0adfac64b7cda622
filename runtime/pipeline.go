// Package runtime wires the event pipeline between the core services and
// the fan-out workers. It moves events around; domain rules live elsewhere.
package runtime

import (
	"log/slog"

	"github.com/WesleyDev184/bananaChat/domain/event"
)

// Pipeline is the single ordered conduit for every event heading to
// subscribers. One fan-out worker drains it, which is what preserves
// per-scope delivery order and the causal order between a user's messages
// and their later LEAVE event.
type Pipeline struct {
	log    *slog.Logger
	events chan event.DomainEvent
}

func NewPipeline(log *slog.Logger, bufferSize int) *Pipeline {
	return &Pipeline{log: log, events: make(chan event.DomainEvent, bufferSize)}
}

// Emit enqueues an event for fan-out. Delivery is at-most-once: when the
// pipeline is saturated the event is dropped with a warning rather than
// stalling the accept path.
func (p *Pipeline) Emit(e event.DomainEvent) {
	select {
	case p.events <- e:
	default:
		p.log.Warn("Event pipeline full, dropping event", "channel", e.Channel())
	}
}

// Events exposes the drain side for the fan-out worker.
func (p *Pipeline) Events() <-chan event.DomainEvent {
	return p.events
}
