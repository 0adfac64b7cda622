package workers

import (
	"context"
	"log/slog"

	"github.com/WesleyDev184/bananaChat/domain/event"
)

// Deliverer resolves subscribers and pushes one event to each of them.
// Implemented by the router.
type Deliverer interface {
	Deliver(ctx context.Context, evt event.DomainEvent)
}

// FanoutWorker drains the pipeline and hands each event to the router.
// A single instance runs at a time so channel delivery order equals
// acceptance order. A copy of each event is teed to the telemetry channel
// on a best-effort basis.
type FanoutWorker struct {
	log       *slog.Logger
	events    <-chan event.DomainEvent
	telemetry chan<- event.DomainEvent
	deliverer Deliverer
}

func NewFanoutWorker(log *slog.Logger, events <-chan event.DomainEvent,
	telemetry chan<- event.DomainEvent, deliverer Deliverer) *FanoutWorker {
	return &FanoutWorker{log: log, events: events, telemetry: telemetry, deliverer: deliverer}
}

func (w *FanoutWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return ctx.Err()
		case evt := <-w.events:
			w.deliverer.Deliver(ctx, evt)
			select {
			case w.telemetry <- evt:
			default:
				w.log.Debug("Telemetry event lost")
			}
		}
	}
}
