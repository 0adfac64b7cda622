package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/runtime"
)

type recordingDeliverer struct {
	mu     sync.Mutex
	events []event.DomainEvent
	done   chan struct{}
	expect int
}

func (d *recordingDeliverer) Deliver(_ context.Context, evt event.DomainEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
	if len(d.events) == d.expect {
		close(d.done)
	}
}

func (d *recordingDeliverer) delivered() []event.DomainEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]event.DomainEvent{}, d.events...)
}

func TestFanoutWorker_PreservesEmitOrder(t *testing.T) {
	req := require.New(t)
	log := slog.Default()

	pipeline := runtime.NewPipeline(log, 16)
	deliverer := &recordingDeliverer{done: make(chan struct{}), expect: 3}
	telemetry := make(chan event.DomainEvent, 16)
	worker := NewFanoutWorker(log, pipeline.Events(), telemetry, deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// Given three events emitted in order, including the causal pair of a
	// user's last message followed by their leave
	first := event.MessageAccepted{Message: domain.Message{Seq: 1, Scope: domain.Global()}}
	second := event.MessageAccepted{Message: domain.Message{Seq: 2, Scope: domain.Global()}}
	leave := event.PresenceChanged{Username: "alice", Online: false}
	pipeline.Emit(first)
	pipeline.Emit(second)
	pipeline.Emit(leave)

	select {
	case <-deliverer.done:
	case <-time.After(2 * time.Second):
		req.Fail("events were not delivered in time")
	}

	// Then delivery order equals emit order
	req.Equal([]event.DomainEvent{first, second, leave}, deliverer.delivered())

	// And each event was teed to telemetry
	req.Len(telemetry, 3)
}

func TestFanoutWorker_FullTelemetryNeverBlocks(t *testing.T) {
	req := require.New(t)
	log := slog.Default()

	pipeline := runtime.NewPipeline(log, 16)
	deliverer := &recordingDeliverer{done: make(chan struct{}), expect: 3}
	telemetry := make(chan event.DomainEvent, 1)
	worker := NewFanoutWorker(log, pipeline.Events(), telemetry, deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	for i := 1; i <= 3; i++ {
		pipeline.Emit(event.MessageAccepted{Message: domain.Message{Seq: uint64(i), Scope: domain.Global()}})
	}

	// Delivery completes even though the telemetry buffer overflowed
	select {
	case <-deliverer.done:
	case <-time.After(2 * time.Second):
		req.Fail("delivery stalled on telemetry backpressure")
	}
	req.Len(telemetry, 1)
}
