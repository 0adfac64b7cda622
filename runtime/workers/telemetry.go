package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/shirou/gopsutil/process"
)

// TelemetryWorker periodically logs process health (CPU, RSS) together with
// event throughput counters drained from the telemetry channel. Purely
// observational; losing telemetry events never affects delivery.
type TelemetryWorker struct {
	log      *slog.Logger
	events   <-chan event.DomainEvent
	interval time.Duration
}

func NewTelemetryWorker(log *slog.Logger, events <-chan event.DomainEvent, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, events: events, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var messages, presence, groups uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-w.events:
			switch evt.(type) {
			case event.MessageAccepted, event.MessageEcho:
				messages++
			case event.PresenceChanged:
				presence++
			case event.GroupChanged:
				groups++
			}
		case <-ticker.C:
			rss, cpu := selfStats(proc)
			w.log.Info("Telemetry",
				"messages", messages,
				"presence_deltas", presence,
				"group_updates", groups,
				"cpu_percent", cpu,
				"ram_bytes", rss)
			messages, presence, groups = 0, 0, 0
		}
	}
}

func selfStats(proc *process.Process) (uint64, float64) {
	var rss uint64
	if memInfo, err := proc.MemoryInfo(); err == nil {
		rss = memInfo.RSS
	}
	cpu, _ := proc.CPUPercent()
	return rss, cpu
}
