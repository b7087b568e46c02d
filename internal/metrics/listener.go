package metrics

import (
	"context"
	"time"

	"github.com/fleetwatch/sentinel/internal/broadcaster"
	"github.com/fleetwatch/sentinel/internal/registry"
	"github.com/fleetwatch/sentinel/internal/types"
)

const errorRateWindow = 5 * time.Minute

// Listener is a Broadcaster subscriber that turns the Event stream into
// Prometheus updates, the same way alertengine.Engine turns it into
// webhook calls — the Metrics & Tracing Sink is just another consumer
// of the tagged-union event fabric (spec.md §4.8), not a component the
// Reconciler talks to directly.
type Listener struct {
	sink *Sink
}

// NewListener builds a Listener over sink.
func NewListener(sink *Sink) *Listener {
	return &Listener{sink: sink}
}

// Run subscribes to every event kind and updates series until ctx is
// cancelled.
func (l *Listener) Run(ctx context.Context, b *broadcaster.Broadcaster) {
	sub := b.Subscribe(nil)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			l.handle(ev)
		}
	}
}

func (l *Listener) handle(ev types.Event) {
	switch ev.Kind {
	case types.EventProbeCompleted:
		p := ev.ProbeCompleted
		l.sink.RecordProbe(p.ServiceID, p.Outcome.String(), p.LatencyMs)
	case types.EventStatusChanged:
		c := ev.StatusChanged
		l.sink.SetServiceStatus(c.ServiceID, statusValue(c.To))
	case types.EventStatsSample:
		s := ev.StatsSample
		l.sink.RecordStatsSample(s.ServiceID, s.CPUPct, s.MemMB, s.NetInB, s.NetOutB, s.BlkReadB, s.BlkWriteB)
	}
}

// RunErrorRateTicker recomputes the rolling failures-per-minute gauge
// for every service every interval, until ctx is cancelled. The ring
// already holds what's needed (spec.md §4.8); this just samples it
// periodically rather than on every probe.
func (l *Listener) RunErrorRateTicker(ctx context.Context, reg *registry.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, svc := range reg.Services() {
				rate := reg.ErrorRatePerMinute(svc.ID, errorRateWindow)
				l.sink.SetErrorRate(svc.ID, rate)
			}
		}
	}
}

func statusValue(s types.Status) int {
	switch s {
	case types.StatusHealthy:
		return 1
	case types.StatusDegraded:
		return 2
	case types.StatusUnhealthy:
		return 3
	default:
		return 0
	}
}
