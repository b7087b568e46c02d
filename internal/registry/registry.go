// Package registry holds the canonical serviceId -> status mapping. It
// is the sole source of truth readers consult. Records change only
// through Apply: the Reconciler writes probe status, the Control
// Dispatcher restart bookkeeping, and the Stats Collector resource usage.
//
// The set of tracked services is fixed at construction (services are
// created at startup from config and never hot-reloaded, per spec.md
// §3 Lifecycles), so the top-level map needs no lock at all once built
// — each record carries its own mutex, satisfying "no global lock
// across services is required; per-service exclusion suffices."
//
// This generalizes the teacher's healthmonitor.Cache (one RWMutex
// guarding the whole map) to the per-record exclusion the spec
// requires.
package registry

import (
	"sync"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

const defaultRingSize = 60

// record is one service's mutable status, guarded by its own mutex.
type record struct {
	mu sync.Mutex

	service types.Service
	ring    *types.OutcomeRing

	status               types.Status
	lastProbeAt          time.Time
	lastLatencyMs        float64
	consecutiveFailures  int
	consecutiveSuccesses int
	lastError            string
	restartCount         int
	lastRestartAt        time.Time

	cpuPct    float64
	memMB     float64
	netInB    uint64
	netOutB   uint64
	blkReadB  uint64
	blkWriteB uint64
	statsAt   time.Time
}

func (r *record) snapshot() types.StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.StatusSnapshot{
		Service:              r.service,
		Status:               r.status,
		LastProbeAt:          r.lastProbeAt,
		LastLatencyMs:        r.lastLatencyMs,
		ConsecutiveFailures:  r.consecutiveFailures,
		ConsecutiveSuccesses: r.consecutiveSuccesses,
		LastError:            r.lastError,
		RestartCount:         r.restartCount,
		LastRestartAt:        r.lastRestartAt,
		ErrorRate:            r.ring.ErrorRate(),
		CPUPct:               r.cpuPct,
		MemMB:                r.memMB,
		NetInB:               r.netInB,
		NetOutB:              r.netOutB,
		BlkReadB:             r.blkReadB,
		BlkWriteB:            r.blkWriteB,
		StatsAt:              r.statsAt,
	}
}

// Registry is the canonical table of known services and their status.
type Registry struct {
	records map[string]*record // immutable key set after New()
}

// New builds a Registry with one Unknown-status record per service.
func New(services []types.Service) *Registry {
	records := make(map[string]*record, len(services))
	for _, svc := range services {
		records[svc.ID] = &record{
			service: svc,
			ring:    types.NewOutcomeRing(defaultRingSize),
			status:  types.StatusUnknown,
		}
	}
	return &Registry{records: records}
}

// List returns a snapshot of every service. Each record is snapshotted
// under its own lock, one after another; no lock spans the whole call,
// so the list is not taken at a single instant across services.
func (reg *Registry) List() []types.StatusSnapshot {
	out := make([]types.StatusSnapshot, 0, len(reg.records))
	for _, r := range reg.records {
		out = append(out, r.snapshot())
	}
	return out
}

// Get returns the (Service, ServiceStatus) for one id, or false if unknown.
func (reg *Registry) Get(serviceID string) (types.StatusSnapshot, bool) {
	r, ok := reg.records[serviceID]
	if !ok {
		return types.StatusSnapshot{}, false
	}
	return r.snapshot(), true
}

// ErrorRatePerMinute computes failures-per-minute over the trailing
// window (spec.md §4.8: "failures-per-minute over a rolling 5-minute
// window"). Returns 0 for an unknown service.
func (reg *Registry) ErrorRatePerMinute(serviceID string, window time.Duration) float64 {
	r, ok := reg.records[serviceID]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-window).UnixNano()
	failures := r.ring.FailuresSince(cutoff)
	minutes := window.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(failures) / minutes
}

// Services returns the static Service definitions, for components
// (Scheduler, Stats Collector) that need to enumerate targets.
func (reg *Registry) Services() []types.Service {
	out := make([]types.Service, 0, len(reg.records))
	for _, r := range reg.records {
		out = append(out, r.service)
	}
	return out
}

// Aggregate computes the fleet-wide summary in O(n) over services.
func (reg *Registry) Aggregate() types.Aggregate {
	var agg types.Aggregate
	var latencySum float64
	var latencyCount int

	for _, r := range reg.records {
		r.mu.Lock()
		agg.Total++
		switch r.status {
		case types.StatusHealthy:
			agg.Healthy++
		case types.StatusDegraded:
			agg.Degraded++
		case types.StatusUnhealthy:
			agg.Unhealthy++
			if r.service.Critical {
				agg.CriticalDown++
			}
		default:
			agg.Unknown++
		}
		if r.lastLatencyMs > 0 {
			latencySum += r.lastLatencyMs
			latencyCount++
		}
		r.mu.Unlock()
	}

	if latencyCount > 0 {
		agg.AvgLatencyMs = latencySum / float64(latencyCount)
	}
	return agg
}

// Mutation is applied under the target record's exclusive lock. Apply
// is called by the Reconciler, the Control Dispatcher (restart
// bookkeeping) and the Stats Collector (resource samples).
type Mutation func(s *MutableStatus)

// MutableStatus exposes the fields a Mutation is allowed to change.
// Passing the ring out as a pointer lets mutations consult recent
// history (error rate, last-N-successes) while still writing under the
// same lock that guards the rest of the record.
type MutableStatus struct {
	Ring *types.OutcomeRing

	Status               types.Status
	LastProbeAt          time.Time
	LastLatencyMs        float64
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastError            string
	RestartCount         int
	LastRestartAt        time.Time

	CPUPct    float64
	MemMB     float64
	NetInB    uint64
	NetOutB   uint64
	BlkReadB  uint64
	BlkWriteB uint64
	StatsAt   time.Time
}

// Apply runs mutation under the target service's exclusive lock and
// reports the status before and after, so the caller can decide which
// events to emit without reacquiring the lock.
func (reg *Registry) Apply(serviceID string, mutation Mutation) (before, after types.Status, ok bool) {
	r, exists := reg.records[serviceID]
	if !exists {
		return types.StatusUnknown, types.StatusUnknown, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	before = r.status
	m := MutableStatus{
		Ring:                 r.ring,
		Status:               r.status,
		LastProbeAt:          r.lastProbeAt,
		LastLatencyMs:        r.lastLatencyMs,
		ConsecutiveFailures:  r.consecutiveFailures,
		ConsecutiveSuccesses: r.consecutiveSuccesses,
		LastError:            r.lastError,
		RestartCount:         r.restartCount,
		LastRestartAt:        r.lastRestartAt,
		CPUPct:               r.cpuPct,
		MemMB:                r.memMB,
		NetInB:               r.netInB,
		NetOutB:              r.netOutB,
		BlkReadB:             r.blkReadB,
		BlkWriteB:            r.blkWriteB,
		StatsAt:              r.statsAt,
	}

	mutation(&m)

	r.status = m.Status
	r.lastProbeAt = m.LastProbeAt
	r.lastLatencyMs = m.LastLatencyMs
	r.consecutiveFailures = m.ConsecutiveFailures
	r.consecutiveSuccesses = m.ConsecutiveSuccesses
	r.lastError = m.LastError
	r.restartCount = m.RestartCount
	r.lastRestartAt = m.LastRestartAt
	r.cpuPct = m.CPUPct
	r.memMB = m.MemMB
	r.netInB = m.NetInB
	r.netOutB = m.NetOutB
	r.blkReadB = m.BlkReadB
	r.blkWriteB = m.BlkWriteB
	r.statsAt = m.StatsAt

	after = r.status
	return before, after, true
}
