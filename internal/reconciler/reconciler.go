// Package reconciler implements the four-state status machine
// (Unknown/Healthy/Degraded/Unhealthy) that is the sole writer of
// service status. It ingests probe outcomes from a single channel, so
// per-service serialization falls out of the ingest loop without
// requiring locking from producers.
//
// Structurally this generalizes the teacher's CircuitBreaker
// (closed/open/half-open with failure/recovery thresholds and
// hysteresis) from a binary allow/deny gate into the richer four-state
// classification spec.md §4.3 requires, reusing its
// consecutive-failures/consecutive-successes counters and
// threshold-driven transitions.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetwatch/sentinel/internal/registry"
	"github.com/fleetwatch/sentinel/internal/types"
)

// Publisher receives events the Reconciler emits.
type Publisher interface {
	Publish(types.Event)
}

// Metrics receives reconciler-level counters. A nil Metrics is valid.
type Metrics interface {
	IncReconcilerOverflow()
}

// Thresholds configures the state machine, defaulted per spec.md §4.3.
type Thresholds struct {
	ConsecutiveFailures int     // default 3
	RecoveryThreshold   int     // default 2
	HighLatencyMs       float64 // per-service override wins when set
	HighLatencyDedupe   time.Duration
}

func (t Thresholds) withDefaults() Thresholds {
	if t.ConsecutiveFailures <= 0 {
		t.ConsecutiveFailures = 3
	}
	if t.RecoveryThreshold <= 0 {
		t.RecoveryThreshold = 2
	}
	if t.HighLatencyDedupe <= 0 {
		t.HighLatencyDedupe = 60 * time.Second
	}
	return t
}

// Reconciler owns the ingest channel and applies every outcome to the
// Registry, emitting events through pub.
type Reconciler struct {
	reg        *registry.Registry
	pub        Publisher
	metrics    Metrics
	thresholds Thresholds
	logger     *slog.Logger

	ingest chan types.ProbeOutcome

	// lastHighLatency dedupes HighLatency emission per service.
	lastHighLatency map[string]time.Time
	downSince       map[string]time.Time
}

// New builds a Reconciler. Call Run to start the ingest loop. metrics may
// be nil.
func New(reg *registry.Registry, pub Publisher, metrics Metrics, thresholds Thresholds, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		reg:             reg,
		pub:             pub,
		metrics:         metrics,
		thresholds:      thresholds.withDefaults(),
		logger:          logger,
		ingest:          make(chan types.ProbeOutcome, len(reg.Services())*8),
		lastHighLatency: make(map[string]time.Time),
		downSince:       make(map[string]time.Time),
	}
}

// Ingest enqueues an outcome for processing. Implements prober.Sink. Per
// spec.md §5, the ingest channel is sized generously but is not allowed
// to block producers: a full channel drops the outcome and counts the
// overflow rather than stalling the calling Prober worker.
func (rc *Reconciler) Ingest(o types.ProbeOutcome) {
	select {
	case rc.ingest <- o:
	default:
		if rc.metrics != nil {
			rc.metrics.IncReconcilerOverflow()
		}
		rc.logger.Warn("reconciler ingest channel full, outcome dropped", "service_id", o.ServiceID)
	}
}

// Run drains the ingest channel until ctx is cancelled. Because a
// single goroutine processes all outcomes, per-service transitions are
// serialized without any lock visible to producers.
func (rc *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-rc.ingest:
			rc.reconcile(o)
		}
	}
}

func (rc *Reconciler) reconcile(o types.ProbeOutcome) {
	var svc types.Service
	var emitted []types.Event

	before, after, ok := rc.reg.Apply(o.ServiceID, func(s *registry.MutableStatus) {
		svc = rc.serviceOf(o.ServiceID)
		s.Ring.Push(o)
		s.LastProbeAt = o.StartedAt
		s.LastLatencyMs = o.LatencyMs
		if !o.Success() {
			s.LastError = o.Message
		}

		if o.Success() {
			s.ConsecutiveSuccesses++
			s.ConsecutiveFailures = 0
		} else {
			s.ConsecutiveFailures++
			s.ConsecutiveSuccesses = 0
		}

		next := decide(s, svc, o, rc.thresholds)
		s.Status = next
	})
	if !ok {
		rc.logger.Warn("ingested outcome for unknown service", "service_id", o.ServiceID)
		return
	}

	now := o.StartedAt
	if before != after {
		emitted = append(emitted, types.Event{
			Kind: types.EventStatusChanged,
			At:   now,
			StatusChanged: &types.StatusChangedPayload{
				ServiceID: o.ServiceID, From: before, To: after, At: now,
			},
		})
		if after == types.StatusUnhealthy {
			rc.downSince[o.ServiceID] = now
			snap, _ := rc.reg.Get(o.ServiceID)
			emitted = append(emitted, types.Event{
				Kind: types.EventServiceDown,
				At:   now,
				ServiceDown: &types.ServiceDownPayload{
					ServiceID: o.ServiceID, ConsecutiveFailures: snap.ConsecutiveFailures, At: now,
				},
			})
		}
		if before == types.StatusUnhealthy && after != types.StatusUnhealthy {
			var downMs int64
			if since, had := rc.downSince[o.ServiceID]; had {
				downMs = now.Sub(since).Milliseconds()
				delete(rc.downSince, o.ServiceID)
			}
			emitted = append(emitted, types.Event{
				Kind: types.EventServiceUp,
				At:   now,
				ServiceUp: &types.ServiceUpPayload{
					ServiceID: o.ServiceID, DownDurationMs: downMs, At: now,
				},
			})
		}
	}

	emitted = append(emitted, types.Event{
		Kind: types.EventProbeCompleted,
		At:   now,
		ProbeCompleted: &types.ProbeCompletedPayload{
			ServiceID: o.ServiceID, Outcome: o.Outcome, LatencyMs: o.LatencyMs, At: now,
		},
	})

	threshold := rc.thresholds.HighLatencyMs
	if svc.ExpectedResponseTimeMs > 0 {
		threshold = float64(svc.ExpectedResponseTimeMs)
	}
	if o.Success() && threshold > 0 && o.LatencyMs > threshold {
		if rc.shouldEmitHighLatency(o.ServiceID, now) {
			emitted = append(emitted, types.Event{
				Kind: types.EventHighLatency,
				At:   now,
				HighLatency: &types.HighLatencyPayload{
					ServiceID: o.ServiceID, LatencyMs: o.LatencyMs, ThresholdMs: threshold, At: now,
				},
			})
		}
	}

	for _, ev := range emitted {
		rc.pub.Publish(ev)
	}
}

func (rc *Reconciler) shouldEmitHighLatency(serviceID string, now time.Time) bool {
	last, ok := rc.lastHighLatency[serviceID]
	if ok && now.Sub(last) < rc.thresholds.HighLatencyDedupe {
		return false
	}
	rc.lastHighLatency[serviceID] = now
	return true
}

// serviceOf looks serviceID up in the registry's static service table.
// It is called from inside the Apply mutation; Services() reads only the
// immutable service definitions and takes no record lock.
func (rc *Reconciler) serviceOf(serviceID string) types.Service {
	for _, svc := range rc.reg.Services() {
		if svc.ID == serviceID {
			return svc
		}
	}
	return types.Service{ID: serviceID}
}

// decide applies the ordered transition rules from spec.md §4.3.
// Unhealthy always wins ties against Degraded.
func decide(s *registry.MutableStatus, svc types.Service, o types.ProbeOutcome, th Thresholds) types.Status {
	if s.ConsecutiveFailures >= th.ConsecutiveFailures {
		return types.StatusUnhealthy
	}

	current := s.Status

	if current == types.StatusUnhealthy {
		if s.ConsecutiveSuccesses >= th.RecoveryThreshold {
			return types.StatusHealthy
		}
		return types.StatusUnhealthy
	}

	highLatencyThreshold := th.HighLatencyMs
	if svc.ExpectedResponseTimeMs > 0 {
		highLatencyThreshold = float64(svc.ExpectedResponseTimeMs)
	}

	if current == types.StatusHealthy || current == types.StatusUnknown {
		if o.Success() {
			degraded := (highLatencyThreshold > 0 && o.LatencyMs > highLatencyThreshold) || s.Ring.ErrorRate() > 0.10
			if degraded {
				return types.StatusDegraded
			}
			return types.StatusHealthy
		}
		if current == types.StatusUnknown {
			return types.StatusUnknown
		}
		return current
	}

	if current == types.StatusDegraded {
		if s.Ring.LastNSuccessesBelow(3, highLatencyThreshold) {
			return types.StatusHealthy
		}
		if o.Success() {
			degraded := (highLatencyThreshold > 0 && o.LatencyMs > highLatencyThreshold) || s.Ring.ErrorRate() > 0.10
			if !degraded {
				return types.StatusDegraded
			}
		}
		return types.StatusDegraded
	}

	return current
}
