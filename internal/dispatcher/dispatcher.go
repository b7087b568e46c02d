// Package dispatcher implements the Control Dispatcher (spec.md §4.6):
// per-service action locks, a single global compose mutex, and
// ContainerDriver invocation under a span, finishing every action with
// an ActionCompleted event. Authorization is checked by the caller
// before a command reaches this package.
//
// Grounded on the teacher's CircuitBreaker/Cache pattern of guarding
// mutable state with the narrowest lock that spans exactly the
// operation it protects — here a per-service lock held across the
// restart I/O call, and a single global mutex held across a compose
// invocation, matching spec.md §5's "only locks held across I/O are the
// per-service action lock and the global compose lock."
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetwatch/sentinel/internal/containerdriver"
	"github.com/fleetwatch/sentinel/internal/registry"
	"github.com/fleetwatch/sentinel/internal/tracing"
	"github.com/fleetwatch/sentinel/internal/types"
)

// Publisher receives events the dispatcher emits.
type Publisher interface {
	Publish(types.Event)
}

// Metrics receives action outcome counters/histograms.
type Metrics interface {
	RecordRestart(serviceID string, success bool, d time.Duration)
	RecordComposeAction(action string, success bool, d time.Duration)
}

// Dispatcher serializes mutating commands against the fleet.
type Dispatcher struct {
	reg    *registry.Registry
	driver containerdriver.Driver
	pub    Publisher
	metrics Metrics
	tracer tracing.Tracer
	logger *slog.Logger

	serviceLocks sync.Map // serviceID -> *actionLock, acquired non-blocking via TryLock
	composeMu    sync.Mutex

	nextActionID uint64
	actionIDMu   sync.Mutex
}

// New builds a Dispatcher. tracer may be tracing.Noop.
func New(reg *registry.Registry, driver containerdriver.Driver, pub Publisher, metrics Metrics, tracer tracing.Tracer, logger *slog.Logger) *Dispatcher {
	if tracer == nil {
		tracer = tracing.Noop
	}
	return &Dispatcher{reg: reg, driver: driver, pub: pub, metrics: metrics, tracer: tracer, logger: logger}
}

func (d *Dispatcher) newActionID() string {
	d.actionIDMu.Lock()
	defer d.actionIDMu.Unlock()
	d.nextActionID++
	return fmt.Sprintf("act-%d", d.nextActionID)
}

// actionLock is a non-blocking mutex: TryLock reports false (Busy) when
// already held, rather than queueing — invariant #4 requires at most
// one action in flight per target, not fairness among waiters.
type actionLock struct {
	mu sync.Mutex
}

func (d *Dispatcher) lockFor(serviceID string) *actionLock {
	v, _ := d.serviceLocks.LoadOrStore(serviceID, &actionLock{})
	return v.(*actionLock)
}

// RestartService executes the RestartService command (spec.md §4.6).
// Authorization must already have been checked by the caller (the
// transport layer, via middleware.Authorize); cmd.Principal is not read
// here.
func (d *Dispatcher) RestartService(ctx context.Context, cmd types.Command) (types.Status, error) {
	if cmd.Restart == nil {
		return types.StatusUnknown, types.NewError(types.ErrorInvalid, cmd.RequestID, "missing restart payload")
	}
	serviceID := cmd.Restart.ServiceID

	snap, ok := d.reg.Get(serviceID)
	if !ok {
		return types.StatusUnknown, types.NewError(types.ErrorNotFound, cmd.RequestID, "unknown service %q", serviceID)
	}
	if snap.Service.ContainerName == "" {
		return types.StatusUnknown, types.NewError(types.ErrorInvalid, cmd.RequestID, "service %q has no container to restart", serviceID)
	}

	lock := d.lockFor(serviceID)
	if !lock.mu.TryLock() {
		return types.StatusUnknown, types.NewError(types.ErrorBusy, cmd.RequestID, "restart already in progress for %q", serviceID)
	}
	defer lock.mu.Unlock()

	actionID := d.newActionID()
	started := time.Now()
	d.pub.Publish(types.Event{
		Kind: types.EventActionStarted, At: started,
		ActionStarted: &types.ActionStartedPayload{
			ActionID: actionID, Kind: types.ActionRestartService, Targets: []string{serviceID}, RequestID: cmd.RequestID, At: started,
		},
	})

	spanCtx, end := d.tracer.StartSpan(ctx, "dispatcher.restart", map[string]string{
		"service.id": serviceID, "action.id": actionID, "request.id": cmd.RequestID,
	})
	err := d.driver.Restart(spanCtx, snap.Service.ContainerName)
	end(err)
	duration := time.Since(started)

	success := err == nil
	exitCode := 0
	if err != nil {
		exitCode = 1
	}

	if success {
		d.reg.Apply(serviceID, func(s *registry.MutableStatus) {
			s.RestartCount++
			s.LastRestartAt = time.Now()
			// Grace probe: give the next health check a clean slate
			// rather than counting this restart's inevitable brief
			// unavailability as more consecutive failures.
			s.ConsecutiveFailures = 0
		})
	}

	if d.metrics != nil {
		d.metrics.RecordRestart(serviceID, success, duration)
	}

	completed := time.Now()
	d.pub.Publish(types.Event{
		Kind: types.EventActionCompleted, At: completed,
		ActionCompleted: &types.ActionCompletedPayload{
			ActionID: actionID, Kind: types.ActionRestartService, Success: success, ExitCode: exitCode, RequestID: cmd.RequestID, At: completed,
		},
	})

	if err != nil {
		return types.StatusUnknown, types.NewError(types.ErrorDriverError, cmd.RequestID, "restart %q: %v", serviceID, err)
	}
	after, _ := d.reg.Get(serviceID)
	return after.Status, nil
}

// ComposeAction executes the ComposeAction command (spec.md §4.6).
// Invocations are serialized globally because compose mutates shared
// project state; concurrent callers receive Busy rather than queueing.
func (d *Dispatcher) ComposeAction(ctx context.Context, cmd types.Command) (types.ComposeResult, error) {
	if cmd.Compose == nil {
		return types.ComposeResult{}, types.NewError(types.ErrorInvalid, cmd.RequestID, "missing compose payload")
	}
	spec := *cmd.Compose

	if !types.AllowedComposeActions[spec.Action] {
		return types.ComposeResult{}, types.NewError(types.ErrorInvalid, cmd.RequestID, "unsupported compose action %q", spec.Action)
	}
	for _, id := range spec.Services {
		if _, ok := d.reg.Get(id); !ok {
			return types.ComposeResult{}, types.NewError(types.ErrorInvalid, cmd.RequestID, "unknown service id %q", id)
		}
	}

	if !d.composeMu.TryLock() {
		return types.ComposeResult{}, types.NewError(types.ErrorBusy, cmd.RequestID, "a compose action is already in progress")
	}
	defer d.composeMu.Unlock()

	actionID := d.newActionID()
	started := time.Now()
	d.pub.Publish(types.Event{
		Kind: types.EventActionStarted, At: started,
		ActionStarted: &types.ActionStartedPayload{
			ActionID: actionID, Kind: types.ActionCompose, Targets: spec.Services, RequestID: cmd.RequestID, At: started,
		},
	})

	spanCtx, end := d.tracer.StartSpan(ctx, "dispatcher.compose."+string(spec.Action), map[string]string{
		"action.id": actionID, "compose.action": string(spec.Action), "request.id": cmd.RequestID,
	})
	result, err := d.driver.ComposeAction(spanCtx, spec)
	end(err)
	duration := time.Since(started)

	if d.metrics != nil {
		d.metrics.RecordComposeAction(string(spec.Action), result.Success, duration)
	}

	completed := time.Now()
	d.pub.Publish(types.Event{
		Kind: types.EventActionCompleted, At: completed,
		ActionCompleted: &types.ActionCompletedPayload{
			ActionID: actionID, Kind: types.ActionCompose, Success: result.Success, ExitCode: result.ExitCode, RequestID: cmd.RequestID, At: completed,
		},
	})

	if err != nil {
		return result, types.NewError(types.ErrorDriverError, cmd.RequestID, "compose %s: %v", spec.Action, err)
	}
	return result, nil
}
