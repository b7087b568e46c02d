// Package scheduler fires one jittered logical timer per service and
// hands probe jobs to a bounded worker pool, shedding rather than
// queueing when the pool is saturated.
//
// Grounded on the teacher's healthmonitor.Worker.Run/probeAll
// ticker-and-fan-out loop, generalized from one shared interval across
// all instances to a per-service interval with jitter, and from
// unbounded goroutine fan-out to a capped worker pool with shed-on-full
// semantics (the teacher instead ran all probes unconditionally in
// parallel, acceptable there because Consul instance counts are small
// and bounded by operator intent; the spec calls for an explicit cap).
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

// Job is one probe request submitted to the pool.
type Job struct {
	Service types.Service
}

// Runner executes a single probe job. Implemented by the Prober.
type Runner interface {
	Probe(ctx context.Context, svc types.Service)
}

// Metrics receives scheduler-level counters. A nil Metrics is valid.
type Metrics interface {
	IncProbeSkipped(serviceID string)
}

// Config controls scheduling behavior.
type Config struct {
	// BatchSize bounds the number of probes executing concurrently.
	BatchSize int
	// JitterFraction is applied symmetrically to each service's
	// interval (e.g. 0.1 means ±10%).
	JitterFraction float64
}

// Scheduler owns one timer goroutine per service plus a bounded pool of
// probe-executing workers.
type Scheduler struct {
	cfg     Config
	runner  Runner
	metrics Metrics
	logger  *slog.Logger

	jobs chan Job

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Scheduler. Call Start to begin timers and workers.
func New(cfg Config, runner Runner, metrics Metrics, logger *slog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Scheduler{
		cfg:     cfg,
		runner:  runner,
		metrics: metrics,
		logger:  logger,
		jobs:    make(chan Job),
	}
}

// Start launches the worker pool and one jittered timer goroutine per
// service. It returns immediately; call Stop (or cancel ctx) to unwind.
func (s *Scheduler) Start(ctx context.Context, services []types.Service, intervalFor func(types.Service) time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.cfg.BatchSize; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	for _, svc := range services {
		s.wg.Add(1)
		go s.timerLoop(ctx, svc, intervalFor(svc))
	}
}

// Stop cancels all timers and drains the worker pool.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) timerLoop(ctx context.Context, svc types.Service, base time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(s.jittered(base))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.submit(svc)
			timer.Reset(s.jittered(base))
		}
	}
}

func (s *Scheduler) jittered(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if s.cfg.JitterFraction <= 0 {
		return base
	}
	delta := float64(base) * s.cfg.JitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	d := time.Duration(float64(base) + offset)
	if d <= 0 {
		d = base
	}
	return d
}

// submit hands a job to the pool without blocking. A full pool means
// this tick is shed, not queued: the next tick supersedes it.
func (s *Scheduler) submit(svc types.Service) {
	select {
	case s.jobs <- Job{Service: svc}:
	default:
		if s.metrics != nil {
			s.metrics.IncProbeSkipped(svc.ID)
		}
		s.logger.Debug("probe skipped, pool saturated", "service_id", svc.ID)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.runner.Probe(ctx, job.Service)
		}
	}
}
