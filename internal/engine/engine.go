// Package engine wires the monitor engine's components (Registry,
// Scheduler, Prober, Reconciler, Stats Collector, Broadcaster, Control
// Dispatcher, Alert Engine, Metrics & Tracing Sink) into the single
// long-lived object the transport layer and cmd/ depend on.
//
// Grounded on the teacher's cmd/healthmonitor/main.go wiring order
// (registry/publisher -> cache -> worker -> HTTP mux), generalized into
// a reusable constructor so cmd/ stays a thin flag-parsing shim.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetwatch/sentinel/internal/alertengine"
	"github.com/fleetwatch/sentinel/internal/broadcaster"
	"github.com/fleetwatch/sentinel/internal/config"
	"github.com/fleetwatch/sentinel/internal/containerdriver"
	"github.com/fleetwatch/sentinel/internal/dispatcher"
	"github.com/fleetwatch/sentinel/internal/metrics"
	"github.com/fleetwatch/sentinel/internal/prober"
	"github.com/fleetwatch/sentinel/internal/reconciler"
	"github.com/fleetwatch/sentinel/internal/registry"
	"github.com/fleetwatch/sentinel/internal/scheduler"
	"github.com/fleetwatch/sentinel/internal/statscollector"
	"github.com/fleetwatch/sentinel/internal/tracing"
	"github.com/fleetwatch/sentinel/internal/types"
)

// Engine is the assembled monitor engine.
type Engine struct {
	Registry    *registry.Registry
	Broadcaster *broadcaster.Broadcaster
	Dispatcher  *dispatcher.Dispatcher
	Metrics     *metrics.Sink
	Config      config.Config

	scheduler    *scheduler.Scheduler
	prober       *prober.Prober
	reconciler   *reconciler.Reconciler
	statsCollector *statscollector.Collector
	alertEngine  *alertengine.Engine
	metricsListener *metrics.Listener

	startedAt time.Time
}

// New assembles an Engine from cfg. driver and tracer are supplied by
// the caller so tests can substitute a fake driver and a no-op tracer.
func New(cfg config.Config, driver containerdriver.Driver, tracer tracing.Tracer, registerer prometheusRegisterer, logger *slog.Logger) *Engine {
	services := cfg.ToDomainServices()
	reg := registry.New(services)
	sink := metrics.New(registerer)
	bus := broadcaster.New(sink)

	rec := reconciler.New(reg, bus, sink, reconciler.Thresholds{
		ConsecutiveFailures: cfg.Alerts.ConsecutiveFailuresThreshold,
		RecoveryThreshold:   cfg.Alerts.RecoveryThreshold,
		HighLatencyMs:       cfg.Alerts.HighLatencyThresholdMs,
	}, logger.With("component", "reconciler"))

	prb := prober.New(prober.Config{
		TimeoutSeconds: cfg.Monitoring.TimeoutSeconds,
		RetryAttempts:  cfg.Monitoring.RetryAttempts,
	}, rec, tracer, logger.With("component", "prober"))

	sched := scheduler.New(scheduler.Config{
		BatchSize:      cfg.Monitoring.BatchSize,
		JitterFraction: 0.1,
	}, prb, sink, logger.With("component", "scheduler"))

	stats := statscollector.New(statscollector.Config{
		IntervalSeconds: cfg.Monitoring.StatsIntervalSeconds,
		Enabled:         cfg.Monitoring.EnableDockerStats,
	}, reg, driver, bus, logger.With("component", "statscollector"))

	disp := dispatcher.New(reg, driver, bus, sink, tracer, logger.With("component", "dispatcher"))

	// Per DESIGN.md's Open Question decisions: enableNotifications
	// gates only the webhook, never ServiceDown/ServiceUp emission.
	webhookURL := cfg.Alerts.WebhookURL
	if !cfg.Alerts.EnableNotifications {
		webhookURL = ""
	}
	alerts := alertengine.New(alertengine.Config{WebhookURL: webhookURL}, serviceNamer{reg}, sink, logger.With("component", "alertengine"))

	return &Engine{
		Registry:        reg,
		Broadcaster:     bus,
		Dispatcher:      disp,
		Metrics:         sink,
		Config:          cfg,
		scheduler:       sched,
		prober:          prb,
		reconciler:      rec,
		statsCollector:  stats,
		alertEngine:     alerts,
		metricsListener: metrics.NewListener(sink),
		startedAt:       time.Now(),
	}
}

// prometheusRegisterer is metrics.New's parameter type, re-exported
// here so engine.New's signature doesn't force every caller to import
// prometheus directly.
type prometheusRegisterer = metrics.Registerer

type serviceNamer struct{ reg *registry.Registry }

func (n serviceNamer) ServiceName(serviceID string) string {
	if snap, ok := n.reg.Get(serviceID); ok {
		return snap.Service.Name
	}
	return serviceID
}

// Run starts every background component and blocks until ctx is
// cancelled, then waits a bounded drain period before returning
// (spec.md §5 Cancellation).
func (e *Engine) Run(ctx context.Context) {
	e.scheduler.Start(ctx, e.Registry.Services(), func(types.Service) time.Duration {
		return e.Config.CheckInterval()
	})
	go e.reconciler.Run(ctx)
	go e.statsCollector.Run(ctx)
	go e.alertEngine.Run(ctx, e.Broadcaster)
	go e.metricsListener.Run(ctx, e.Broadcaster)
	go e.metricsListener.RunErrorRateTicker(ctx, e.Registry, 30*time.Second)
	go e.runUptimeTicker(ctx)

	<-ctx.Done()
	drain, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-drain.Done():
	}
}

func (e *Engine) runUptimeTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Metrics.TickUptime()
		}
	}
}

// Ingest exposes the Reconciler's Sink for tests that want to drive the
// engine end-to-end without a live HTTP prober.
func (e *Engine) Ingest(o types.ProbeOutcome) {
	e.reconciler.Ingest(o)
}
