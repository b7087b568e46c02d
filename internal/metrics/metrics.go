// Package metrics defines the Prometheus series from spec.md §4.8 and
// adapts them to the small per-component counter interfaces the rest
// of the engine depends on (scheduler.Metrics, broadcaster.DropCounter,
// middleware.AuthCounters, alertengine.Counters), so the engine's
// components never import the prometheus client directly.
//
// Grounded on r3e-network-service_layer's infrastructure/metrics
// package: one struct holding every collector, a constructor that
// registers them all against a Registerer, and small Record* helper
// methods — generalized from that repo's HTTP/DB/blockchain series to
// the fleet-health series this spec names.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registerer re-exports prometheus.Registerer so callers that only
// need to pass one through (engine.New) don't need their own import of
// the prometheus client package.
type Registerer = prometheus.Registerer

// Sink holds every collector the monitor engine publishes.
type Sink struct {
	// Gauges
	ServiceHealthStatus   *prometheus.GaugeVec
	ServiceCPUPercent     *prometheus.GaugeVec
	ServiceMemoryMB       *prometheus.GaugeVec
	ServiceErrorRate      *prometheus.GaugeVec
	WebSocketConnActive   prometheus.Gauge

	// Counters
	HealthChecksTotal        *prometheus.CounterVec
	ServiceRestartsTotal     *prometheus.CounterVec
	MonitorUptimeTotal       prometheus.Counter
	ComposeActionsTotal      *prometheus.CounterVec
	ComposeUnauthorizedTotal prometheus.Counter
	RestartUnauthorizedTotal prometheus.Counter
	OpenModeAllowedTotal     prometheus.Counter
	HTTPRequestsTotal        *prometheus.CounterVec
	ServiceNetworkInBytes    *prometheus.CounterVec
	ServiceNetworkOutBytes   *prometheus.CounterVec
	ServiceBlockReadBytes    *prometheus.CounterVec
	ServiceBlockWriteBytes   *prometheus.CounterVec
	ProbeSkippedTotal        *prometheus.CounterVec
	BroadcastDroppedTotal    *prometheus.CounterVec
	ReconcilerOverflowTotal  prometheus.Counter
	WebhookDeliveredTotal    *prometheus.CounterVec

	// Histograms
	ServiceResponseTimeSeconds *prometheus.HistogramVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	ComposeActionDurationSeconds *prometheus.HistogramVec
	ServiceRestartDurationSeconds *prometheus.HistogramVec

	startedAt time.Time
}

// New builds a Sink and registers every collector against registerer.
// Passing prometheus.NewRegistry() (rather than the global
// DefaultRegisterer) keeps tests hermetic.
func New(registerer prometheus.Registerer) *Sink {
	s := &Sink{
		startedAt: time.Now(),

		ServiceHealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_health_status", Help: "0=Unknown 1=Healthy 2=Degraded 3=Unhealthy",
		}, []string{"service_id"}),
		ServiceCPUPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_cpu_usage_percent", Help: "Container CPU usage percent",
		}, []string{"service_id"}),
		ServiceMemoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_memory_usage_megabytes", Help: "Container memory usage in megabytes",
		}, []string{"service_id"}),
		ServiceErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_error_rate", Help: "Failures per minute over a rolling 5-minute window",
		}, []string{"service_id"}),
		WebSocketConnActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connections_active", Help: "Currently connected WebSocket subscribers",
		}),

		HealthChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "health_checks_total", Help: "Completed health probes",
		}, []string{"status"}),
		ServiceRestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_restarts_total", Help: "Restart actions dispatched",
		}, []string{"success"}),
		MonitorUptimeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_uptime_seconds_total", Help: "Cumulative process uptime in seconds",
		}),
		ComposeActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compose_actions_total", Help: "Compose actions dispatched",
		}, []string{"action", "success"}),
		ComposeUnauthorizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compose_unauthorized_total", Help: "Rejected compose requests",
		}),
		RestartUnauthorizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "restart_unauthorized_total", Help: "Rejected restart requests",
		}),
		OpenModeAllowedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "open_mode_allowed_total", Help: "Requests allowed because no auth is configured",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total", Help: "HTTP requests served",
		}, []string{"method", "path", "status"}),
		ServiceNetworkInBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_network_in_bytes", Help: "Cumulative container network bytes received",
		}, []string{"service_id"}),
		ServiceNetworkOutBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_network_out_bytes", Help: "Cumulative container network bytes sent",
		}, []string{"service_id"}),
		ServiceBlockReadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_block_read_bytes", Help: "Cumulative container block device bytes read",
		}, []string{"service_id"}),
		ServiceBlockWriteBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_block_write_bytes", Help: "Cumulative container block device bytes written",
		}, []string{"service_id"}),
		ProbeSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "probe_skipped_total", Help: "Probe ticks dropped because the worker pool was saturated",
		}, []string{"service_id"}),
		BroadcastDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcast_dropped_total", Help: "Events dropped for a slow subscriber",
		}, []string{"subscriber"}),
		ReconcilerOverflowTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_overflow_total", Help: "Outcomes dropped because the reconciler ingest channel was full",
		}),
		WebhookDeliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_webhook_delivered_total", Help: "Alert webhook delivery attempts",
		}, []string{"success"}),

		ServiceResponseTimeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "service_response_time_seconds", Help: "Probe latency", Buckets: prometheus.DefBuckets,
		}, []string{"service_id"}),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds", Help: "HTTP handler duration", Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ComposeActionDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "compose_action_duration_seconds", Help: "Compose action duration",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"action"}),
		ServiceRestartDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "service_restart_duration_seconds", Help: "Restart action duration",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30},
		}, []string{"service_id"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			s.ServiceHealthStatus, s.ServiceCPUPercent, s.ServiceMemoryMB, s.ServiceErrorRate, s.WebSocketConnActive,
			s.HealthChecksTotal, s.ServiceRestartsTotal, s.MonitorUptimeTotal, s.ComposeActionsTotal,
			s.ComposeUnauthorizedTotal, s.RestartUnauthorizedTotal, s.OpenModeAllowedTotal, s.HTTPRequestsTotal,
			s.ServiceNetworkInBytes, s.ServiceNetworkOutBytes, s.ServiceBlockReadBytes, s.ServiceBlockWriteBytes,
			s.ProbeSkippedTotal, s.BroadcastDroppedTotal, s.ReconcilerOverflowTotal, s.WebhookDeliveredTotal,
			s.ServiceResponseTimeSeconds, s.HTTPRequestDurationSeconds, s.ComposeActionDurationSeconds,
			s.ServiceRestartDurationSeconds,
		)
	}
	return s
}

// --- adapters satisfying other packages' small collaborator interfaces ---

// IncProbeSkipped implements scheduler.Metrics.
func (s *Sink) IncProbeSkipped(serviceID string) {
	s.ProbeSkippedTotal.WithLabelValues(serviceID).Inc()
}

// IncBroadcastDropped implements broadcaster.DropCounter.
func (s *Sink) IncBroadcastDropped(subscriberID string) {
	s.BroadcastDroppedTotal.WithLabelValues(subscriberID).Inc()
}

// IncOpenModeAllowed implements middleware.AuthCounters.
func (s *Sink) IncOpenModeAllowed() { s.OpenModeAllowedTotal.Inc() }

// IncRestartUnauthorized implements middleware.AuthCounters.
func (s *Sink) IncRestartUnauthorized() { s.RestartUnauthorizedTotal.Inc() }

// IncComposeUnauthorized implements middleware.AuthCounters.
func (s *Sink) IncComposeUnauthorized() { s.ComposeUnauthorizedTotal.Inc() }

// IncWebhookSent implements alertengine.Counters.
func (s *Sink) IncWebhookSent(success bool) {
	s.WebhookDeliveredTotal.WithLabelValues(boolLabel(success)).Inc()
}

// --- direct recording helpers used by the components that own these series ---

// RecordProbe records a completed health check into the counter and
// latency histogram.
func (s *Sink) RecordProbe(serviceID, status string, latencyMs float64) {
	s.HealthChecksTotal.WithLabelValues(status).Inc()
	s.ServiceResponseTimeSeconds.WithLabelValues(serviceID).Observe(latencyMs / 1000.0)
}

// SetServiceStatus updates the service_health_status gauge (0..3).
func (s *Sink) SetServiceStatus(serviceID string, statusValue int) {
	s.ServiceHealthStatus.WithLabelValues(serviceID).Set(float64(statusValue))
}

// SetErrorRate updates the service_error_rate gauge.
func (s *Sink) SetErrorRate(serviceID string, failuresPerMinute float64) {
	s.ServiceErrorRate.WithLabelValues(serviceID).Set(failuresPerMinute)
}

// RecordStatsSample updates the resource gauges and cumulative byte
// counters for one container stats sample.
func (s *Sink) RecordStatsSample(serviceID string, cpuPct, memMB float64, netIn, netOut, blkRead, blkWrite uint64) {
	s.ServiceCPUPercent.WithLabelValues(serviceID).Set(cpuPct)
	s.ServiceMemoryMB.WithLabelValues(serviceID).Set(memMB)
	s.ServiceNetworkInBytes.WithLabelValues(serviceID).Add(float64(netIn))
	s.ServiceNetworkOutBytes.WithLabelValues(serviceID).Add(float64(netOut))
	s.ServiceBlockReadBytes.WithLabelValues(serviceID).Add(float64(blkRead))
	s.ServiceBlockWriteBytes.WithLabelValues(serviceID).Add(float64(blkWrite))
}

// RecordRestart records a restart action's outcome and duration.
func (s *Sink) RecordRestart(serviceID string, success bool, d time.Duration) {
	s.ServiceRestartsTotal.WithLabelValues(boolLabel(success)).Inc()
	s.ServiceRestartDurationSeconds.WithLabelValues(serviceID).Observe(d.Seconds())
}

// RecordComposeAction records a compose action's outcome and duration.
func (s *Sink) RecordComposeAction(action string, success bool, d time.Duration) {
	s.ComposeActionsTotal.WithLabelValues(action, boolLabel(success)).Inc()
	s.ComposeActionDurationSeconds.WithLabelValues(action).Observe(d.Seconds())
}

// RecordHTTPRequest records one served HTTP request.
func (s *Sink) RecordHTTPRequest(method, path, status string, d time.Duration) {
	s.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	s.HTTPRequestDurationSeconds.WithLabelValues(method, path).Observe(d.Seconds())
}

// IncReconcilerOverflow counts an outcome dropped at a full ingest channel.
func (s *Sink) IncReconcilerOverflow() { s.ReconcilerOverflowTotal.Inc() }

// IncWebSocketConnections increments the live-subscriber gauge on connect.
func (s *Sink) IncWebSocketConnections() { s.WebSocketConnActive.Inc() }

// DecWebSocketConnections decrements the live-subscriber gauge on disconnect.
func (s *Sink) DecWebSocketConnections() { s.WebSocketConnActive.Dec() }

// TickUptime advances the cumulative uptime counter by one second; call
// from a 1s ticker so the counter is monotonic across scrapes.
func (s *Sink) TickUptime() { s.MonitorUptimeTotal.Add(1) }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
