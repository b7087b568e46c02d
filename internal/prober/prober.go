// Package prober executes a single HTTP health check against a
// service's healthEndpoint and publishes the outcome to the
// Reconciler's ingest channel.
//
// Grounded on cuemby-warren's pkg/health/http.go HTTPChecker (the
// request-build/status-range/message shape) generalized with the
// retry-with-backoff and detailed-body-parse rules from spec.md §4.2,
// and wrapped in a span the way the teacher's messaging layer wraps
// publishes (here via the tracing package instead of the teacher's
// direct otel usage, since that concern is centralized).
package prober

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetwatch/sentinel/internal/tracing"
	"github.com/fleetwatch/sentinel/internal/types"
)

// Sink receives completed probe outcomes. The Reconciler implements this.
type Sink interface {
	Ingest(types.ProbeOutcome)
}

// Config controls probe execution.
type Config struct {
	TimeoutSeconds int
	RetryAttempts  int
}

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 2 * time.Second
)

// detailedHealthBody is the shape parsed when a service opts into
// detailed_health probing.
type detailedHealthBody struct {
	Status string `json:"status"`
}

// Prober issues HTTP GET probes and reports outcomes to a Sink.
type Prober struct {
	cfg     Config
	client  *http.Client
	sink    Sink
	tracer  tracing.Tracer
	logger  *slog.Logger
}

// New builds a Prober. tracer may be tracing.Noop.
func New(cfg Config, sink Sink, tracer tracing.Tracer, logger *slog.Logger) *Prober {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	if tracer == nil {
		tracer = tracing.Noop
	}
	return &Prober{
		cfg:    cfg,
		client: &http.Client{},
		sink:   sink,
		tracer: tracer,
		logger: logger,
	}
}

// Probe executes one probe job for svc, with up to cfg.RetryAttempts
// additional attempts on connect/timeout errors, and publishes the
// final outcome to the sink. It implements scheduler.Runner.
func (p *Prober) Probe(ctx context.Context, svc types.Service) {
	spanCtx, end := p.tracer.StartSpan(ctx, "probe."+svc.ID, map[string]string{
		"service.id":   svc.ID,
		"service.name": svc.Name,
	})

	started := time.Now()
	outcome := p.attemptWithRetries(spanCtx, svc, started)
	end(outcomeErr(outcome))

	p.sink.Ingest(outcome)
}

func outcomeErr(o types.ProbeOutcome) error {
	if o.Success() {
		return nil
	}
	return fmt.Errorf("%s: %s", o.Outcome, o.Message)
}

func (p *Prober) attemptWithRetries(ctx context.Context, svc types.Service, started time.Time) types.ProbeOutcome {
	attempts := p.cfg.RetryAttempts + 1
	backoff := backoffBase

	var last types.ProbeOutcome
	for attempt := 0; attempt < attempts; attempt++ {
		last = p.attempt(ctx, svc, started)
		if last.Outcome == types.OutcomeSuccess || last.Outcome == types.OutcomeBadStatus || last.Outcome == types.OutcomeBodyMismatch {
			// Non-retryable: a response was received.
			return last
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
	return last
}

func (p *Prober) attempt(ctx context.Context, svc types.Service, started time.Time) types.ProbeOutcome {
	timeout := time.Duration(p.cfg.TimeoutSeconds) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attemptStart := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, svc.HealthEndpoint, nil)
	if err != nil {
		return p.outcome(svc, attemptStart, types.OutcomeConnectError, 0, fmt.Sprintf("request build failed: %v", err))
	}

	resp, err := p.client.Do(req)
	latency := time.Since(attemptStart)
	if err != nil {
		if reqCtx.Err() != nil {
			return p.outcome(svc, attemptStart, types.OutcomeTimedOut, 0, fmt.Sprintf("timed out after %s", latency))
		}
		return p.outcome(svc, attemptStart, types.OutcomeConnectError, 0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p.outcome(svc, attemptStart, types.OutcomeBadStatus, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	if svc.DetailedHealth {
		if mismatch, msg := p.checkDetailedBody(resp.Body); mismatch {
			return p.outcome(svc, attemptStart, types.OutcomeBodyMismatch, resp.StatusCode, msg)
		}
	}

	o := p.outcome(svc, attemptStart, types.OutcomeSuccess, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	o.LatencyMs = float64(latency.Microseconds()) / 1000.0
	return o
}

func (p *Prober) checkDetailedBody(body io.Reader) (mismatch bool, message string) {
	var parsed detailedHealthBody
	if err := json.NewDecoder(io.LimitReader(body, 64*1024)).Decode(&parsed); err != nil {
		return true, fmt.Sprintf("detailed_health body decode failed: %v", err)
	}
	switch parsed.Status {
	case "ok", "healthy":
		return false, ""
	default:
		return true, fmt.Sprintf("detailed_health status=%q", parsed.Status)
	}
}

func (p *Prober) outcome(svc types.Service, started time.Time, kind types.Outcome, code int, msg string) types.ProbeOutcome {
	return types.ProbeOutcome{
		ServiceID:  svc.ID,
		StartedAt:  started,
		LatencyMs:  float64(time.Since(started).Microseconds()) / 1000.0,
		Outcome:    kind,
		StatusCode: code,
		Message:    msg,
	}
}
