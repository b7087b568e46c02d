package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/fleetwatch/sentinel/internal/middleware"
	"github.com/fleetwatch/sentinel/internal/types"
)

// traceContextPropagator extracts an incoming W3C traceparent header so
// spans started for a mutating request (restart, compose) are children
// of the caller's span instead of fresh roots, per spec.md §4.2/§4.8.
var traceContextPropagator = propagation.TraceContext{}

func extractTraceContext(r *http.Request) context.Context {
	return traceContextPropagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// errorResponse is the user-visible failure shape from spec.md §7:
// {errorKind, message, requestId}. No stack traces ever leak.
type errorResponse struct {
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, requestID string) {
	kind := types.ErrorInvalid
	message := err.Error()
	if typed, ok := err.(*types.Error); ok {
		kind = typed.Kind
		message = typed.Message
		if typed.RequestID != "" {
			requestID = typed.RequestID
		}
	}
	writeJSON(w, statusForErrorKind(kind), errorResponse{ErrorKind: kind.String(), Message: message, RequestID: requestID})
}

func statusForErrorKind(k types.ErrorKind) int {
	switch k {
	case types.ErrorUnauthorized:
		return http.StatusUnauthorized
	case types.ErrorBusy:
		return http.StatusConflict
	case types.ErrorNotFound:
		return http.StatusNotFound
	case types.ErrorInvalid:
		return http.StatusBadRequest
	case types.ErrorDriverError, types.ErrorTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return "req-" + time.Now().Format("20060102T150405.000000000")
}

// --- read-only routes, no auth required ---

func (s *Server) handleSelfHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "Healthy",
		"service":   "fleetwatch-sentinel",
		"timestamp": time.Now().UTC(),
	})
}

// aggregateJSON is the camelCase wire shape for GET /health/aggregate,
// distinct from types.Aggregate's Go field names per spec.md §6.
type aggregateJSON struct {
	Total        int     `json:"total"`
	Healthy      int     `json:"healthy"`
	Degraded     int     `json:"degraded"`
	Unhealthy    int     `json:"unhealthy"`
	Unknown      int     `json:"unknown"`
	CriticalDown int     `json:"criticalDown"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	agg := s.eng.Registry.Aggregate()
	writeJSON(w, http.StatusOK, aggregateJSON{
		Total: agg.Total, Healthy: agg.Healthy, Degraded: agg.Degraded, Unhealthy: agg.Unhealthy,
		Unknown: agg.Unknown, CriticalDown: agg.CriticalDown, AvgLatencyMs: agg.AvgLatencyMs,
	})
}

type serviceStatusJSON struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Type                 string  `json:"type"`
	Status               string  `json:"status"`
	LastProbeAt          string  `json:"lastProbeAt,omitempty"`
	LastLatencyMs        float64 `json:"lastLatencyMs"`
	ConsecutiveFailures  int     `json:"consecutiveFailures"`
	ConsecutiveSuccesses int     `json:"consecutiveSuccesses"`
	LastError            string  `json:"lastError,omitempty"`
	RestartCount         int     `json:"restartCount"`
	ErrorRate            float64 `json:"errorRate"`
	Critical             bool    `json:"critical"`
	CPUPct               float64 `json:"cpuPct"`
	MemMB                float64 `json:"memMB"`
}

func toServiceStatusJSON(snap types.StatusSnapshot) serviceStatusJSON {
	out := serviceStatusJSON{
		ID: snap.Service.ID, Name: snap.Service.Name, Type: snap.Service.Kind.String(),
		Status: snap.Status.String(), LastLatencyMs: snap.LastLatencyMs,
		ConsecutiveFailures: snap.ConsecutiveFailures, ConsecutiveSuccesses: snap.ConsecutiveSuccesses,
		LastError: snap.LastError, RestartCount: snap.RestartCount, ErrorRate: snap.ErrorRate,
		Critical: snap.Service.Critical, CPUPct: snap.CPUPct, MemMB: snap.MemMB,
	}
	if !snap.LastProbeAt.IsZero() {
		out.LastProbeAt = snap.LastProbeAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	snaps := s.eng.Registry.List()
	out := make([]serviceStatusJSON, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toServiceStatusJSON(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := s.eng.Registry.Get(id)
	if !ok {
		writeError(w, types.NewError(types.ErrorNotFound, requestID(r), "unknown service %q", id), requestID(r))
		return
	}
	writeJSON(w, http.StatusOK, toServiceStatusJSON(snap))
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	agg := s.eng.Registry.Aggregate()
	writeJSON(w, http.StatusOK, map[string]any{
		"aggregate": aggregateJSON{
			Total: agg.Total, Healthy: agg.Healthy, Degraded: agg.Degraded, Unhealthy: agg.Unhealthy,
			Unknown: agg.Unknown, CriticalDown: agg.CriticalDown, AvgLatencyMs: agg.AvgLatencyMs,
		},
		"services": s.eng.Registry.List(),
	})
}

// --- mutating routes, authorization required ---

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	rid := requestID(r)
	principal, ok := s.authorize(r, "restart")
	if !ok {
		writeError(w, types.NewError(types.ErrorUnauthorized, rid, "unauthorized"), rid)
		return
	}

	id := r.PathValue("id")
	cmd := types.Command{
		Kind: types.CommandRestartService, RequestID: rid, Principal: principal,
		Restart: &types.RestartSpec{ServiceID: id},
	}
	status, err := s.eng.Dispatcher.RestartService(extractTraceContext(r), cmd)
	if err != nil {
		writeError(w, err, rid)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "serviceId": id, "status": status.String()})
}

type composeRequestBody struct {
	Action   string   `json:"action"`
	Services []string `json:"services"`
	File     string   `json:"file"`
	Project  string   `json:"project"`
	Detach   bool     `json:"detach"`
	Tail     string   `json:"tail"`
}

type composeResultJSON struct {
	Action     string   `json:"action"`
	Services   []string `json:"services"`
	Success    bool     `json:"success"`
	StatusCode int      `json:"statusCode"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	rid := requestID(r)
	principal, ok := s.authorize(r, "compose")
	if !ok {
		writeError(w, types.NewError(types.ErrorUnauthorized, rid, "unauthorized"), rid)
		return
	}

	var body composeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, types.NewError(types.ErrorInvalid, rid, "malformed body: %v", err), rid)
		return
	}

	cmd := types.Command{
		Kind: types.CommandComposeAction, RequestID: rid, Principal: principal,
		Compose: &types.ComposeSpec{
			Action: types.ComposeActionKind(body.Action), Services: body.Services,
			File: body.File, Project: body.Project, Detach: body.Detach, Tail: body.Tail,
		},
	}
	result, err := s.eng.Dispatcher.ComposeAction(extractTraceContext(r), cmd)
	if err != nil {
		writeJSON(w, statusForErrorKind(errKind(err)), map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": composeResultJSON{
		Action: string(result.Action), Services: result.Services, Success: result.Success,
		StatusCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr,
	}})
}

func errKind(err error) types.ErrorKind {
	if typed, ok := err.(*types.Error); ok {
		return typed.Kind
	}
	return types.ErrorInvalid
}

func (s *Server) authorize(r *http.Request, label string) (types.Principal, bool) {
	return middleware.Authorize(s.authCfg, r, s.eng.Metrics, label)
}
