package types

import "time"

// EventKind identifies which variant of the Event tagged union a value
// holds. Consumers (Broadcaster filters, Alert Engine, metrics) switch
// on this instead of type-asserting, each handling the kinds it needs.
type EventKind int

const (
	EventStatusChanged EventKind = iota
	EventProbeCompleted
	EventHighLatency
	EventServiceDown
	EventServiceUp
	EventActionStarted
	EventActionCompleted
	EventStatsSample
)

func (k EventKind) String() string {
	switch k {
	case EventStatusChanged:
		return "StatusChanged"
	case EventProbeCompleted:
		return "ProbeCompleted"
	case EventHighLatency:
		return "HighLatency"
	case EventServiceDown:
		return "ServiceDown"
	case EventServiceUp:
		return "ServiceUp"
	case EventActionStarted:
		return "ActionStarted"
	case EventActionCompleted:
		return "ActionCompleted"
	case EventStatsSample:
		return "StatsSample"
	default:
		return "Unknown"
	}
}

// Event is a tagged union: exactly one of the typed fields below is set,
// selected by Kind. This replaces a dynamic-dispatch class hierarchy —
// consumers switch on Kind and ignore the kinds they do not handle.
type Event struct {
	Kind EventKind
	At   time.Time

	StatusChanged    *StatusChangedPayload
	ProbeCompleted   *ProbeCompletedPayload
	HighLatency      *HighLatencyPayload
	ServiceDown      *ServiceDownPayload
	ServiceUp        *ServiceUpPayload
	ActionStarted    *ActionStartedPayload
	ActionCompleted  *ActionCompletedPayload
	StatsSample      *StatsSamplePayload
}

// ServiceID returns the service the event pertains to, or "" for
// fleet-wide / action events that target multiple services.
func (e Event) ServiceID() string {
	switch e.Kind {
	case EventStatusChanged:
		return e.StatusChanged.ServiceID
	case EventProbeCompleted:
		return e.ProbeCompleted.ServiceID
	case EventHighLatency:
		return e.HighLatency.ServiceID
	case EventServiceDown:
		return e.ServiceDown.ServiceID
	case EventServiceUp:
		return e.ServiceUp.ServiceID
	case EventStatsSample:
		return e.StatsSample.ServiceID
	default:
		return ""
	}
}

type StatusChangedPayload struct {
	ServiceID string
	From      Status
	To        Status
	At        time.Time
}

type ProbeCompletedPayload struct {
	ServiceID string
	Outcome   Outcome
	LatencyMs float64
	At        time.Time
}

type HighLatencyPayload struct {
	ServiceID   string
	LatencyMs   float64
	ThresholdMs float64
	At          time.Time
}

type ServiceDownPayload struct {
	ServiceID           string
	ConsecutiveFailures int
	At                  time.Time
}

type ServiceUpPayload struct {
	ServiceID     string
	DownDurationMs int64
	At             time.Time
}

// ActionKind identifies the kind of mutating command behind an action
// event (distinct from Command.Kind only in that it is event-facing).
type ActionKind int

const (
	ActionRestartService ActionKind = iota
	ActionCompose
)

func (k ActionKind) String() string {
	if k == ActionCompose {
		return "compose"
	}
	return "restart"
}

type ActionStartedPayload struct {
	ActionID  string
	Kind      ActionKind
	Targets   []string
	RequestID string
	At        time.Time
}

type ActionCompletedPayload struct {
	ActionID  string
	Kind      ActionKind
	Success   bool
	ExitCode  int
	RequestID string
	At        time.Time
}

type StatsSamplePayload struct {
	ServiceID string
	CPUPct    float64
	MemMB     float64
	NetInB    uint64
	NetOutB   uint64
	BlkReadB  uint64
	BlkWriteB uint64
	At        time.Time
}
