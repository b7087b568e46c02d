package types

import "time"

// StatusSnapshot is a consistent, torn-read-free point-in-time view of
// one service's dynamic status, as returned by Registry.get/list. It is
// a plain value — copying it never races with the Reconciler's writes.
type StatusSnapshot struct {
	Service Service

	Status               Status
	LastProbeAt          time.Time
	LastLatencyMs        float64
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastError            string
	RestartCount         int
	LastRestartAt        time.Time
	ErrorRate            float64 // fraction over the ring, 0..1

	CPUPct   float64
	MemMB    float64
	NetInB   uint64
	NetOutB  uint64
	BlkReadB uint64
	BlkWriteB uint64
	StatsAt  time.Time
}

// Aggregate is the fleet-wide summary returned by Registry.aggregate().
type Aggregate struct {
	Total         int
	Healthy       int
	Degraded      int
	Unhealthy     int
	Unknown       int
	CriticalDown  int
	AvgLatencyMs  float64
}
