package types

import (
	"testing"
	"time"
)

func outcome(success bool, latencyMs float64, at time.Time) ProbeOutcome {
	o := ProbeOutcome{ServiceID: "svc", StartedAt: at, LatencyMs: latencyMs, Outcome: OutcomeTimedOut}
	if success {
		o.Outcome = OutcomeSuccess
	}
	return o
}

func TestOutcomeRing_PushAndLen(t *testing.T) {
	r := NewOutcomeRing(3)
	if r.Len() != 0 {
		t.Fatalf("expected empty ring, got len %d", r.Len())
	}
	r.Push(outcome(true, 10, time.Now()))
	r.Push(outcome(true, 10, time.Now()))
	if r.Len() != 2 {
		t.Fatalf("expected len 2, got %d", r.Len())
	}
}

func TestOutcomeRing_EvictsOldestOnceFull(t *testing.T) {
	r := NewOutcomeRing(2)
	r.Push(outcome(true, 1, time.Now()))
	r.Push(outcome(true, 2, time.Now()))
	r.Push(outcome(true, 3, time.Now()))

	if r.Len() != 2 {
		t.Fatalf("expected len capped at 2, got %d", r.Len())
	}
	recent := r.Recent(2)
	if recent[0].LatencyMs != 3 || recent[1].LatencyMs != 2 {
		t.Fatalf("expected [3,2] newest-first, got %+v", recent)
	}
}

func TestOutcomeRing_ErrorRate(t *testing.T) {
	r := NewOutcomeRing(4)
	r.Push(outcome(true, 1, time.Now()))
	r.Push(outcome(false, 1, time.Now()))
	r.Push(outcome(false, 1, time.Now()))
	r.Push(outcome(true, 1, time.Now()))

	if rate := r.ErrorRate(); rate != 0.5 {
		t.Fatalf("expected error rate 0.5, got %v", rate)
	}
}

func TestOutcomeRing_ErrorRateEmptyRing(t *testing.T) {
	r := NewOutcomeRing(4)
	if rate := r.ErrorRate(); rate != 0 {
		t.Fatalf("expected 0 for empty ring, got %v", rate)
	}
}

func TestOutcomeRing_FailuresSince(t *testing.T) {
	r := NewOutcomeRing(10)
	base := time.Now()
	r.Push(outcome(false, 1, base.Add(-10*time.Minute)))
	r.Push(outcome(false, 1, base.Add(-1*time.Minute)))
	r.Push(outcome(true, 1, base))

	cutoff := base.Add(-5 * time.Minute).UnixNano()
	if n := r.FailuresSince(cutoff); n != 1 {
		t.Fatalf("expected 1 failure within cutoff, got %d", n)
	}
}

func TestOutcomeRing_LastNSuccessesBelow(t *testing.T) {
	r := NewOutcomeRing(5)
	r.Push(outcome(true, 50, time.Now()))
	r.Push(outcome(true, 60, time.Now()))

	if !r.LastNSuccessesBelow(2, 100) {
		t.Fatal("expected last 2 successes below 100ms to be true")
	}
	if r.LastNSuccessesBelow(3, 100) {
		t.Fatal("expected false when fewer than n outcomes exist")
	}

	r.Push(outcome(true, 200, time.Now()))
	if r.LastNSuccessesBelow(1, 100) {
		t.Fatal("expected false when latency exceeds threshold")
	}
}

func TestOutcomeRing_LastNSuccessesBelowWithFailure(t *testing.T) {
	r := NewOutcomeRing(5)
	r.Push(outcome(true, 10, time.Now()))
	r.Push(outcome(false, 10, time.Now()))

	if r.LastNSuccessesBelow(2, 100) {
		t.Fatal("expected false when one of the last n outcomes failed")
	}
}
