package registry

import (
	"testing"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

func testServices() []types.Service {
	return []types.Service{
		{ID: "api", Name: "API", Kind: types.KindAPI, Critical: true},
		{ID: "worker", Name: "Worker", Kind: types.KindWorker},
	}
}

func TestRegistry_NewStartsUnknown(t *testing.T) {
	reg := New(testServices())

	snap, ok := reg.Get("api")
	if !ok {
		t.Fatal("expected api to be registered")
	}
	if snap.Status != types.StatusUnknown {
		t.Fatalf("expected Unknown at startup, got %v", snap.Status)
	}
}

func TestRegistry_GetUnknownService(t *testing.T) {
	reg := New(testServices())
	if _, ok := reg.Get("nope"); ok {
		t.Fatal("expected ok=false for unregistered service")
	}
}

func TestRegistry_ApplyMutatesUnderLock(t *testing.T) {
	reg := New(testServices())

	before, after, ok := reg.Apply("api", func(s *MutableStatus) {
		s.Status = types.StatusHealthy
		s.LastLatencyMs = 12.5
	})
	if !ok {
		t.Fatal("expected Apply to succeed for known service")
	}
	if before != types.StatusUnknown || after != types.StatusHealthy {
		t.Fatalf("expected Unknown->Healthy, got %v->%v", before, after)
	}

	snap, _ := reg.Get("api")
	if snap.Status != types.StatusHealthy || snap.LastLatencyMs != 12.5 {
		t.Fatalf("expected mutation to persist, got %+v", snap)
	}
}

func TestRegistry_ApplyUnknownService(t *testing.T) {
	reg := New(testServices())
	_, _, ok := reg.Apply("nope", func(s *MutableStatus) {})
	if ok {
		t.Fatal("expected Apply to fail for unregistered service")
	}
}

func TestRegistry_Aggregate(t *testing.T) {
	reg := New(testServices())
	reg.Apply("api", func(s *MutableStatus) { s.Status = types.StatusUnhealthy; s.LastLatencyMs = 100 })
	reg.Apply("worker", func(s *MutableStatus) { s.Status = types.StatusHealthy; s.LastLatencyMs = 50 })

	agg := reg.Aggregate()
	if agg.Total != 2 {
		t.Fatalf("expected total 2, got %d", agg.Total)
	}
	if agg.Unhealthy != 1 || agg.Healthy != 1 {
		t.Fatalf("expected 1 unhealthy + 1 healthy, got %+v", agg)
	}
	if agg.CriticalDown != 1 {
		t.Fatalf("expected critical service down to count, got %d", agg.CriticalDown)
	}
	if agg.AvgLatencyMs != 75 {
		t.Fatalf("expected avg latency 75, got %v", agg.AvgLatencyMs)
	}
}

func TestRegistry_ErrorRatePerMinute(t *testing.T) {
	reg := New(testServices())
	now := time.Now()

	reg.Apply("api", func(s *MutableStatus) {
		s.Ring.Push(types.ProbeOutcome{StartedAt: now, Outcome: types.OutcomeTimedOut})
		s.Ring.Push(types.ProbeOutcome{StartedAt: now, Outcome: types.OutcomeTimedOut})
		s.Ring.Push(types.ProbeOutcome{StartedAt: now, Outcome: types.OutcomeSuccess})
	})

	rate := reg.ErrorRatePerMinute("api", 5*time.Minute)
	if rate != 2.0/5.0 {
		t.Fatalf("expected 2 failures / 5 minutes = 0.4, got %v", rate)
	}
}

func TestRegistry_ErrorRatePerMinuteUnknownService(t *testing.T) {
	reg := New(testServices())
	if rate := reg.ErrorRatePerMinute("nope", 5*time.Minute); rate != 0 {
		t.Fatalf("expected 0 for unknown service, got %v", rate)
	}
}

func TestRegistry_List(t *testing.T) {
	reg := New(testServices())
	all := reg.List()
	if len(all) != 2 {
		t.Fatalf("expected 2 services, got %d", len(all))
	}
}

func TestRegistry_Services(t *testing.T) {
	reg := New(testServices())
	svcs := reg.Services()
	if len(svcs) != 2 {
		t.Fatalf("expected 2 static services, got %d", len(svcs))
	}
}
