package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

type countingRunner struct {
	count atomic.Int64
	block chan struct{}
}

func (r *countingRunner) Probe(ctx context.Context, svc types.Service) {
	if r.block != nil {
		<-r.block
	}
	r.count.Add(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_FiresProbesPeriodically(t *testing.T) {
	runner := &countingRunner{}
	s := New(Config{BatchSize: 2}, runner, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcs := []types.Service{{ID: "api"}, {ID: "worker"}}
	s.Start(ctx, svcs, func(types.Service) time.Duration { return 10 * time.Millisecond })
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runner.count.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 probes, got %d", runner.count.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type countingMetrics struct {
	mu      sync.Mutex
	skipped map[string]int
}

func (m *countingMetrics) IncProbeSkipped(serviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.skipped == nil {
		m.skipped = make(map[string]int)
	}
	m.skipped[serviceID]++
}

func TestScheduler_ShedsWhenPoolSaturated(t *testing.T) {
	block := make(chan struct{})
	runner := &countingRunner{block: block}
	metrics := &countingMetrics{}

	// One worker and an unbuffered jobs channel: the second tick while
	// the first probe is still in flight must be dropped, not queued.
	s := New(Config{BatchSize: 1}, runner, metrics, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svcs := []types.Service{{ID: "api"}}
	s.Start(ctx, svcs, func(types.Service) time.Duration { return 5 * time.Millisecond })

	time.Sleep(200 * time.Millisecond)
	close(block)
	s.Stop()

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.skipped["api"] == 0 {
		t.Fatal("expected at least one skipped probe while the pool was saturated")
	}
}

func TestScheduler_StopDrainsWorkers(t *testing.T) {
	runner := &countingRunner{}
	s := New(Config{BatchSize: 2}, runner, nil, discardLogger())

	ctx := context.Background()
	s.Start(ctx, []types.Service{{ID: "api"}}, func(types.Service) time.Duration { return time.Hour })

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stop to return once workers drain")
	}
}

// TestScheduler_SubmitShedsWithoutAnyReadyWorker proves the jobs channel
// itself carries no buffer: with zero workers running to receive, a
// single submit() must shed immediately rather than queue, which a
// buffered channel of size BatchSize would silently accept instead.
func TestScheduler_SubmitShedsWithoutAnyReadyWorker(t *testing.T) {
	metrics := &countingMetrics{}
	s := New(Config{BatchSize: 1}, &countingRunner{}, metrics, discardLogger())

	s.submit(types.Service{ID: "api"})

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.skipped["api"] != 1 {
		t.Fatalf("expected submit with no ready worker to shed immediately, skipped=%d", metrics.skipped["api"])
	}
}
