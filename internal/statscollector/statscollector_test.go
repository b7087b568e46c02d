package statscollector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fleetwatch/sentinel/internal/containerdriver"
	"github.com/fleetwatch/sentinel/internal/registry"
	"github.com/fleetwatch/sentinel/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collectingPublisher struct {
	mu     sync.Mutex
	events []types.Event
}

func (p *collectingPublisher) Publish(ev types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *collectingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testServices() []types.Service {
	return []types.Service{
		{ID: "api", Name: "API", ContainerName: "api-container"},
		{ID: "scratch", Name: "Scratch job", ContainerName: ""},
	}
}

func TestCollector_SamplesOnlyContainerBackedServices(t *testing.T) {
	reg := registry.New(testServices())
	driver := &containerdriver.FakeDriver{}
	pub := &collectingPublisher{}
	c := New(Config{Enabled: true, IntervalSeconds: 1}, reg, driver, pub, discardLogger())

	c.sampleAll(context.Background())

	if len(driver.RestartCalls) != 0 {
		t.Fatalf("expected no restart calls from stats sampling, got %v", driver.RestartCalls)
	}
	if pub.count() != 1 {
		t.Fatalf("expected exactly 1 StatsSample event (only the container-backed service), got %d", pub.count())
	}
}

func TestCollector_PublishesStatsSampleAndUpdatesRegistry(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	driver := &containerdriver.FakeDriver{
		StatsFunc: func(ctx context.Context, containerName string) (types.ContainerStats, error) {
			return types.ContainerStats{CPUPct: 42, MemMB: 256, At: time.Now()}, nil
		},
	}
	pub := &collectingPublisher{}
	c := New(Config{Enabled: true}, reg, driver, pub, discardLogger())

	c.sampleAll(context.Background())

	snap, _ := reg.Get("api")
	if snap.CPUPct != 42 || snap.MemMB != 256 {
		t.Fatalf("expected registry to be updated with sampled stats, got %+v", snap)
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 StatsSample event, got %d", pub.count())
	}
	ev := pub.events[0]
	if ev.Kind != types.EventStatsSample || ev.StatsSample.ServiceID != "api" {
		t.Fatalf("expected StatsSample event for api, got %+v", ev)
	}
}

func TestCollector_DriverErrorSkipsWithoutPublishing(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	driver := &containerdriver.FakeDriver{
		StatsFunc: func(ctx context.Context, containerName string) (types.ContainerStats, error) {
			return types.ContainerStats{}, errors.New("docker unreachable")
		},
	}
	pub := &collectingPublisher{}
	c := New(Config{Enabled: true}, reg, driver, pub, discardLogger())

	c.sampleAll(context.Background())

	if pub.count() != 0 {
		t.Fatalf("expected no events published when the driver errors, got %d", pub.count())
	}
}

func TestCollector_DisabledRunIsNoOp(t *testing.T) {
	reg := registry.New(testServices())
	driver := &containerdriver.FakeDriver{}
	pub := &collectingPublisher{}
	c := New(Config{Enabled: false}, reg, driver, pub, discardLogger())

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return immediately when disabled")
	}
	if pub.count() != 0 {
		t.Fatalf("expected no sampling when disabled, got %d events", pub.count())
	}
}

func TestCollector_RunSamplesImmediatelyOnStart(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	driver := &containerdriver.FakeDriver{}
	pub := &collectingPublisher{}
	c := New(Config{Enabled: true, IntervalSeconds: 1}, reg, driver, pub, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	if pub.count() == 0 {
		t.Fatal("expected at least the immediate sample on Run start")
	}
}
