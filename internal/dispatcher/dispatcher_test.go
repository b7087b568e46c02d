package dispatcher

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
	"github.com/fleetwatch/sentinel/internal/tracing"
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

func (p *collectingPublisher) has(kind types.EventKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func newDispatcher(driver containerdriver.Driver, reg *registry.Registry) (*Dispatcher, *collectingPublisher) {
	pub := &collectingPublisher{}
	return New(reg, driver, pub, nil, tracing.Noop, discardLogger()), pub
}

func TestDispatcher_RestartService_Success(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	driver := &containerdriver.FakeDriver{}
	d, pub := newDispatcher(driver, reg)

	_, err := d.RestartService(context.Background(), types.Command{
		RequestID: "req-1", Restart: &types.RestartSpec{ServiceID: "api"},
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	snap, _ := reg.Get("api")
	if snap.RestartCount != 1 {
		t.Fatalf("expected RestartCount to increment, got %d", snap.RestartCount)
	}
	if len(driver.RestartCalls) != 1 || driver.RestartCalls[0] != "api-container" {
		t.Fatalf("expected driver to be called with api-container, got %v", driver.RestartCalls)
	}
	if !pub.has(types.EventActionStarted) || !pub.has(types.EventActionCompleted) {
		t.Fatal("expected ActionStarted and ActionCompleted events")
	}
}

func TestDispatcher_RestartService_UnknownService(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	d, _ := newDispatcher(&containerdriver.FakeDriver{}, reg)

	_, err := d.RestartService(context.Background(), types.Command{
		Restart: &types.RestartSpec{ServiceID: "nope"},
	})
	var typedErr *types.Error
	if !errors.As(err, &typedErr) || typedErr.Kind != types.ErrorNotFound {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestDispatcher_RestartService_NoContainer(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "scratch"}})
	d, _ := newDispatcher(&containerdriver.FakeDriver{}, reg)

	_, err := d.RestartService(context.Background(), types.Command{
		Restart: &types.RestartSpec{ServiceID: "scratch"},
	})
	var typedErr *types.Error
	if !errors.As(err, &typedErr) || typedErr.Kind != types.ErrorInvalid {
		t.Fatalf("expected ErrorInvalid for a container-less service, got %v", err)
	}
}

func TestDispatcher_RestartService_DriverError(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	driver := &containerdriver.FakeDriver{
		RestartFunc: func(ctx context.Context, containerName string) error {
			return errors.New("docker daemon unreachable")
		},
	}
	d, _ := newDispatcher(driver, reg)

	_, err := d.RestartService(context.Background(), types.Command{
		Restart: &types.RestartSpec{ServiceID: "api"},
	})
	var typedErr *types.Error
	if !errors.As(err, &typedErr) || typedErr.Kind != types.ErrorDriverError {
		t.Fatalf("expected ErrorDriverError, got %v", err)
	}

	snap, _ := reg.Get("api")
	if snap.RestartCount != 0 {
		t.Fatalf("expected RestartCount to stay 0 on failure, got %d", snap.RestartCount)
	}
}

func TestDispatcher_RestartService_ConcurrentRequestsOnlyOneSucceedsWithBusy(t *testing.T) {
	release := make(chan struct{})
	driver := &containerdriver.FakeDriver{
		RestartFunc: func(ctx context.Context, containerName string) error {
			<-release
			return nil
		},
	}
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	d, _ := newDispatcher(driver, reg)

	const n = 5
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.RestartService(context.Background(), types.Command{
				Restart: &types.RestartSpec{ServiceID: "api"},
			})
			results <- err
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	var succeeded, busy int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var typedErr *types.Error
		if errors.As(err, &typedErr) && typedErr.Kind == types.ErrorBusy {
			busy++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 restart to succeed under concurrency, got %d", succeeded)
	}
	if busy != n-1 {
		t.Fatalf("expected the remaining %d requests to be Busy, got %d", n-1, busy)
	}
}

func TestDispatcher_ComposeAction_Success(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	driver := &containerdriver.FakeDriver{}
	d, pub := newDispatcher(driver, reg)

	result, err := d.ComposeAction(context.Background(), types.Command{
		Compose: &types.ComposeSpec{Action: types.ComposeUp, Services: []string{"api"}},
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful compose result, got %+v", result)
	}
	if len(driver.ComposeCalls) != 1 {
		t.Fatalf("expected one compose invocation, got %d", len(driver.ComposeCalls))
	}
	if !pub.has(types.EventActionCompleted) {
		t.Fatal("expected ActionCompleted event")
	}
}

func TestDispatcher_ComposeAction_UnsupportedAction(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	d, _ := newDispatcher(&containerdriver.FakeDriver{}, reg)

	_, err := d.ComposeAction(context.Background(), types.Command{
		Compose: &types.ComposeSpec{Action: types.ComposeActionKind("destroy")},
	})
	var typedErr *types.Error
	if !errors.As(err, &typedErr) || typedErr.Kind != types.ErrorInvalid {
		t.Fatalf("expected ErrorInvalid for an unsupported action, got %v", err)
	}
}

func TestDispatcher_ComposeAction_UnknownServiceID(t *testing.T) {
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	d, _ := newDispatcher(&containerdriver.FakeDriver{}, reg)

	_, err := d.ComposeAction(context.Background(), types.Command{
		Compose: &types.ComposeSpec{Action: types.ComposeUp, Services: []string{"nope"}},
	})
	var typedErr *types.Error
	if !errors.As(err, &typedErr) || typedErr.Kind != types.ErrorInvalid {
		t.Fatalf("expected ErrorInvalid for an unknown service id, got %v", err)
	}
}

func TestDispatcher_ComposeAction_GlobalLockIsBusyUnderConcurrency(t *testing.T) {
	release := make(chan struct{})
	driver := &containerdriver.FakeDriver{
		ComposeFunc: func(ctx context.Context, spec types.ComposeSpec) (types.ComposeResult, error) {
			<-release
			return types.ComposeResult{Action: spec.Action, Success: true}, nil
		},
	}
	reg := registry.New([]types.Service{{ID: "api", ContainerName: "api-container"}})
	d, _ := newDispatcher(driver, reg)

	const n = 3
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.ComposeAction(context.Background(), types.Command{
				Compose: &types.ComposeSpec{Action: types.ComposeUp},
			})
			results <- err
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	var succeeded, busy int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var typedErr *types.Error
		if errors.As(err, &typedErr) && typedErr.Kind == types.ErrorBusy {
			busy++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 compose action to succeed under the global lock, got %d", succeeded)
	}
	if busy != n-1 {
		t.Fatalf("expected the remaining %d requests to be Busy, got %d", n-1, busy)
	}
}
