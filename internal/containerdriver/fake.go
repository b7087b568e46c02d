package containerdriver

import (
	"context"
	"sync"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

// FakeDriver is an in-memory Driver for tests, scripted per call via
// the exported hook fields. A nil hook falls back to a successful
// zero-value response.
type FakeDriver struct {
	mu sync.Mutex

	RestartFunc func(ctx context.Context, containerName string) error
	StatsFunc   func(ctx context.Context, containerName string) (types.ContainerStats, error)
	ComposeFunc func(ctx context.Context, spec types.ComposeSpec) (types.ComposeResult, error)

	RestartCalls []string
	ComposeCalls []types.ComposeSpec
}

func (f *FakeDriver) Restart(ctx context.Context, containerName string) error {
	f.mu.Lock()
	f.RestartCalls = append(f.RestartCalls, containerName)
	f.mu.Unlock()
	if f.RestartFunc != nil {
		return f.RestartFunc(ctx, containerName)
	}
	return nil
}

func (f *FakeDriver) Stats(ctx context.Context, containerName string) (types.ContainerStats, error) {
	if f.StatsFunc != nil {
		return f.StatsFunc(ctx, containerName)
	}
	return types.ContainerStats{ServiceID: containerName, At: time.Now()}, nil
}

func (f *FakeDriver) ComposeAction(ctx context.Context, spec types.ComposeSpec) (types.ComposeResult, error) {
	f.mu.Lock()
	f.ComposeCalls = append(f.ComposeCalls, spec)
	f.mu.Unlock()
	if f.ComposeFunc != nil {
		return f.ComposeFunc(ctx, spec)
	}
	return types.ComposeResult{Action: spec.Action, Services: spec.Services, Success: true}, nil
}
