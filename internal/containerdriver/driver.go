// Package containerdriver abstracts the container runtime operations
// the engine needs: restarting a container, sampling its resource
// usage, and running docker-compose subcommands against a project.
//
// Grounded on the capability-interface shape the teacher uses for its
// consul.Registry/messaging.Publisher collaborators (small interfaces
// passed into workers by constructor), generalized to wrap the Docker
// Engine API client instead of Consul.
package containerdriver

import (
	"context"

	"github.com/fleetwatch/sentinel/internal/types"
)

// Driver is the capability surface the Stats Collector and Control
// Dispatcher depend on. Implementations: DockerDriver (production),
// FakeDriver (tests).
type Driver interface {
	// Restart restarts the named container.
	Restart(ctx context.Context, containerName string) error

	// Stats returns a one-shot resource usage snapshot for containerName.
	Stats(ctx context.Context, containerName string) (types.ContainerStats, error)

	// ComposeAction runs a docker-compose subcommand and returns its result.
	ComposeAction(ctx context.Context, spec types.ComposeSpec) (types.ComposeResult, error)
}
