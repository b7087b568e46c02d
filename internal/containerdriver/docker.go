package containerdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"

	"github.com/fleetwatch/sentinel/internal/types"
)

// DockerDriver talks to the local Docker Engine API for restart/stats
// and shells out to the docker compose CLI for compose actions (the
// Engine API has no stable compose surface; this is how operators run
// compose in practice).
type DockerDriver struct {
	cli *client.Client
}

// NewDockerDriver connects to the Docker daemon using the standard
// environment-derived configuration (DOCKER_HOST, DOCKER_CERT_PATH, …).
func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker engine: %w", err)
	}
	return &DockerDriver{cli: cli}, nil
}

// Close releases the underlying HTTP transport.
func (d *DockerDriver) Close() error {
	return d.cli.Close()
}

// Restart restarts containerName with a 10-second stop timeout.
func (d *DockerDriver) Restart(ctx context.Context, containerName string) error {
	timeout := 10
	return d.cli.ContainerRestart(ctx, containerName, container.StopOptions{Timeout: &timeout})
}

// Stats takes a single stats sample for containerName (no streaming).
func (d *DockerDriver) Stats(ctx context.Context, containerName string) (types.ContainerStats, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, containerName)
	if err != nil {
		return types.ContainerStats{}, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return types.ContainerStats{}, fmt.Errorf("decode stats: %w", err)
	}

	return types.ContainerStats{
		ServiceID: containerName,
		CPUPct:    cpuPercent(raw),
		MemMB:     float64(raw.MemoryStats.Usage) / (1024 * 1024),
		NetInB:    sumNetwork(raw, false),
		NetOutB:   sumNetwork(raw, true),
		BlkReadB:  blkioBytes(raw, "Read"),
		BlkWriteB: blkioBytes(raw, "Write"),
		At:        time.Now(),
	}, nil
}

// cpuPercent replicates `docker stats`' CPU % formula: the delta of
// container CPU usage over the delta of system CPU usage, scaled by
// the number of online CPUs.
func cpuPercent(s container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if online == 0 {
		online = 1
	}
	return (cpuDelta / sysDelta) * online * 100.0
}

func sumNetwork(s container.StatsResponse, out bool) uint64 {
	var total uint64
	for _, iface := range s.Networks {
		if out {
			total += iface.TxBytes
		} else {
			total += iface.RxBytes
		}
	}
	return total
}

func blkioBytes(s container.StatsResponse, op string) uint64 {
	var total uint64
	for _, entry := range s.BlkioStats.IoServiceBytesRecursive {
		if entry.Op == op {
			total += entry.Value
		}
	}
	return total
}
