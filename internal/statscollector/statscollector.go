// Package statscollector periodically samples container resource
// usage for container-backed services and publishes StatsSample
// events. Failures never affect health status — this is purely
// informational.
//
// Grounded on the teacher's healthmonitor.Worker ticker loop, trimmed
// to a single fan-out-per-tick shape (no per-instance breaker; stats
// sampling has no health consequence to gate).
package statscollector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetwatch/sentinel/internal/containerdriver"
	"github.com/fleetwatch/sentinel/internal/registry"
	"github.com/fleetwatch/sentinel/internal/types"
)

// Publisher receives StatsSample events.
type Publisher interface {
	Publish(types.Event)
}

// Config controls sampling behavior.
type Config struct {
	IntervalSeconds int
	Enabled         bool
}

// Collector samples every container-backed service on a fixed interval.
type Collector struct {
	cfg    Config
	reg    *registry.Registry
	driver containerdriver.Driver
	pub    Publisher
	logger *slog.Logger
}

// New builds a Collector. Run is a no-op when cfg.Enabled is false.
func New(cfg Config, reg *registry.Registry, driver containerdriver.Driver, pub Publisher, logger *slog.Logger) *Collector {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 15
	}
	return &Collector{cfg: cfg, reg: reg, driver: driver, pub: pub, logger: logger}
}

// Run blocks, sampling every IntervalSeconds until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	if !c.cfg.Enabled {
		c.logger.Info("stats collector disabled")
		return
	}

	ticker := time.NewTicker(time.Duration(c.cfg.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	c.sampleAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleAll(ctx)
		}
	}
}

func (c *Collector) sampleAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, svc := range c.reg.Services() {
		if svc.ContainerName == "" {
			continue
		}
		wg.Add(1)
		go func(svc types.Service) {
			defer wg.Done()
			c.sampleOne(ctx, svc)
		}(svc)
	}
	wg.Wait()
}

func (c *Collector) sampleOne(ctx context.Context, svc types.Service) {
	sampleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := c.driver.Stats(sampleCtx, svc.ContainerName)
	if err != nil {
		c.logger.Debug("stats sample failed", "service_id", svc.ID, "container", svc.ContainerName, "error", err)
		return
	}
	stats.ServiceID = svc.ID

	c.reg.Apply(svc.ID, func(s *registry.MutableStatus) {
		s.CPUPct = stats.CPUPct
		s.MemMB = stats.MemMB
		s.NetInB = stats.NetInB
		s.NetOutB = stats.NetOutB
		s.BlkReadB = stats.BlkReadB
		s.BlkWriteB = stats.BlkWriteB
		s.StatsAt = stats.At
	})

	c.pub.Publish(types.Event{
		Kind: types.EventStatsSample,
		At:   stats.At,
		StatsSample: &types.StatsSamplePayload{
			ServiceID: svc.ID,
			CPUPct:    stats.CPUPct,
			MemMB:     stats.MemMB,
			NetInB:    stats.NetInB,
			NetOutB:   stats.NetOutB,
			BlkReadB:  stats.BlkReadB,
			BlkWriteB: stats.BlkWriteB,
			At:        stats.At,
		},
	})
}
