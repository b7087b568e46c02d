// Package consulmirror is an optional additive sink (SPEC_FULL.md §2)
// that mirrors every StatusChanged event into a Consul TTL health
// check, so a Consul-based service mesh sitting alongside the fleet can
// observe the monitor's verdict without polling this service's HTTP
// API. It is an ordinary Broadcaster subscriber and never reads back
// from Consul, so it cannot violate invariant #1 (Reconciler is the
// sole writer of ServiceStatus).
//
// Grounded on the teacher's internal/consul.Registry.UpdateHealth,
// reused for its pass/warn/fail TTL mapping.
package consulmirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/consul/api"

	"github.com/fleetwatch/sentinel/internal/broadcaster"
	"github.com/fleetwatch/sentinel/internal/types"
)

// Mirror forwards status transitions to Consul TTL checks.
type Mirror struct {
	client *api.Client
	logger *slog.Logger
}

// New connects to the Consul agent at addr. A Mirror is only meaningful
// when SPEC_FULL.md's consul.addr is configured; callers should skip
// wiring Run when addr is empty.
func New(addr string, logger *slog.Logger) (*Mirror, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Mirror{client: client, logger: logger}, nil
}

// Run subscribes to StatusChanged events and mirrors each into a TTL
// check named "service:<serviceId>" until ctx is cancelled. It assumes
// the service is already registered with Consul by some other process;
// this mirror only updates health, it never registers/deregisters.
func (m *Mirror) Run(ctx context.Context, b *broadcaster.Broadcaster) {
	sub := b.Subscribe(&broadcaster.Filter{
		EventKinds: map[types.EventKind]bool{types.EventStatusChanged: true},
	})
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			m.mirror(ev.StatusChanged)
		}
	}
}

func (m *Mirror) mirror(c *types.StatusChangedPayload) {
	checkID := "service:" + c.ServiceID
	output := fmt.Sprintf("status=%s", c.To)

	var err error
	switch c.To {
	case types.StatusHealthy:
		err = m.client.Agent().PassTTL(checkID, output)
	case types.StatusUnhealthy:
		err = m.client.Agent().FailTTL(checkID, output)
	case types.StatusDegraded:
		err = m.client.Agent().WarnTTL(checkID, output)
	default:
		return
	}
	if err != nil {
		m.logger.Debug("consul mirror update failed", "service_id", c.ServiceID, "error", err)
	}
}
