// Package alertengine subscribes to status-change events and forwards
// them as JSON webhook notifications, deduplicated per service and
// alert kind within a rolling window.
//
// Grounded on the teacher's messaging.Publisher no-op/configured-sink
// duality (empty url ⇒ inert engine, logged instead of sent) and its
// retry-free fire-and-log error handling, adapted to an HTTP webhook
// sink with the bounded-retry behavior spec.md §4.7 adds on top.
package alertengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fleetwatch/sentinel/internal/broadcaster"
	"github.com/fleetwatch/sentinel/internal/types"
)

// Counters receives webhook outcome counters.
type Counters interface {
	IncWebhookSent(success bool)
}

// Config controls the Alert Engine.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
	MaxRetries int
	DedupeWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 60 * time.Second
	}
	return c
}

// alertDoc is the JSON document POSTed to the webhook.
type alertDoc struct {
	Kind        string    `json:"kind"`
	ServiceID   string    `json:"serviceId"`
	ServiceName string    `json:"serviceName"`
	At          time.Time `json:"at"`
	Details     any       `json:"details"`
}

// ServiceNamer resolves a service id to its display name.
type ServiceNamer interface {
	ServiceName(serviceID string) string
}

// Engine is a no-op when cfg.WebhookURL is empty.
type Engine struct {
	cfg     Config
	client  *http.Client
	namer   ServiceNamer
	counters Counters
	logger  *slog.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time // key = serviceID + ":" + kind
}

// New builds an Engine. Run is a no-op when cfg.WebhookURL is empty.
func New(cfg Config, namer ServiceNamer, counters Counters, logger *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		namer:     namer,
		counters:  counters,
		logger:    logger,
		lastFired: make(map[string]time.Time),
	}
}

// Run subscribes to ServiceDown/ServiceUp/HighLatency and forwards
// each to the webhook until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, b *broadcaster.Broadcaster) {
	if e.cfg.WebhookURL == "" {
		e.logger.Info("alert engine disabled, no webhook configured")
		return
	}

	sub := b.Subscribe(&broadcaster.Filter{
		EventKinds: map[types.EventKind]bool{
			types.EventServiceDown: true,
			types.EventServiceUp:   true,
			types.EventHighLatency: true,
		},
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
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev types.Event) {
	serviceID := ev.ServiceID()
	key := serviceID + ":" + ev.Kind.String()

	e.mu.Lock()
	if last, ok := e.lastFired[key]; ok && time.Since(last) < e.cfg.DedupeWindow {
		e.mu.Unlock()
		return
	}
	e.lastFired[key] = time.Now()
	e.mu.Unlock()

	doc := alertDoc{
		Kind:        ev.Kind.String(),
		ServiceID:   serviceID,
		ServiceName: e.namer.ServiceName(serviceID),
		At:          ev.At,
	}
	switch ev.Kind {
	case types.EventServiceDown:
		doc.Details = ev.ServiceDown
	case types.EventServiceUp:
		doc.Details = ev.ServiceUp
	case types.EventHighLatency:
		doc.Details = ev.HighLatency
	}

	body, err := json.Marshal(doc)
	if err != nil {
		e.logger.Error("alert marshal failed", "error", err)
		return
	}

	e.deliverWithRetry(ctx, body)
}

func (e *Engine) deliverWithRetry(ctx context.Context, body []byte) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		success, retryable, err := e.deliverOnce(ctx, body)
		if success {
			e.countSent(true)
			return
		}
		lastErr = err
		if !retryable || attempt == e.cfg.MaxRetries {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	e.countSent(false)
	e.logger.Warn("alert webhook delivery failed", "error", lastErr)
}

func (e *Engine) countSent(success bool) {
	if e.counters != nil {
		e.counters.IncWebhookSent(success)
	}
}

// deliverOnce returns (success, retryable, err). Only 5xx responses and
// network/timeout errors are retryable; a 4xx is a permanent failure.
func (e *Engine) deliverOnce(ctx context.Context, body []byte) (bool, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return false, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, true, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return false, false, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return true, false, nil
}
