// Package amqprelay is an optional Broadcaster subscriber (SPEC_FULL.md
// §2) that forwards every Event onto a RabbitMQ fanout exchange in a
// MassTransit-compatible envelope, for fleets that already standardized
// on an AMQP bus for cross-service notification.
//
// Grounded on the teacher's internal/messaging.Publisher: the same
// no-op-when-unconfigured duality, the same MassTransit envelope shape
// and per-type exchange naming, retargeted at the Event tagged union
// instead of ToskaMesh's three discovery-only event structs.
package amqprelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fleetwatch/sentinel/internal/broadcaster"
	"github.com/fleetwatch/sentinel/internal/types"
)

type envelope struct {
	MessageID   string   `json:"messageId"`
	MessageType []string `json:"messageType"`
	Message     any      `json:"message"`
	SentTime    time.Time `json:"sentTime"`
	Host        host     `json:"host"`
}

type host struct {
	ProcessName string `json:"processName"`
	Assembly    string `json:"assembly"`
}

// Relay publishes every Event onto a fanout exchange named after its kind.
type Relay struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// New connects to url. If url is empty, Run logs events instead of
// sending them, matching the teacher's no-op publisher behavior.
func New(url string, logger *slog.Logger) (*Relay, error) {
	if url == "" {
		logger.Info("amqp relay disabled, no url configured")
		return &Relay{logger: logger}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &Relay{conn: conn, ch: ch, logger: logger}, nil
}

// Close releases the AMQP connection.
func (r *Relay) Close() error {
	if r.ch != nil {
		r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// Run subscribes to every event and relays it until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, b *broadcaster.Broadcaster) {
	sub := b.Subscribe(nil)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			r.publish(ctx, ev)
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev types.Event) {
	exchange := "FleetSentinel:" + ev.Kind.String()
	env := envelope{
		MessageID:   fmt.Sprintf("%d", ev.At.UnixNano()),
		MessageType: []string{"urn:message:" + exchange},
		Message:     ev,
		SentTime:    time.Now().UTC(),
		Host:        host{ProcessName: "sentinel", Assembly: "fleetwatch-sentinel"},
	}

	body, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("amqp relay marshal failed", "error", err)
		return
	}

	if r.ch == nil {
		r.logger.Debug("event relayed (no-op)", "kind", ev.Kind.String())
		return
	}

	if err := r.ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		r.logger.Warn("amqp exchange declare failed", "exchange", exchange, "error", err)
		return
	}
	if err := r.ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType: "application/vnd.masstransit+json",
		Body:        body,
	}); err != nil {
		r.logger.Warn("amqp publish failed", "exchange", exchange, "error", err)
	}
}
