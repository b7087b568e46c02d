// Command sentinel runs the Fleet Sentinel monitor engine: it loads
// config, assembles the engine (Registry, Scheduler, Prober,
// Reconciler, Stats Collector, Broadcaster, Control Dispatcher, Alert
// Engine, Metrics & Tracing Sink), wires the optional Consul/AMQP
// sinks, and serves the HTTP/WebSocket transport until signaled to
// stop.
//
// Grounded on the teacher's cmd/healthmonitor/main.go: flag parsing,
// signal.NotifyContext-driven shutdown, and running the server and
// background engine concurrently behind one errgroup-style fan-in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fleetwatch/sentinel/internal/amqprelay"
	"github.com/fleetwatch/sentinel/internal/config"
	"github.com/fleetwatch/sentinel/internal/consulmirror"
	"github.com/fleetwatch/sentinel/internal/containerdriver"
	"github.com/fleetwatch/sentinel/internal/engine"
	"github.com/fleetwatch/sentinel/internal/tracing"
	"github.com/fleetwatch/sentinel/internal/transport"
	"github.com/fleetwatch/sentinel/internal/types"
)

// unavailableDriver stands in for containerdriver.Driver when the
// Docker Engine API client failed to initialize, so a misconfigured
// host degrades restart/compose actions to a clear driver error
// instead of a nil-pointer panic.
type unavailableDriver struct{ cause error }

func (d unavailableDriver) Restart(ctx context.Context, containerName string) error {
	return fmt.Errorf("docker driver unavailable: %w", d.cause)
}

func (d unavailableDriver) Stats(ctx context.Context, containerName string) (types.ContainerStats, error) {
	return types.ContainerStats{}, fmt.Errorf("docker driver unavailable: %w", d.cause)
}

func (d unavailableDriver) ComposeAction(ctx context.Context, spec types.ComposeSpec) (types.ComposeResult, error) {
	return types.ComposeResult{}, fmt.Errorf("docker driver unavailable: %w", d.cause)
}

func main() {
	configPath := flag.String("config", os.Getenv("SENTINEL_CONFIG"), "path to the monitor config YAML file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fleet sentinel: config error:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	var driver containerdriver.Driver
	dockerDriver, err := containerdriver.NewDockerDriver()
	if err != nil {
		logger.Warn("docker client unavailable, container actions will fail", "error", err)
		driver = unavailableDriver{cause: err}
	} else {
		driver = dockerDriver
	}

	tracerProvider, shutdownTracing, err := newTracerProvider(context.Background(), cfg)
	if err != nil {
		logger.Error("tracing setup failed, continuing without tracing", "error", err)
		tracerProvider = nil
		shutdownTracing = func(context.Context) error { return nil }
	}
	tracer := tracing.Noop
	if tracerProvider != nil {
		tracer = tracing.New(tracerProvider, "fleetwatch-sentinel")
	}

	registerer := prometheus.NewRegistry()
	eng := engine.New(cfg, driver, tracer, registerer, logger)
	srv := transport.New(eng, cfg, registerer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	if cfg.Consul.Addr != "" {
		mirror, err := consulmirror.New(cfg.Consul.Addr, logger.With("component", "consulmirror"))
		if err != nil {
			logger.Error("consul mirror disabled", "error", err)
		} else {
			go mirror.Run(ctx, eng.Broadcaster)
		}
	}

	if cfg.AMQP.URL != "" {
		relay, err := amqprelay.New(cfg.AMQP.URL, logger.With("component", "amqprelay"))
		if err != nil {
			logger.Error("amqp relay disabled", "error", err)
		} else {
			defer relay.Close()
			go relay.Run(ctx, eng.Broadcaster)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("transport server exited", "error", err)
		}
		stop()
	}

	wg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// newTracerProvider builds an OTLP-over-HTTP TracerProvider when
// cfg.Tracing.OTLPEndpoint is set; otherwise it returns a nil provider
// and a no-op shutdown so callers fall back to tracing.Noop.
func newTracerProvider(ctx context.Context, cfg config.Config) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if cfg.Tracing.OTLPEndpoint == "" {
		return nil, func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Tracing.OTLPEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("otlp exporter: %w", err)
	}

	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "fleetwatch-sentinel"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider, func(shutdownCtx context.Context) error {
		return errors.Join(provider.Shutdown(shutdownCtx))
	}, nil
}
