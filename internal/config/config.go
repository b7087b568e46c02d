// Package config loads and validates the monitor engine's Config
// structure from a YAML file, with environment-variable overrides for
// the handful of secrets and endpoints operators typically inject at
// deploy time rather than checking into a file.
//
// Grounded on the teacher's internal/gateway.Config/DefaultConfig shape
// (nested sub-configs with a single DefaultConfig constructor) and
// r3e-network-service_layer's pkg/config.Load (YAML-file-then-env
// override, tolerant of a missing file), using gopkg.in/yaml.v3 as both
// teacher and pack repos do.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetwatch/sentinel/internal/types"
)

// MonitoringConfig maps to spec.md §6 `monitoring.*` keys.
type MonitoringConfig struct {
	CheckIntervalSeconds int  `yaml:"checkIntervalSeconds"`
	TimeoutSeconds       int  `yaml:"timeoutSeconds"`
	RetryAttempts        int  `yaml:"retryAttempts"`
	BatchSize            int  `yaml:"batchSize"`
	EnableDockerStats    bool `yaml:"enableDockerStats"`
	StatsIntervalSeconds int  `yaml:"statsIntervalSeconds"`
}

// AlertsConfig maps to spec.md §6 `alerts.*` keys.
type AlertsConfig struct {
	EnableNotifications         bool    `yaml:"enableNotifications"`
	WebhookURL                  string  `yaml:"webhookUrl"`
	HighLatencyThresholdMs      float64 `yaml:"highLatencyThresholdMs"`
	ConsecutiveFailuresThreshold int    `yaml:"consecutiveFailuresThreshold"`
	RecoveryThreshold           int     `yaml:"recoveryThreshold"`
}

// ServiceConfig is one entry in the `services[]` config list, the file
// representation of types.Service.
type ServiceConfig struct {
	ID                     string   `yaml:"id"`
	Name                   string   `yaml:"name"`
	Type                   string   `yaml:"type"`
	HealthEndpoint         string   `yaml:"healthEndpoint"`
	ContainerName          string   `yaml:"containerName"`
	ExpectedResponseTimeMs int      `yaml:"expectedResponseTimeMs"`
	Critical               bool     `yaml:"critical"`
	DependsOn              []string `yaml:"dependsOn"`
	DetailedHealth         bool     `yaml:"detailedHealth"`
}

// AuthConfig controls the Control Dispatcher's authorization chain
// (spec.md §4.6, §6). Empty APIKey and HMACSecret together mean open
// dev mode.
type AuthConfig struct {
	APIKey       string   `yaml:"apiKey"`
	HMACSecret   string   `yaml:"hmacSecret"`
	AllowedRoles []string `yaml:"allowedRoles"`
}

// ServerConfig controls the HTTP/WS transport.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	TLSCertPath string `yaml:"tlsCertPath"`
	TLSKeyPath  string `yaml:"tlsKeyPath"`
	StrictTLS   bool   `yaml:"strictTls"`
}

// ConsulConfig enables the optional health mirror sink.
type ConsulConfig struct {
	Addr string `yaml:"addr"`
}

// AMQPConfig enables the optional event relay sink.
type AMQPConfig struct {
	URL string `yaml:"url"`
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	OTLPEndpoint string `yaml:"otelEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Config is the validated structure the monitor engine core consumes.
// Everything under it is immutable for process lifetime — there is no
// hot reload (spec.md §3 Lifecycles).
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Monitoring MonitoringConfig  `yaml:"monitoring"`
	Alerts     AlertsConfig      `yaml:"alerts"`
	Auth       AuthConfig        `yaml:"auth"`
	Consul     ConsulConfig      `yaml:"consul"`
	AMQP       AMQPConfig        `yaml:"amqp"`
	Tracing    TracingConfig     `yaml:"tracing"`
	Services   []ServiceConfig   `yaml:"services"`
	LogLevel   string            `yaml:"logLevel"`
}

// Default returns a Config populated with the defaults named throughout
// spec.md §4 (3 consecutive failures, 2-probe recovery, batch size 10,
// 5s probe timeout, 15s stats interval).
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Monitoring: MonitoringConfig{
			CheckIntervalSeconds: 30,
			TimeoutSeconds:       5,
			RetryAttempts:        2,
			BatchSize:            10,
			EnableDockerStats:    true,
			StatsIntervalSeconds: 15,
		},
		Alerts: AlertsConfig{
			HighLatencyThresholdMs:       1000,
			ConsecutiveFailuresThreshold: 3,
			RecoveryThreshold:            2,
		},
		LogLevel: "info",
	}
}

// Load reads path (falling back to defaults if empty or missing) and
// applies environment overrides for the handful of values spec.md §6
// lists under "Environment (recognized options)". It returns a Fatal
// (per spec.md §7) error on any validation failure.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SENTINEL_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("SENTINEL_HMAC_SECRET"); v != "" {
		cfg.Auth.HMACSecret = v
	}
	if v := os.Getenv("SENTINEL_TLS_CERT"); v != "" {
		cfg.Server.TLSCertPath = v
	}
	if v := os.Getenv("SENTINEL_TLS_KEY"); v != "" {
		cfg.Server.TLSKeyPath = v
	}
	if v := os.Getenv("SENTINEL_OTEL_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
	}
	if v := os.Getenv("SENTINEL_CONSUL_ADDR"); v != "" {
		cfg.Consul.Addr = v
	}
	if v := os.Getenv("SENTINEL_AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}
}

// Validate rejects configurations the engine cannot safely start with:
// missing or duplicate service ids, malformed health endpoint URLs, and
// non-positive intervals. These are Fatal per spec.md §7 — the caller
// should exit non-zero rather than start with a partially-sane engine.
func (c Config) Validate() error {
	if c.Monitoring.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("monitoring.checkIntervalSeconds must be positive")
	}
	if c.Monitoring.TimeoutSeconds <= 0 {
		return fmt.Errorf("monitoring.timeoutSeconds must be positive")
	}
	if c.Monitoring.BatchSize <= 0 {
		return fmt.Errorf("monitoring.batchSize must be positive")
	}
	if c.Monitoring.RetryAttempts < 0 {
		return fmt.Errorf("monitoring.retryAttempts must not be negative")
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		id := strings.TrimSpace(svc.ID)
		if id == "" {
			return fmt.Errorf("service with empty id")
		}
		if id != strings.ToLower(id) {
			return fmt.Errorf("service id %q must be lowercase", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate service id %q", id)
		}
		seen[id] = true

		if svc.HealthEndpoint == "" {
			return fmt.Errorf("service %q: healthEndpoint is required", id)
		}
		u, err := url.Parse(svc.HealthEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("service %q: invalid healthEndpoint %q", id, svc.HealthEndpoint)
		}
	}
	for _, svc := range c.Services {
		for _, dep := range svc.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("service %q depends on unknown service %q", svc.ID, dep)
			}
		}
	}
	return nil
}

// CheckInterval returns the configured probe cadence as a Duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.Monitoring.CheckIntervalSeconds) * time.Second
}

// ToDomainServices converts the file-level service list into the
// core's types.Service values.
func (c Config) ToDomainServices() []types.Service {
	out := make([]types.Service, 0, len(c.Services))
	for _, svc := range c.Services {
		out = append(out, types.Service{
			ID:                     svc.ID,
			Name:                   svc.Name,
			Kind:                   types.ParseServiceKind(svc.Type),
			HealthEndpoint:         svc.HealthEndpoint,
			ContainerName:          svc.ContainerName,
			ExpectedResponseTimeMs: svc.ExpectedResponseTimeMs,
			Critical:               svc.Critical,
			DependsOn:              svc.DependsOn,
			DetailedHealth:         svc.DetailedHealth,
		})
	}
	return out
}
