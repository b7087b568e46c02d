package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfigYAML() string {
	return `
monitoring:
  checkIntervalSeconds: 30
  timeoutSeconds: 5
  batchSize: 10
services:
  - id: api
    name: API
    type: api
    healthEndpoint: http://localhost:8081/health
  - id: worker
    name: Worker
    type: worker
    healthEndpoint: http://localhost:8082/health
    dependsOn: ["api"]
`
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_MissingPathFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error for an empty path, got %v", err)
	}
	if cfg.Monitoring.CheckIntervalSeconds != 30 {
		t.Fatalf("expected default check interval, got %d", cfg.Monitoring.CheckIntervalSeconds)
	}
}

func TestLoad_ValidFileParsesAndValidates(t *testing.T) {
	path := writeTempConfig(t, validConfigYAML())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected valid config to load, got %v", err)
	}
	if len(cfg.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(cfg.Services))
	}
}

func TestLoad_NonexistentFileIsTreatedAsMissing(t *testing.T) {
	cfg, err := Load("/nonexistent/path/sentinel.yaml")
	if err != nil {
		t.Fatalf("expected a missing file to fall back to defaults, got %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestValidate_RejectsEmptyServiceID(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{{ID: "", HealthEndpoint: "http://x/health"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an empty service id to be rejected")
	}
}

func TestValidate_RejectsNonLowercaseID(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{{ID: "API", HealthEndpoint: "http://x/health"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a non-lowercase service id to be rejected")
	}
}

func TestValidate_RejectsDuplicateID(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{
		{ID: "api", HealthEndpoint: "http://x/health"},
		{ID: "api", HealthEndpoint: "http://y/health"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a duplicate service id to be rejected")
	}
}

func TestValidate_RejectsMissingHealthEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{{ID: "api"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a missing healthEndpoint to be rejected")
	}
}

func TestValidate_RejectsMalformedHealthEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{{ID: "api", HealthEndpoint: "not-a-url"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a malformed healthEndpoint to be rejected")
	}
}

func TestValidate_RejectsUnknownDependsOn(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{
		{ID: "api", HealthEndpoint: "http://x/health", DependsOn: []string{"ghost"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an unknown dependsOn reference to be rejected")
	}
}

func TestValidate_RejectsNonPositiveIntervals(t *testing.T) {
	cfg := Default()
	cfg.Monitoring.CheckIntervalSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a non-positive checkIntervalSeconds to be rejected")
	}
}

func TestApplyEnvOverrides_TakesPrecedenceOverFile(t *testing.T) {
	t.Setenv("SENTINEL_API_KEY", "env-key")
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")

	path := writeTempConfig(t, validConfigYAML())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if cfg.Auth.APIKey != "env-key" {
		t.Fatalf("expected env override to win, got %q", cfg.Auth.APIKey)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env log level override, got %q", cfg.LogLevel)
	}
}

func TestToDomainServices_MapsFields(t *testing.T) {
	cfg := Default()
	cfg.Services = []ServiceConfig{
		{ID: "api", Name: "API", Type: "api", HealthEndpoint: "http://x/health", ContainerName: "api-c", Critical: true},
	}

	svcs := cfg.ToDomainServices()
	if len(svcs) != 1 {
		t.Fatalf("expected 1 domain service, got %d", len(svcs))
	}
	svc := svcs[0]
	if svc.ID != "api" || svc.ContainerName != "api-c" || !svc.Critical {
		t.Fatalf("unexpected mapped service: %+v", svc)
	}
}

func TestCheckInterval_ConvertsSecondsToDuration(t *testing.T) {
	cfg := Default()
	cfg.Monitoring.CheckIntervalSeconds = 45
	if got := cfg.CheckInterval(); got.Seconds() != 45 {
		t.Fatalf("expected 45s, got %v", got)
	}
}
