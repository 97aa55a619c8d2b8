package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret is a secret that meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
node:
  id: "test-node"
devices:
  max_minors: 16
  policy: "multi"
  drain_timeout: "2s"
  drain_initial_interval: "5ms"
  drain_max_interval: "100ms"
backing:
  type: "memory"
  max_queues: 4
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Node.ID != "test-node" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "test-node")
	}
	if cfg.Devices.MaxMinors != 16 {
		t.Errorf("Devices.MaxMinors = %d, want 16", cfg.Devices.MaxMinors)
	}
	if cfg.Devices.Policy != PolicyMulti {
		t.Errorf("Devices.Policy = %q, want %q", cfg.Devices.Policy, PolicyMulti)
	}
	if cfg.Devices.DrainTimeout != 2*time.Second {
		t.Errorf("Devices.DrainTimeout = %v, want 2s", cfg.Devices.DrainTimeout)
	}
	if cfg.Devices.DrainInitialInterval != 5*time.Millisecond {
		t.Errorf("Devices.DrainInitialInterval = %v, want 5ms", cfg.Devices.DrainInitialInterval)
	}
	if cfg.Backing.MaxQueues != 4 {
		t.Errorf("Backing.MaxQueues = %d, want 4", cfg.Backing.MaxQueues)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
devices:
  policy: "many"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for unknown policy, got nil")
	}
	if !strings.Contains(err.Error(), "devices.policy") {
		t.Errorf("Load() error = %v, want mention of devices.policy", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing node ID",
			mutate:  func(c *Config) { c.Node.ID = "" },
			wantErr: true,
		},
		{
			name:    "zero max minors",
			mutate:  func(c *Config) { c.Devices.MaxMinors = 0 },
			wantErr: true,
		},
		{
			name:    "max minors beyond 20 bits",
			mutate:  func(c *Config) { c.Devices.MaxMinors = 1<<20 + 1 },
			wantErr: true,
		},
		{
			name:    "unknown policy",
			mutate:  func(c *Config) { c.Devices.Policy = "many" },
			wantErr: true,
		},
		{
			name:    "multi policy",
			mutate:  func(c *Config) { c.Devices.Policy = PolicyMulti },
			wantErr: false,
		},
		{
			name:    "zero drain timeout",
			mutate:  func(c *Config) { c.Devices.DrainTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "drain max below initial",
			mutate:  func(c *Config) { c.Devices.DrainMaxInterval = time.Millisecond },
			wantErr: true,
		},
		{
			name:    "unknown backing type",
			mutate:  func(c *Config) { c.Backing.Type = "nbd" },
			wantErr: true,
		},
		{
			name:    "memory backing without queues",
			mutate:  func(c *Config) { c.Backing.MaxQueues = 0 },
			wantErr: true,
		},
		{
			name:    "exec backing without binary",
			mutate:  func(c *Config) { c.Backing.Type = BackingExec },
			wantErr: true,
		},
		{
			name: "exec backing with binary",
			mutate: func(c *Config) {
				c.Backing.Type = BackingExec
				c.Backing.Exec.Binary = "/usr/bin/cdp-helper"
			},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero websocket ping interval",
			mutate:  func(c *Config) { c.WebSocket.PingInterval = 0 },
			wantErr: true,
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: true,
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWT.Secret = validJWTSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("CDP_DATABASE_PATH", "/custom/path.db")
	t.Setenv("CDP_DEVICES_POLICY", "multi")
	t.Setenv("CDP_MQTT_HOST", "mqtt.example.com")
	t.Setenv("CDP_MQTT_USERNAME", "testuser")
	t.Setenv("CDP_MQTT_PASSWORD", "testpass")
	t.Setenv("CDP_API_HOST", "192.168.1.1")
	t.Setenv("CDP_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("CDP_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.Devices.Policy != PolicyMulti {
		t.Errorf("Devices.Policy = %q, want %q", cfg.Devices.Policy, PolicyMulti)
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Node.ID == "" {
		t.Error("defaultConfig should have non-empty Node.ID")
	}

	if cfg.Devices.MaxMinors != 256 {
		t.Errorf("defaultConfig Devices.MaxMinors = %d, want 256", cfg.Devices.MaxMinors)
	}

	if cfg.Devices.Policy != PolicySingle {
		t.Errorf("defaultConfig Devices.Policy = %q, want %q", cfg.Devices.Policy, PolicySingle)
	}

	if cfg.Backing.Type != BackingMemory {
		t.Errorf("defaultConfig Backing.Type = %q, want %q", cfg.Backing.Type, BackingMemory)
	}

	if cfg.MQTT.Enabled {
		t.Error("defaultConfig should leave MQTT disabled")
	}

	if cfg.API.Port != 8420 {
		t.Errorf("defaultConfig API.Port = %d, want 8420", cfg.API.Port)
	}
}
