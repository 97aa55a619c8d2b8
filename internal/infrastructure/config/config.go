package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Device registry policies.
const (
	// PolicySingle allows at most one live device at a time.
	PolicySingle = "single"

	// PolicyMulti allows one live device per free minor number.
	PolicyMulti = "multi"
)

// Backing resource provider types.
const (
	// BackingMemory keeps queue and disk descriptors in process memory.
	BackingMemory = "memory"

	// BackingExec runs a helper process per device as its backing resource.
	BackingExec = "exec"
)

// Config is the root configuration structure for the cdp control plane.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Devices   DevicesConfig   `yaml:"devices"`
	Backing   BackingConfig   `yaml:"backing"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// NodeConfig identifies the host running the control plane.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DevicesConfig controls the device lifecycle.
type DevicesConfig struct {
	// MaxMinors is the size of the minor number space [0, MaxMinors).
	MaxMinors int `yaml:"max_minors"`

	// Policy is "single" (one live device) or "multi".
	Policy string `yaml:"policy"`

	// DrainTimeout bounds how long a remove waits for holders to drain.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// DrainInitialInterval is the first poll interval of the drain backoff.
	DrainInitialInterval time.Duration `yaml:"drain_initial_interval"`

	// DrainMaxInterval caps the drain backoff interval.
	DrainMaxInterval time.Duration `yaml:"drain_max_interval"`
}

// BackingConfig selects and sizes the backing resource provider.
type BackingConfig struct {
	Type string `yaml:"type"`

	// MaxQueues limits how many request queues the memory provider hands out.
	MaxQueues int `yaml:"max_queues"`

	Exec ExecBackingConfig `yaml:"exec"`
}

// ExecBackingConfig describes the helper process started per device.
type ExecBackingConfig struct {
	// Binary is the helper executable.
	Binary string `yaml:"binary"`

	// Args may reference {name}, {minor}, {host}, {repository} and {metadata}.
	Args []string `yaml:"args"`

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// RestartOnFailure restarts a helper that exits while its device is live.
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains control session settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT  JWTConfig       `yaml:"jwt"`
	Keys AccessKeyConfig `yaml:"keys"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// AccessKeyConfig holds Argon2id PHC hashes of the keys exchanged for tokens.
// The admin key grants the privileged role required by control commands.
type AccessKeyConfig struct {
	AdminHash    string `yaml:"admin_hash"`
	OperatorHash string `yaml:"operator_hash"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CDP_SECTION_KEY
// For example: CDP_DATABASE_PATH, CDP_DEVICES_POLICY
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:   "node-001",
			Name: "cdp",
		},
		Devices: DevicesConfig{
			MaxMinors:            256,
			Policy:               PolicySingle,
			DrainTimeout:         10 * time.Second,
			DrainInitialInterval: 10 * time.Millisecond,
			DrainMaxInterval:     500 * time.Millisecond,
		},
		Backing: BackingConfig{
			Type:      BackingMemory,
			MaxQueues: 256,
			Exec: ExecBackingConfig{
				GracefulTimeout:    10 * time.Second,
				MaxRestartAttempts: 3,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/cdp.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cdp-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CDP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CDP_DEVICES_POLICY"); v != "" {
		cfg.Devices.Policy = v
	}

	if v := os.Getenv("CDP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CDP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CDP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CDP_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("CDP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// JWT secret: always override in production
	if v := os.Getenv("CDP_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}

	if c.Devices.MaxMinors < 1 || c.Devices.MaxMinors > maxMinorSpace {
		errs = append(errs, fmt.Sprintf("devices.max_minors must be between 1 and %d", maxMinorSpace))
	}
	if c.Devices.Policy != PolicySingle && c.Devices.Policy != PolicyMulti {
		errs = append(errs, "devices.policy must be \"single\" or \"multi\"")
	}
	if c.Devices.DrainTimeout <= 0 {
		errs = append(errs, "devices.drain_timeout must be positive")
	}
	if c.Devices.DrainInitialInterval <= 0 || c.Devices.DrainMaxInterval < c.Devices.DrainInitialInterval {
		errs = append(errs, "devices.drain_initial_interval must be positive and not exceed drain_max_interval")
	}

	switch c.Backing.Type {
	case BackingMemory:
		if c.Backing.MaxQueues < 1 {
			errs = append(errs, "backing.max_queues must be at least 1")
		}
	case BackingExec:
		if c.Backing.Exec.Binary == "" {
			errs = append(errs, "backing.exec.binary is required for exec backing")
		}
	default:
		errs = append(errs, "backing.type must be \"memory\" or \"exec\"")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be at least 1 second")
	}

	// Tokens carry the privilege bit checked by every control command;
	// a guessable secret would let anyone forge an admin token.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set CDP_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// maxMinorSpace is the largest minor space the allocator accepts (20-bit minors).
const maxMinorSpace = 1 << 20

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
