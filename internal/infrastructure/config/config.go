package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for MIoT Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Spec      SpecConfig      `yaml:"spec"`
	Sync      SyncConfig      `yaml:"sync"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// CloudConfig contains the vendor cloud account used for cloud-mode
// devices and for fetching capability specs behind restrictive NATs.
type CloudConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Region   string `yaml:"region"`

	// PollInterval is the coordinator's merged poll cadence in seconds.
	PollInterval int `yaml:"poll_interval"`
}

// SpecConfig contains capability spec fetching settings.
type SpecConfig struct {
	// BaseURL overrides the public spec endpoint; used for mirrors.
	BaseURL string `yaml:"base_url"`
}

// SyncConfig contains device synchronization tuning shared by all
// devices unless overridden per device.
type SyncConfig struct {
	// PollInterval is the local poll cadence in seconds.
	PollInterval int `yaml:"poll_interval"`

	// DebounceMode is "skip" or "delay".
	DebounceMode string `yaml:"debounce_mode"`

	// DebounceDelay is the post-write suppression window in seconds
	// when DebounceMode is "delay".
	DebounceDelay int `yaml:"debounce_delay"`

	// CloudWriteDelay is the extended window in seconds after a cloud
	// write acknowledged as still propagating.
	CloudWriteDelay int `yaml:"cloud_write_delay"`

	// FailureThreshold is the number of consecutive failed cycles
	// before a device is marked offline.
	FailureThreshold int `yaml:"failure_threshold"`
}

// DeviceConfig describes one managed device.
type DeviceConfig struct {
	// DID is the numeric device identifier assigned by the vendor.
	DID string `yaml:"did"`

	// Name is a human-readable label used in logs and the API.
	Name string `yaml:"name"`

	// Model is the vendor model string used to resolve the capability
	// spec, e.g. "zhimi.fan.za5".
	Model string `yaml:"model"`

	// Category optionally declares the device category; when empty the
	// adapter derives it from the spec's services.
	Category string `yaml:"category"`

	// Mode selects the transport: "local" or "cloud".
	Mode string `yaml:"mode"`

	// Host and Token configure the local transport. Token is the
	// 32-hex-character device token.
	Host  string `yaml:"host"`
	Token string `yaml:"token"`

	// PollInterval overrides sync.poll_interval for this device, in
	// seconds. Zero inherits the shared value.
	PollInterval int `yaml:"poll_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MIOTCORE_SECTION_KEY
// For example: MIOTCORE_DATABASE_PATH, MIOTCORE_CLOUD_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "MIoT Core",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/miotcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "miotcore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cloud: CloudConfig{
			Region:       "cn",
			PollInterval: 30,
		},
		Sync: SyncConfig{
			PollInterval:     15,
			DebounceMode:     "skip",
			DebounceDelay:    2,
			CloudWriteDelay:  5,
			FailureThreshold: 3,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MIOTCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("MIOTCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("MIOTCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MIOTCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MIOTCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("MIOTCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("MIOTCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Cloud account. Credentials belong in the environment, not the
	// config file.
	if v := os.Getenv("MIOTCORE_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("MIOTCORE_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("MIOTCORE_CLOUD_REGION"); v != "" {
		cfg.Cloud.Region = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Cloud validation: cloud-mode devices need a usable account.
	if c.Cloud.Enabled {
		if c.Cloud.Username == "" || c.Cloud.Password == "" {
			errs = append(errs, "cloud.username and cloud.password are required when cloud is enabled (set MIOTCORE_CLOUD_USERNAME / MIOTCORE_CLOUD_PASSWORD)")
		}
	}

	// Sync validation
	if m := c.Sync.DebounceMode; m != "" && m != "skip" && m != "delay" {
		errs = append(errs, "sync.debounce_mode must be \"skip\" or \"delay\"")
	}

	// Device validation
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.DID == "" {
			errs = append(errs, prefix+".did is required")
		} else if seen[d.DID] {
			errs = append(errs, prefix+".did duplicates an earlier device")
		}
		seen[d.DID] = true
		if d.Model == "" {
			errs = append(errs, prefix+".model is required")
		}
		switch d.Mode {
		case "", "local":
			if d.Host == "" {
				errs = append(errs, prefix+".host is required for local mode")
			}
			if d.Token == "" {
				errs = append(errs, prefix+".token is required for local mode")
			}
		case "cloud":
			if !c.Cloud.Enabled {
				errs = append(errs, prefix+" uses cloud mode but cloud is disabled")
			}
		default:
			errs = append(errs, prefix+".mode must be \"local\" or \"cloud\"")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

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

// DevicePollInterval returns the effective poll cadence for a device.
func (c *Config) DevicePollInterval(d DeviceConfig) time.Duration {
	seconds := d.PollInterval
	if seconds <= 0 {
		seconds = c.Sync.PollInterval
	}
	if seconds <= 0 {
		seconds = 15
	}
	return time.Duration(seconds) * time.Second
}
