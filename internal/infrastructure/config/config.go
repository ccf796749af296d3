package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Pull timeout bounds, in seconds.
const (
	minPullTimeout = 10
	maxPullTimeout = 30
)

// Config is the root configuration structure for the SmartConnect server.
// Values come from YAML and can be overridden by environment variables.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Pull        PullConfig        `yaml:"pull"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ServiceConfig identifies this server instance.
type ServiceConfig struct {
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	// MaxCSVBytes caps the body of a CSV upload.
	MaxCSVBytes int64 `yaml:"max_csv_bytes"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MQTTConfig contains MQTT broker connection settings.
// When disabled, sensor snapshots are not published.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// When enabled, every newly stored reading is mirrored as a point.
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

// PullConfig controls outbound requests to devices and the auto-pull scheduler.
type PullConfig struct {
	// Timeout is the per-attempt HTTP timeout in seconds (10-30).
	Timeout int `yaml:"timeout"`

	// RetryDelay is the delay in minutes before the next attempt after a failed pull.
	RetryDelay int `yaml:"retry_delay"`

	// RestoreConcurrency bounds how many devices are started in parallel at boot.
	RestoreConcurrency int `yaml:"restore_concurrency"`

	// ConnectWindow is how far back, in hours, the first pull of a new device reaches.
	ConnectWindow int `yaml:"connect_window"`
}

// IngestConfig controls CSV ingestion.
type IngestConfig struct {
	// Timezone is applied to CSV timestamps that carry no zone offset.
	Timezone string `yaml:"timezone"`
}

// MaintenanceConfig contains cron schedules for housekeeping jobs.
type MaintenanceConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
	RetentionSchedule string `yaml:"retention_schedule"`
	// RetentionDays is how long readings are kept. 0 keeps them forever.
	RetentionDays int `yaml:"retention_days"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern SMARTCONNECT_SECTION_KEY,
// for example SMARTCONNECT_DATABASE_PATH or SMARTCONNECT_API_PORT.
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "smartconnect",
		},
		Database: DatabaseConfig{
			Path:        "./data/smartconnect.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
			MaxCSVBytes: 10 << 20,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartconnect-server",
			},
			QoS:         1,
			TopicPrefix: "smartconnect",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Pull: PullConfig{
			Timeout:            15,
			RetryDelay:         10,
			RestoreConcurrency: 4,
			ConnectWindow:      24,
		},
		Ingest: IngestConfig{
			Timezone: "UTC",
		},
		Maintenance: MaintenanceConfig{
			Enabled:           true,
			ReconcileSchedule: "@every 5m",
			RetentionSchedule: "@daily",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SMARTCONNECT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("SMARTCONNECT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SMARTCONNECT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("SMARTCONNECT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SMARTCONNECT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SMARTCONNECT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SMARTCONNECT_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("SMARTCONNECT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SMARTCONNECT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Pull.Timeout < minPullTimeout || c.Pull.Timeout > maxPullTimeout {
		errs = append(errs, fmt.Sprintf("pull.timeout must be between %d and %d seconds", minPullTimeout, maxPullTimeout))
	}
	if c.Pull.RetryDelay < 1 {
		errs = append(errs, "pull.retry_delay must be at least 1 minute")
	}
	if c.Pull.RestoreConcurrency < 1 {
		errs = append(errs, "pull.restore_concurrency must be at least 1")
	}
	if c.Pull.ConnectWindow < 1 {
		errs = append(errs, "pull.connect_window must be at least 1 hour")
	}

	if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("ingest.timezone %q is not a known location", c.Ingest.Timezone))
	}

	if c.Maintenance.RetentionDays < 0 {
		errs = append(errs, "maintenance.retention_days must not be negative")
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

// GetPullTimeout returns the per-attempt device request timeout.
func (c *Config) GetPullTimeout() time.Duration {
	return time.Duration(c.Pull.Timeout) * time.Second
}

// GetRetryDelay returns the delay before the next pull after a failure.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Pull.RetryDelay) * time.Minute
}

// GetConnectWindow returns how far back the first pull of a device reaches.
func (c *Config) GetConnectWindow() time.Duration {
	return time.Duration(c.Pull.ConnectWindow) * time.Hour
}

// Location returns the ingest timezone. Validate guarantees it resolves.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
