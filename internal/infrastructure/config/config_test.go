package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 8080
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  qos: 1
pull:
  timeout: 20
  retry_delay: 5
ingest:
  timezone: "Europe/Paris"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.GetPullTimeout() != 20*time.Second {
		t.Errorf("GetPullTimeout() = %v, want 20s", cfg.GetPullTimeout())
	}
	if cfg.GetRetryDelay() != 5*time.Minute {
		t.Errorf("GetRetryDelay() = %v, want 5m", cfg.GetRetryDelay())
	}
	if got := cfg.Location().String(); got != "Europe/Paris" {
		t.Errorf("Location() = %q, want %q", got, "Europe/Paris")
	}
	if cfg.GetConnectWindow() != 24*time.Hour {
		t.Errorf("GetConnectWindow() = %v, want 24h", cfg.GetConnectWindow())
	}
	// Untouched sections keep their defaults.
	if cfg.Pull.RestoreConcurrency != 4 {
		t.Errorf("Pull.RestoreConcurrency = %d, want 4", cfg.Pull.RestoreConcurrency)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
pull:
  timeout: 90
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for pull.timeout, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
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
			name: "invalid QoS ignored when mqtt disabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = false
				c.MQTT.QoS = 3
			},
			wantErr: false,
		},
		{
			name: "invalid QoS when mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "pull timeout below bound",
			mutate:  func(c *Config) { c.Pull.Timeout = 5 },
			wantErr: true,
		},
		{
			name:    "pull timeout above bound",
			mutate:  func(c *Config) { c.Pull.Timeout = 31 },
			wantErr: true,
		},
		{
			name:    "zero retry delay",
			mutate:  func(c *Config) { c.Pull.RetryDelay = 0 },
			wantErr: true,
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Ingest.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Maintenance.RetentionDays = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
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

	t.Setenv("SMARTCONNECT_DATABASE_PATH", "/custom/path.db")
	t.Setenv("SMARTCONNECT_API_HOST", "192.168.1.1")
	t.Setenv("SMARTCONNECT_API_PORT", "9090")
	t.Setenv("SMARTCONNECT_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SMARTCONNECT_MQTT_USERNAME", "testuser")
	t.Setenv("SMARTCONNECT_MQTT_PASSWORD", "testpass")
	t.Setenv("SMARTCONNECT_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SMARTCONNECT_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
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
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("SMARTCONNECT_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 3000 {
		t.Errorf("API.Port = %d, want default 3000", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Enabled {
		t.Error("defaultConfig should not enable MQTT")
	}
	if cfg.InfluxDB.Enabled {
		t.Error("defaultConfig should not enable InfluxDB")
	}
	if cfg.Pull.RetryDelay != 10 {
		t.Errorf("defaultConfig Pull.RetryDelay = %d, want 10", cfg.Pull.RetryDelay)
	}
	if cfg.Maintenance.ReconcileSchedule == "" {
		t.Error("defaultConfig should have a reconcile schedule")
	}
}
