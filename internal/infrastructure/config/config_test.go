package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/device"
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
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
scheduler:
  workers: 2
pending:
  block_window: 1s
  wait_window: 10s
history:
  bucket: 1m
  trend_bucket: 1h
adapters:
  virtual:
    enabled: true
    devices:
      - reference: "lamp"
        label: "Hall lamp"
        kind: "switch"
        settings:
          allowed_sources: "timer|api"
      - reference: "thermostat"
        kind: "level"
        settings:
          min: 5
          max: 30
          rate_limit: 2s
  bridges:
    - id: "zwave"
      protocol: "zwave"
      wait_window: 20s
      devices:
        - reference: "node-7"
          kind: "counter"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Scheduler.Workers != 2 {
		t.Errorf("Scheduler.Workers = %d, want 2", cfg.Scheduler.Workers)
	}
	if cfg.Pending.WaitWindow != 10*time.Second {
		t.Errorf("Pending.WaitWindow = %v, want 10s", cfg.Pending.WaitWindow)
	}
	if cfg.Pending.DuplicateFilter != 500*time.Millisecond {
		t.Errorf("Pending.DuplicateFilter = %v, want default 500ms", cfg.Pending.DuplicateFilter)
	}
	if cfg.History.Bucket != time.Minute {
		t.Errorf("History.Bucket = %v, want 1m", cfg.History.Bucket)
	}

	devices := cfg.Adapters.Virtual.Devices
	if len(devices) != 2 {
		t.Fatalf("virtual devices = %d, want 2", len(devices))
	}
	if devices[0].Settings.AllowedSources != device.SourceTimer|device.SourceAPI {
		t.Errorf("lamp allowed sources = %v", devices[0].Settings.AllowedSources)
	}
	if devices[1].Settings.RateLimit != 2*time.Second {
		t.Errorf("thermostat rate limit = %v, want 2s", devices[1].Settings.RateLimit)
	}

	decl, err := devices[1].Declaration()
	if err != nil {
		t.Fatalf("Declaration() error = %v", err)
	}
	if decl.Kind != device.Level || decl.Reference != "thermostat" {
		t.Errorf("Declaration() = %+v", decl)
	}

	if len(cfg.Adapters.Bridges) != 1 || cfg.Adapters.Bridges[0].WaitWindow != 20*time.Second {
		t.Errorf("Bridges = %+v", cfg.Adapters.Bridges)
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

func TestLoad_InvalidSource(t *testing.T) {
	content := `
adapters:
  virtual:
    enabled: true
    devices:
      - reference: "lamp"
        kind: "switch"
        settings:
          allowed_sources: "radio"
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Error("Load() expected error for unknown source name, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Adapters.Virtual = VirtualAdapterConfig{
			Enabled: true,
			Devices: []DeviceConfig{{Reference: "lamp", Kind: "switch"}},
		}
		cfg.Adapters.Bridges = []BridgeConfig{{
			ID:       "zwave",
			Protocol: "zwave",
			Devices:  []DeviceConfig{{Reference: "node-2", Kind: "level"}},
		}}
		return cfg
	}
	lo, hi := 10.0, 5.0

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, "site.id"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"influxdb without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"no workers", func(c *Config) { c.Scheduler.Workers = 0 }, "scheduler.workers"},
		{"zero wait window", func(c *Config) { c.Pending.WaitWindow = 0 }, "pending.wait_window"},
		{"trend bucket not a multiple", func(c *Config) { c.History.TrendBucket = 7 * time.Minute }, "multiple"},
		{"metrics without listen", func(c *Config) { c.Metrics.Listen = "" }, "metrics.listen"},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"unknown kind", func(c *Config) { c.Adapters.Virtual.Devices[0].Kind = "dimmer" }, "not a device kind"},
		{"duplicate reference", func(c *Config) {
			c.Adapters.Virtual.Devices = append(c.Adapters.Virtual.Devices, DeviceConfig{Reference: "lamp", Kind: "text"})
		}, "used twice"},
		{"min above max", func(c *Config) {
			c.Adapters.Virtual.Devices[0].Settings.Min = &lo
			c.Adapters.Virtual.Devices[0].Settings.Max = &hi
		}, "settings.min"},
		{"bridge id clashes with virtual", func(c *Config) { c.Adapters.Bridges[0].ID = "virtual" }, "used twice"},
		{"bridge without mqtt", func(c *Config) { c.MQTT.Enabled = false }, "mqtt.enabled"},
		{"bridge protocol with wildcard", func(c *Config) { c.Adapters.Bridges[0].Protocol = "z/+" }, "protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.Scheduler.Workers = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	if !strings.Contains(err.Error(), "site.id") || !strings.Contains(err.Error(), "scheduler.workers") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")
	t.Setenv("GRAYLOGIC_SCHEDULER_WORKERS", "8")
	t.Setenv("GRAYLOGIC_JOURNAL_PATH", "/var/lib/grayhub/journal.cbor")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Scheduler.Workers != 8 {
		t.Errorf("Scheduler.Workers = %d, want 8", cfg.Scheduler.Workers)
	}
	if cfg.Journal.Path != "/var/lib/grayhub/journal.cbor" {
		t.Errorf("Journal.Path = %q", cfg.Journal.Path)
	}
}

func TestApplyEnvOverrides_IgnoresBadWorkerCount(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_SCHEDULER_WORKERS", "many")
	applyEnvOverrides(cfg)
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("Scheduler.Workers = %d, want default 4", cfg.Scheduler.Workers)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() error = %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Pending.BlockWindow != 3*time.Second || cfg.Pending.WaitWindow != 30*time.Second {
		t.Errorf("pending windows = %v/%v, want 3s/30s", cfg.Pending.BlockWindow, cfg.Pending.WaitWindow)
	}
	if cfg.History.Bucket != 5*time.Minute || cfg.History.TrendBucket != time.Hour {
		t.Errorf("history buckets = %v/%v, want 5m/1h", cfg.History.Bucket, cfg.History.TrendBucket)
	}
}

func TestDeviceDefaults(t *testing.T) {
	cfg := defaultConfig()
	cfg.History.KeepHistoryDays = 3
	cfg.History.KeepTrendsDays = 90

	got := cfg.DeviceDefaults(device.Settings{KeepHistoryDays: 1})
	if got.KeepHistoryDays != 1 || got.KeepTrendsDays != 90 {
		t.Errorf("DeviceDefaults() = %+v, want history 1 trends 90", got)
	}
}
