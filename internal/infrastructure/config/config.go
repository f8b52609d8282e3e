package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-hub/internal/device"
)

// Config is the root configuration structure for the hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pending   PendingConfig   `yaml:"pending"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Journal   JournalConfig   `yaml:"journal"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig sizes the shared task scheduler.
type SchedulerConfig struct {
	Workers int `yaml:"workers"`
}

// PendingConfig holds the default pending-update windows adapters use when
// they do not set their own.
type PendingConfig struct {
	// BlockWindow is how long a command waits for a busy target.
	BlockWindow time.Duration `yaml:"block_window"`

	// WaitWindow is how long a command waits for its confirmation.
	WaitWindow time.Duration `yaml:"wait_window"`

	// DuplicateFilter drops repeated hardware reports of the same value
	// arriving within this window. Zero disables the filter.
	DuplicateFilter time.Duration `yaml:"duplicate_filter"`
}

// HistoryConfig controls history bucketing and the trend aggregator.
type HistoryConfig struct {
	Bucket          time.Duration `yaml:"bucket"`
	TrendBucket     time.Duration `yaml:"trend_bucket"`
	Interval        time.Duration `yaml:"interval"`
	Stagger         time.Duration `yaml:"stagger"`
	KeepHistoryDays int           `yaml:"keep_history_days"`
	KeepTrendsDays  int           `yaml:"keep_trends_days"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// JournalConfig controls the diagnostics journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AdaptersConfig lists the adapters to start and the devices they declare.
type AdaptersConfig struct {
	Virtual VirtualAdapterConfig `yaml:"virtual"`
	Bridges []BridgeConfig       `yaml:"bridges"`
}

// VirtualAdapterConfig configures the in-process adapter.
type VirtualAdapterConfig struct {
	Enabled bool           `yaml:"enabled"`
	Devices []DeviceConfig `yaml:"devices"`
}

// BridgeConfig configures one MQTT bridge adapter.
type BridgeConfig struct {
	// ID is the adapter id; device references are unique per adapter.
	ID string `yaml:"id"`

	// Protocol is the topic segment the bridge uses, e.g. "zwave".
	Protocol string `yaml:"protocol"`

	// BlockWindow and WaitWindow override the pending defaults.
	BlockWindow time.Duration `yaml:"block_window"`
	WaitWindow  time.Duration `yaml:"wait_window"`

	// RetryInterval is the delay between command retries while the broker
	// is unreachable.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// MaxRetries bounds command retries. Zero uses the adapter default.
	MaxRetries int `yaml:"max_retries"`

	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig declares one device on an adapter.
type DeviceConfig struct {
	Reference string          `yaml:"reference"`
	Label     string          `yaml:"label"`
	Kind      string          `yaml:"kind"`
	Settings  device.Settings `yaml:"settings"`
}

// Declaration converts the config entry to a device declaration.
//
// Returns:
//   - device.Declaration: Declaration ready for Registry.Declare
//   - error: ErrInvalidKind wrapped if the kind is unknown
func (d DeviceConfig) Declaration() (device.Declaration, error) {
	kind, err := device.KindByName(d.Kind)
	if err != nil {
		return device.Declaration{}, err
	}
	return device.Declaration{
		Reference: d.Reference,
		Label:     d.Label,
		Kind:      kind,
		Settings:  d.Settings,
	}, nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_SCHEDULER_WORKERS
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic Hub",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/grayhub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grayhub",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
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
		Scheduler: SchedulerConfig{
			Workers: 4,
		},
		Pending: PendingConfig{
			BlockWindow:     3 * time.Second,
			WaitWindow:      30 * time.Second,
			DuplicateFilter: 500 * time.Millisecond,
		},
		History: HistoryConfig{
			Bucket:          5 * time.Minute,
			TrendBucket:     time.Hour,
			Interval:        5 * time.Minute,
			Stagger:         10 * time.Second,
			KeepHistoryDays: 0,
			KeepTrendsDays:  0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "./data/journal.cbor",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Scheduler
	if v := os.Getenv("GRAYLOGIC_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}

	// Metrics and journal
	if v := os.Getenv("GRAYLOGIC_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv("GRAYLOGIC_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// Validate checks the configuration for errors.
// Every problem is collected so one run reports them all.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not a level", c.Logging.Level))
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required for file output")
	}

	if c.Scheduler.Workers < 1 {
		errs = append(errs, "scheduler.workers must be at least 1")
	}

	if c.Pending.BlockWindow < 0 || c.Pending.WaitWindow <= 0 {
		errs = append(errs, "pending.wait_window must be positive and pending.block_window non-negative")
	}

	if c.History.Bucket <= 0 || c.History.TrendBucket <= 0 {
		errs = append(errs, "history.bucket and history.trend_bucket must be positive")
	} else if c.History.TrendBucket%c.History.Bucket != 0 {
		errs = append(errs, "history.trend_bucket must be a multiple of history.bucket")
	}
	if c.History.Interval <= 0 {
		errs = append(errs, "history.interval must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	errs = append(errs, c.validateAdapters()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateAdapters checks adapter ids and device declarations.
func (c *Config) validateAdapters() []string {
	var errs []string

	if c.Adapters.Virtual.Enabled {
		errs = append(errs, validateDevices("adapters.virtual", c.Adapters.Virtual.Devices)...)
	}

	if len(c.Adapters.Bridges) > 0 && !c.MQTT.Enabled {
		errs = append(errs, "adapters.bridges require mqtt.enabled")
	}

	seen := map[string]bool{"virtual": c.Adapters.Virtual.Enabled}
	for i, b := range c.Adapters.Bridges {
		prefix := fmt.Sprintf("adapters.bridges[%d]", i)
		switch {
		case b.ID == "":
			errs = append(errs, prefix+".id is required")
		case seen[b.ID]:
			errs = append(errs, fmt.Sprintf("%s.id %q is used twice", prefix, b.ID))
		}
		seen[b.ID] = true

		if b.Protocol == "" || strings.ContainsAny(b.Protocol, "/+#") {
			errs = append(errs, prefix+".protocol must be a single topic segment")
		}
		if b.BlockWindow < 0 || b.WaitWindow < 0 || b.RetryInterval < 0 || b.MaxRetries < 0 {
			errs = append(errs, prefix+" windows and retries must not be negative")
		}
		errs = append(errs, validateDevices(prefix, b.Devices)...)
	}

	return errs
}

// validateDevices checks one adapter's device list.
func validateDevices(prefix string, devices []DeviceConfig) []string {
	var errs []string
	refs := make(map[string]bool, len(devices))

	for i, d := range devices {
		at := fmt.Sprintf("%s.devices[%d]", prefix, i)
		if d.Reference == "" {
			errs = append(errs, at+".reference is required")
		} else if refs[d.Reference] {
			errs = append(errs, fmt.Sprintf("%s.reference %q is used twice", at, d.Reference))
		}
		refs[d.Reference] = true

		if _, err := device.KindByName(d.Kind); err != nil {
			errs = append(errs, fmt.Sprintf("%s.kind %q is not a device kind", at, d.Kind))
		}
		if d.Settings.Min != nil && d.Settings.Max != nil && *d.Settings.Min > *d.Settings.Max {
			errs = append(errs, at+".settings.min must not exceed settings.max")
		}
		if d.Settings.RateLimit < 0 {
			errs = append(errs, at+".settings.rate_limit must not be negative")
		}
	}

	return errs
}

// DeviceDefaults fills zero retention settings from the history section.
func (c *Config) DeviceDefaults(s device.Settings) device.Settings {
	if s.KeepHistoryDays == 0 {
		s.KeepHistoryDays = c.History.KeepHistoryDays
	}
	if s.KeepTrendsDays == 0 {
		s.KeepTrendsDays = c.History.KeepTrendsDays
	}
	return s
}
