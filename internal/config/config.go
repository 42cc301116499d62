package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig controls the live packet source and its synthetic fallback.
type CaptureConfig struct {
	Interface   string `yaml:"interface"`
	SnapshotLen int32  `yaml:"snapshot_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	PollTimeout string `yaml:"poll_timeout"`
	// Synthetic generator rate, packets per second, used when live capture
	// cannot be opened.
	FallbackRate int `yaml:"fallback_rate"`
}

// CollectorConfig holds the in-memory state bounds and cadences.
type CollectorConfig struct {
	PacketLogSize      int    `yaml:"packet_log_size"`
	BandwidthHistory   int    `yaml:"bandwidth_history"`
	BandwidthInterval  string `yaml:"bandwidth_interval"`
	FlushInterval      string `yaml:"flush_interval"`
	SessionTimeout     string `yaml:"session_timeout"`
	MaxExternalEntries int    `yaml:"max_external_entries"`
	OrgID              int64  `yaml:"org_id"`
}

// StorageConfig selects and configures the relational store.
type StorageConfig struct {
	// "postgres" or "sqlite".
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`  // postgres connection URL
	Path   string `yaml:"path"` // sqlite file path
}

// ClickHouseConfig configures the optional raw packet archive.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// GeoIPConfig configures the external connection enrichment.
type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
	CacheTTL     string `yaml:"cache_ttl"`
}

// EventsConfig configures the NATS event bus.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
}

// SMTPConfig configures the anomaly alert channel.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// AlerterConfig controls the periodic anomaly evaluation job.
type AlerterConfig struct {
	Enabled       bool    `yaml:"enabled"`
	CheckInterval string  `yaml:"check_interval"`
	ZThreshold    float64 `yaml:"z_threshold"`
}

// SchedulerConfig holds cron expressions for the embedded scheduler. An
// external scheduler may instead call the rollup endpoints directly.
type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DailyRollup   string `yaml:"daily_rollup"`
	MonthlyRollup string `yaml:"monthly_rollup"`
	YearlyRollup  string `yaml:"yearly_rollup"`
}

// APIConfig holds the HTTP listen address.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture   CaptureConfig    `yaml:"capture"`
	Collector CollectorConfig  `yaml:"collector"`
	Storage   StorageConfig    `yaml:"storage"`
	Archive   ClickHouseConfig `yaml:"archive"`
	GeoIP     GeoIPConfig      `yaml:"geoip"`
	Events    EventsConfig     `yaml:"events"`
	SMTP      SMTPConfig       `yaml:"smtp"`
	Alerter   AlerterConfig    `yaml:"alerter"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	API       APIConfig        `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config
// struct with defaults applied.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return cfg, nil
}

// Default returns a config with the documented defaults filled in.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			SnapshotLen:  1600,
			Promiscuous:  true,
			PollTimeout:  "500ms",
			FallbackRate: 50,
		},
		Collector: CollectorConfig{
			PacketLogSize:      200,
			BandwidthHistory:   60,
			BandwidthInterval:  "2s",
			FlushInterval:      "30s",
			SessionTimeout:     "30s",
			MaxExternalEntries: 4096,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "data/netsentry.db",
		},
		GeoIP: GeoIPConfig{
			CacheTTL: "1h",
		},
		Alerter: AlerterConfig{
			CheckInterval: "1h",
			ZThreshold:    3.0,
		},
		Scheduler: SchedulerConfig{
			DailyRollup:   "*/15 * * * *",
			MonthlyRollup: "5 * * * *",
			YearlyRollup:  "10 0 * * *",
		},
		API: APIConfig{
			ListenAddr: ":8085",
		},
	}
}

// Duration parses a duration string from the config, falling back to def
// when the field is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
