// Package config loads the supervisor configuration (hearth.yaml), the user
// service list, and package manifests, and turns their event-name tables
// into the typed route and protected-event tables the supervisor consumes.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Defaults applied to unset configuration values.
const (
	DefaultRunDir            = "/run/hearth"
	DefaultTick              = 10 * time.Millisecond
	DefaultStartupWait       = 5 * time.Second
	DefaultStopGrace         = 3 * time.Second
	DefaultStopPoll          = 50 * time.Millisecond
	DefaultEventLimit        = 64
	DefaultReceiveTimeout    = 20 * time.Millisecond
	DefaultAggregatorTimeout = 100 * time.Millisecond
)

// Config represents a hearth.yaml configuration file. Scalar settings can
// be overridden by HEARTH_* environment variables.
type Config struct {
	RunDir      string   `yaml:"run_dir" env:"RUN_DIR"`
	HomePackage string   `yaml:"home_package" env:"HOME_PACKAGE"`
	PackageDirs []string `yaml:"package_dirs" env:"PACKAGE_DIRS" envSeparator:":"`

	Tick              Duration `yaml:"tick" env:"TICK"`
	StartupWait       Duration `yaml:"startup_wait" env:"STARTUP_WAIT"`
	StopGrace         Duration `yaml:"stop_grace" env:"STOP_GRACE"`
	StopPoll          Duration `yaml:"stop_poll" env:"STOP_POLL"`
	EventLimit        int      `yaml:"event_limit" env:"EVENT_LIMIT"`
	ReceiveTimeout    Duration `yaml:"receive_timeout" env:"RECEIVE_TIMEOUT"`
	AggregatorTimeout Duration `yaml:"aggregator_timeout" env:"AGGREGATOR_TIMEOUT"`

	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	TraceFile   string `yaml:"trace_file" env:"TRACE_FILE"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	Notify  NotifyConfig  `yaml:"notify" envPrefix:"NOTIFY_"`
	Archive ArchiveConfig `yaml:"archive" envPrefix:"ARCHIVE_"`

	PlatformServices []ServiceConfig `yaml:"platform_services"`
	UserServicesFile string          `yaml:"user_services_file" env:"USER_SERVICES_FILE"`

	// Routes maps a route id to the names of the event types platform
	// services on that route receive.
	Routes map[uint32][]string `yaml:"routes"`
	// ProtectedEvents names the event types gated behind password
	// verification.
	ProtectedEvents []string `yaml:"protected_events"`
}

// NotifyConfig selects where process exits are published. Each URL that
// is set enables one publisher.
type NotifyConfig struct {
	WebhookURL     string            `yaml:"webhook_url" env:"WEBHOOK_URL"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
	RedisURL       string            `yaml:"redis_url" env:"REDIS_URL"`
	RedisChannel   string            `yaml:"redis_channel" env:"REDIS_CHANNEL"`
	Timeout        Duration          `yaml:"timeout" env:"TIMEOUT"`
	Retries        int               `yaml:"retries" env:"RETRIES"`
	// EssentialOnly limits notifications to essential losses.
	EssentialOnly bool `yaml:"essential_only" env:"ESSENTIAL_ONLY"`
}

// Enabled reports whether any publisher is configured.
func (n NotifyConfig) Enabled() bool {
	return n.WebhookURL != "" || n.RedisURL != ""
}

// ArchiveConfig selects where the exit history is kept. S3Path, when set,
// takes precedence over Dir.
type ArchiveConfig struct {
	Dir           string   `yaml:"dir" env:"DIR"`
	S3Path        string   `yaml:"s3_path" env:"S3_PATH"` // bucket[/prefix]
	S3Region      string   `yaml:"s3_region" env:"S3_REGION"`
	S3Endpoint    string   `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3PathStyle   bool     `yaml:"s3_path_style" env:"S3_PATH_STYLE"`
	FlushInterval Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// Enabled reports whether an archive location is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Dir != "" || a.S3Path != ""
}

// ServiceConfig declares one supervised service. Either Binary or Package
// must be set; a package reference takes its binary and permissions from
// the package manifest.
type ServiceConfig struct {
	Name      string   `yaml:"name"`
	Binary    string   `yaml:"binary,omitempty"`
	Package   string   `yaml:"package,omitempty"`
	Args      []string `yaml:"args,omitempty"`
	Route     uint32   `yaml:"route,omitempty"`
	Essential bool     `yaml:"essential,omitempty"`
}

// Validate checks a single service entry.
func (s ServiceConfig) Validate() error {
	if s.Name == "" {
		return errors.New("service name is required")
	}
	if s.Binary == "" && s.Package == "" {
		return fmt.Errorf("service %q: binary or package is required", s.Name)
	}
	return nil
}

// Duration wraps time.Duration for YAML and environment string parsing
// (e.g. "10ms", "5s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler for env overrides.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.RunDir == "" {
		c.RunDir = DefaultRunDir
	}
	setDefault(&c.Tick, DefaultTick)
	setDefault(&c.StartupWait, DefaultStartupWait)
	setDefault(&c.StopGrace, DefaultStopGrace)
	setDefault(&c.StopPoll, DefaultStopPoll)
	setDefault(&c.ReceiveTimeout, DefaultReceiveTimeout)
	setDefault(&c.AggregatorTimeout, DefaultAggregatorTimeout)
	if c.EventLimit <= 0 {
		c.EventLimit = DefaultEventLimit
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func setDefault(d *Duration, v time.Duration) {
	if d.Duration == 0 {
		d.Duration = v
	}
}

// Validate reports configuration errors that prevent the supervisor from
// starting. Problems confined to one service, route or event name are not
// errors; they are skipped with a warning when the tables are built.
func (c *Config) Validate() error {
	if c.HomePackage == "" {
		return errors.New("home_package is required")
	}
	if c.Notify.Retries < 0 {
		return fmt.Errorf("notify.retries must be >= 0, got %d", c.Notify.Retries)
	}
	if c.EventLimit < 0 {
		return fmt.Errorf("event_limit must be positive, got %d", c.EventLimit)
	}
	return nil
}
