package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Operational limits for monitoring parameters. Values outside these
// ranges are rejected by Validate rather than silently clamped.
const (
	MinCheckInterval   = 5
	MaxCheckInterval   = 300
	MinFailCount       = 1
	MaxFailCount       = 10
	MinOffTime         = 1
	MaxOffTime         = 60
	MaxGroups          = 16
	MaxServersPerGroup = 10
)

// Config is the root configuration structure for PowerWatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	Outlets  []OutletConfig `yaml:"outlets"`
	Groups   []GroupConfig  `yaml:"groups"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Stats    StatsConfig    `yaml:"stats"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// MonitorConfig contains check-cycle and probe settings.
type MonitorConfig struct {
	// CheckInterval is the seconds between check cycles for each group.
	CheckInterval int `yaml:"check_interval"`

	// ProbeTimeout is the per-probe timeout in seconds.
	ProbeTimeout int `yaml:"probe_timeout"`

	// MaxConcurrentProbes bounds the probe worker pool across all groups.
	MaxConcurrentProbes int `yaml:"max_concurrent_probes"`

	// ProbeRate limits probe launches per second. 0 disables rate limiting.
	ProbeRate float64 `yaml:"probe_rate"`

	// PostResetCooldown is the minimum cooldown after a power cycle in
	// seconds. The effective cooldown for a group is the larger of this
	// and the group's off_time.
	PostResetCooldown int `yaml:"post_reset_cooldown"`
}

// GPIOConfig contains hardware actuation backend settings.
type GPIOConfig struct {
	// Backends is the ordered list of backend names to probe at startup.
	// The first backend that successfully claims the pin set is used.
	// Known names: "gpiod", "sysfs", "mock".
	Backends []string `yaml:"backends"`

	// Chip is the gpiochip device name for the gpiod backend.
	Chip string `yaml:"chip"`

	// GPIOSetPath and GPIOGetPath override the libgpiod tool locations.
	GPIOSetPath string `yaml:"gpioset_path"`
	GPIOGetPath string `yaml:"gpioget_path"`

	// Simulate forces the mock backend regardless of the Backends list.
	// Intended for development machines without GPIO hardware.
	Simulate bool `yaml:"simulate"`
}

// OutletConfig describes one physically switched power output.
type OutletConfig struct {
	Name       string `yaml:"name"`
	GPIOPin    int    `yaml:"gpio_pin"`
	ActiveHigh bool   `yaml:"active_high"`
}

// GroupConfig describes a named set of monitored targets sharing one outlet.
type GroupConfig struct {
	Name      string           `yaml:"name"`
	Servers   []ServerConfig   `yaml:"servers"`
	Outlet    string           `yaml:"outlet"`
	FailCount int              `yaml:"fail_count"`
	OffTime   int              `yaml:"off_time"`
	Enabled   bool             `yaml:"enabled"`
	Policy    string           `yaml:"policy"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// ServerConfig describes one monitored target within a group.
type ServerConfig struct {
	Address string `yaml:"address"`

	// Method is the probe method: "ping" (default), "http", or "tcp".
	Method string `yaml:"method"`

	// Port is used by tcp and http probes. Defaults per method.
	Port int `yaml:"port"`

	// ExpectStatus, when non-zero, requires an exact HTTP status code.
	// When zero, any HTTP response within the timeout counts as success.
	ExpectStatus int `yaml:"expect_status"`
}

// ScheduleConfig describes one maintenance-restart recurrence rule.
type ScheduleConfig struct {
	// Type is the recurrence kind: "interval", "daily", or "weekly".
	Type string `yaml:"type"`

	// Every is the fixed interval for type=interval (e.g. "12h").
	Every string `yaml:"every"`

	// At is the local time of day for daily/weekly rules ("HH:MM").
	At string `yaml:"at"`

	// Day is the weekday name for weekly rules (e.g. "sunday").
	Day string `yaml:"day"`

	Enabled bool `yaml:"enabled"`
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

// InfluxDBConfig contains optional telemetry export settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// StatsConfig contains the statistics recorder settings.
type StatsConfig struct {
	// Dir is the directory for per-group history bucket files.
	Dir string `yaml:"dir"`

	// RetentionDays is the pruning horizon for bucket files.
	RetentionDays int `yaml:"retention_days"`

	// FlushInterval is the seconds between buffered flushes to disk.
	FlushInterval int `yaml:"flush_interval"`

	// MaxEntriesPerBucket caps the raw entries kept per daily bucket.
	MaxEntriesPerBucket int `yaml:"max_entries_per_bucket"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: POWERWATCH_SECTION_KEY
// For example: POWERWATCH_STATS_DIR, POWERWATCH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with sensible defaults and no outlets or groups.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "powerwatch-001",
			Name:     "PowerWatch",
			Timezone: "UTC",
		},
		Monitor: MonitorConfig{
			CheckInterval:       10,
			ProbeTimeout:        5,
			MaxConcurrentProbes: 8,
			PostResetCooldown:   30,
		},
		GPIO: GPIOConfig{
			Backends: []string{"gpiod", "sysfs"},
			Chip:     "gpiochip0",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "powerwatch-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Stats: StatsConfig{
			Dir:                 "./data/stats",
			RetentionDays:       30,
			FlushInterval:       60,
			MaxEntriesPerBucket: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: POWERWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Stats
	if v := os.Getenv("POWERWATCH_STATS_DIR"); v != "" {
		cfg.Stats.Dir = v
	}

	// MQTT
	if v := os.Getenv("POWERWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("POWERWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("POWERWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("POWERWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// GPIO simulation toggle for development machines.
	if v := os.Getenv("POWERWATCH_GPIO_SIMULATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.GPIO.Simulate = b
		}
	}
}

// Validate checks the configuration for structural errors.
//
// Cross-reference checks (duplicate pins, unknown outlet references) are
// performed by BuildSnapshot, which is the authority for what the running
// system accepts.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Monitor.CheckInterval < MinCheckInterval || c.Monitor.CheckInterval > MaxCheckInterval {
		errs = append(errs, fmt.Sprintf("monitor.check_interval must be %d-%d", MinCheckInterval, MaxCheckInterval))
	}
	if c.Monitor.ProbeTimeout < 1 {
		errs = append(errs, "monitor.probe_timeout must be at least 1")
	}
	if c.Monitor.MaxConcurrentProbes < 1 {
		errs = append(errs, "monitor.max_concurrent_probes must be at least 1")
	}
	if c.Monitor.ProbeRate < 0 {
		errs = append(errs, "monitor.probe_rate must not be negative")
	}

	if len(c.GPIO.Backends) == 0 && !c.GPIO.Simulate {
		errs = append(errs, "gpio.backends must list at least one backend")
	}

	if len(c.Groups) > MaxGroups {
		errs = append(errs, fmt.Sprintf("at most %d groups are supported", MaxGroups))
	}
	for _, g := range c.Groups {
		if g.Name == "" {
			errs = append(errs, "group name is required")
			continue
		}
		if len(g.Servers) > MaxServersPerGroup {
			errs = append(errs, fmt.Sprintf("group %q: at most %d servers per group", g.Name, MaxServersPerGroup))
		}
		if g.FailCount < MinFailCount || g.FailCount > MaxFailCount {
			errs = append(errs, fmt.Sprintf("group %q: fail_count must be %d-%d", g.Name, MinFailCount, MaxFailCount))
		}
		if g.OffTime < MinOffTime || g.OffTime > MaxOffTime {
			errs = append(errs, fmt.Sprintf("group %q: off_time must be %d-%d", g.Name, MinOffTime, MaxOffTime))
		}
		switch g.Policy {
		case "", PolicyAllFail, PolicyAnyFail:
		default:
			errs = append(errs, fmt.Sprintf("group %q: policy must be %q or %q", g.Name, PolicyAllFail, PolicyAnyFail))
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Stats.Dir == "" {
		errs = append(errs, "stats.dir is required")
	}
	if c.Stats.RetentionDays < 1 {
		errs = append(errs, "stats.retention_days must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(errs, "; "))
	}

	return nil
}

// CheckInterval returns the check-cycle interval as a Duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Monitor.CheckInterval) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a Duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Monitor.ProbeTimeout) * time.Second
}

// PostResetCooldown returns the minimum post-reset cooldown as a Duration.
func (c *Config) PostResetCooldown() time.Duration {
	return time.Duration(c.Monitor.PostResetCooldown) * time.Second
}
