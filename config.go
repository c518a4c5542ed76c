package nstat

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the harness configuration.
type Config struct {
	Global     GlobalConfig     `toml:"global"`
	Test       TestConfig       `toml:"test"`
	Controller ControllerConfig `toml:"controller"`
	Output     OutputConfig     `toml:"output"`
	InfluxDB   InfluxDBConfig   `toml:"influxdb"`
	Prometheus PrometheusConfig `toml:"prometheus"`
}

// GlobalConfig contains logging and sample delivery settings.
type GlobalConfig struct {
	LogLevel      string   `toml:"log_level"`
	LogFormat     string   `toml:"log_format"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval Duration `toml:"flush_interval"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryDelay    Duration `toml:"retry_delay"`
}

// TestConfig describes the flow discovery test.
type TestConfig struct {
	Name          string `toml:"name"`
	Repeats       int    `toml:"repeats"`
	ExpectedFlows int    `toml:"expected_flows"`
	// Deadline is a staleness timeout: it restarts whenever the count changes.
	Deadline               Duration `toml:"deadline"`
	PollInterval           Duration `toml:"poll_interval"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	Progress               string   `toml:"progress"`
}

// ControllerConfig contains the controller REST connection settings.
type ControllerConfig struct {
	// Name labels samples; it defaults to the host of URL.
	Name       string   `toml:"name"`
	URL        string   `toml:"url"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"`
	Timeout    Duration `toml:"timeout"`
	NodePrefix string   `toml:"node_prefix"`
	// Count selects the counted value: "flows" or "active_flows".
	Count string `toml:"count"`
}

// Label returns the controller name used to label samples.
func (c ControllerConfig) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if u, err := url.Parse(c.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return c.URL
}

// OutputConfig contains result file settings.
type OutputConfig struct {
	ResultsFile string `toml:"results_file"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Org     string `toml:"org"`
	Bucket  string `toml:"bucket"`
}

// PrometheusConfig contains Prometheus exporter settings.
type PrometheusConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	Path    string `toml:"path"`
}

// Duration is a wrapper around time.Duration that supports TOML parsing.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the default configuration: a 240s staleness deadline
// sampled once per second.
func DefaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			LogLevel:      "info",
			LogFormat:     "text",
			BatchSize:     1,
			FlushInterval: Duration{10 * time.Second},
			RetryAttempts: 3,
			RetryDelay:    Duration{1 * time.Second},
		},
		Test: TestConfig{
			Name:         "flow_discovery",
			Repeats:      1,
			Deadline:     Duration{240 * time.Second},
			PollInterval: Duration{DefaultPollInterval},
			Progress:     "any",
		},
		Controller: ControllerConfig{
			URL:        "http://127.0.0.1:8181",
			Username:   "admin",
			Password:   "admin",
			Timeout:    Duration{10 * time.Second},
			NodePrefix: "openflow",
			Count:      "flows",
		},
		Prometheus: PrometheusConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// PollerConfig returns the poller settings described by the test section.
// The progress mode is expected to have passed Validate.
func (c *Config) PollerConfig() PollerConfig {
	mode, _ := ParseProgressMode(c.Test.Progress)
	return PollerConfig{
		Interval:               c.Test.PollInterval.Duration,
		MaxConsecutiveFailures: c.Test.MaxConsecutiveFailures,
		Progress:               mode,
	}
}

// PublisherConfig returns the delivery settings described by the global
// section.
func (c *Config) PublisherConfig() PublisherConfig {
	return PublisherConfig{
		BatchSize:     c.Global.BatchSize,
		FlushInterval: c.Global.FlushInterval.Duration,
		RetryAttempts: c.Global.RetryAttempts,
		RetryDelay:    c.Global.RetryDelay.Duration,
	}
}

// LoadConfig reads and parses a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := LoadConfigFromString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromString parses configuration from a TOML string.
func LoadConfigFromString(data string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
