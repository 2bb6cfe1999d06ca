package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/loglyzer/internal/filter"
)

// Config represents the main configuration
type Config struct {
	Inputs     []string `yaml:"inputs"`
	Pattern    string   `yaml:"pattern,omitempty"`
	TimeFormat string   `yaml:"time_format,omitempty"`

	// Inclusive time bounds; empty means unbounded
	Since string `yaml:"since,omitempty"`
	Until string `yaml:"until,omitempty"`

	Follow       bool          `yaml:"follow"`
	FromStart    bool          `yaml:"from_start"`
	PollInterval time.Duration `yaml:"poll_interval"`

	ExportHTML string `yaml:"export_html,omitempty"`
	Serve      int    `yaml:"serve,omitempty"` // port; 0 disables the stats server
	ServePath  string `yaml:"serve_path,omitempty"`

	TopN        int           `yaml:"top_n"`
	BucketWidth time.Duration `yaml:"bucket_width"`

	RejectFile       string `yaml:"reject_file,omitempty"`
	RejectMaxEntries int64  `yaml:"reject_max_entries,omitempty"` // further rejects are only counted; 0 for no limit

	Echo bool `yaml:"echo"`

	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Report    ReportConfig    `yaml:"report"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds distributed tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// ReportConfig holds HTML report settings
type ReportConfig struct {
	Title       string `yaml:"title"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	CPUProfile string `yaml:"cpu_profile,omitempty"`
	MemProfile string `yaml:"mem_profile,omitempty"`
	HTTP       bool   `yaml:"http"` // pprof endpoints on the stats server
}

// Default values
const (
	DefaultFile         = ".loglyzer.yaml"
	DefaultPollInterval = time.Second
	DefaultServePath    = "/data"
	DefaultTopN         = 10
	DefaultBucketWidth  = time.Minute
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultReportTitle  = "loglyzer report"
	DefaultS3Region     = "us-east-1"
	DefaultSampleRate   = 1.0
)

// Overrides carries command-line values. Nil fields were not set and leave
// the file value in place.
type Overrides struct {
	Inputs       []string
	Pattern      *string
	TimeFormat   *string
	Since        *string
	Until        *string
	Follow       *bool
	FromStart    *bool
	PollInterval *time.Duration
	ExportHTML   *string
	Serve        *int
	TopN         *int
	BucketWidth  *time.Duration
	RejectFile   *string
	Echo         *bool
	LogLevel     *string
	LogFormat    *string
	CPUProfile   *string
	MemProfile   *string
}

// Load loads configuration from a YAML file with environment variable expansion
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Resolve builds the effective configuration: defaults, then the file at
// path (or DefaultFile in the working directory when path is empty and the
// file exists), then o.
func Resolve(path string, o Overrides) (*Config, error) {
	if path == "" {
		path = Discover(".")
	}

	cfg := &Config{}
	if path != "" {
		parsed, err := parse(path)
		if err != nil {
			return nil, err
		}
		cfg = parsed
	}

	cfg.Merge(o)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Discover returns dir/DefaultFile when it exists, "" otherwise
func Discover(dir string) string {
	path := filepath.Join(dir, DefaultFile)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}

func parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// Merge applies every set override; command-line inputs replace file inputs
func (c *Config) Merge(o Overrides) {
	if len(o.Inputs) > 0 {
		c.Inputs = append([]string(nil), o.Inputs...)
	}
	setString(&c.Pattern, o.Pattern)
	setString(&c.TimeFormat, o.TimeFormat)
	setString(&c.Since, o.Since)
	setString(&c.Until, o.Until)
	setString(&c.ExportHTML, o.ExportHTML)
	setString(&c.RejectFile, o.RejectFile)
	setString(&c.Logging.Level, o.LogLevel)
	setString(&c.Logging.Format, o.LogFormat)
	setString(&c.Profiling.CPUProfile, o.CPUProfile)
	setString(&c.Profiling.MemProfile, o.MemProfile)

	if o.Follow != nil {
		c.Follow = *o.Follow
	}
	if o.FromStart != nil {
		c.FromStart = *o.FromStart
	}
	if o.Echo != nil {
		c.Echo = *o.Echo
	}
	if o.PollInterval != nil {
		c.PollInterval = *o.PollInterval
	}
	if o.BucketWidth != nil {
		c.BucketWidth = *o.BucketWidth
	}
	if o.Serve != nil {
		c.Serve = *o.Serve
	}
	if o.TopN != nil {
		c.TopN = *o.TopN
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ServePath == "" {
		c.ServePath = DefaultServePath
	}
	if c.TopN == 0 {
		c.TopN = DefaultTopN
	}
	if c.BucketWidth == 0 {
		c.BucketWidth = DefaultBucketWidth
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Tracing.Enabled && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = DefaultSampleRate
	}
	if c.Report.Title == "" {
		c.Report.Title = DefaultReportTitle
	}
	if c.Report.S3Region == "" {
		c.Report.S3Region = DefaultS3Region
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("at least one input path must be configured")
	}
	for i, in := range c.Inputs {
		if strings.TrimSpace(in) == "" {
			return fmt.Errorf("input %d is empty", i)
		}
	}

	if _, err := filter.Parse(c.Since, c.Until); err != nil {
		return err
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.BucketWidth < time.Second {
		return fmt.Errorf("bucket_width must be at least 1s, got %s", c.BucketWidth)
	}
	if c.TopN < 1 {
		return fmt.Errorf("top_n must be at least 1, got %d", c.TopN)
	}
	if c.RejectMaxEntries < 0 {
		return fmt.Errorf("reject_max_entries must not be negative, got %d", c.RejectMaxEntries)
	}
	if c.Serve < 0 || c.Serve > 65535 {
		return fmt.Errorf("invalid serve port: %d", c.Serve)
	}
	if !strings.HasPrefix(c.ServePath, "/") {
		return fmt.Errorf("serve_path must start with /: %q", c.ServePath)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be within [0, 1], got %g", c.Tracing.SampleRate)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	return nil
}

// ServeAddress returns the stats server listen address, "" when disabled
func (c *Config) ServeAddress() string {
	if c.Serve == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.Serve)
}

// DefaultConfig returns a default configuration for the given inputs
func DefaultConfig(inputs ...string) *Config {
	cfg := &Config{Inputs: inputs}
	cfg.applyDefaults()
	return cfg
}
