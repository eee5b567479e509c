package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/stampede/internal/load/schedule"
)

// Defaults for the run-wide options.
const (
	DefaultMaxVUs           = 1000
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultShutdownGrace    = 30 * time.Second
	DefaultIterationTimeout = 60 * time.Second
	DefaultSampleInterval   = time.Second
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultUserAgent        = "stampede/1.0"
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Returns the parsed TestConfig or an error if parsing fails.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = "load test"
	}

	opts := &config.Options
	if opts.MaxVUs == 0 {
		opts.MaxVUs = DefaultMaxVUs
	}
	if opts.TickInterval == 0 {
		opts.TickInterval = Duration(DefaultTickInterval)
	}
	if opts.ShutdownGrace == 0 {
		opts.ShutdownGrace = Duration(DefaultShutdownGrace)
	}
	if opts.IterationTimeout == 0 {
		opts.IterationTimeout = Duration(DefaultIterationTimeout)
	}
	if opts.SampleInterval == 0 {
		opts.SampleInterval = Duration(DefaultSampleInterval)
	}

	if config.HTTP.Timeout == 0 {
		config.HTTP.Timeout = Duration(DefaultHTTPTimeout)
	}
	if config.HTTP.MaxIdleConnsPerHost == 0 {
		config.HTTP.MaxIdleConnsPerHost = 100
	}
	if config.HTTP.UserAgent == "" {
		config.HTTP.UserAgent = DefaultUserAgent
	}

	if config.Workload.Method == "" {
		config.Workload.Method = "GET"
	}
	if config.Workload.Name == "" {
		config.Workload.Name = config.Workload.Method + " " + config.Workload.URL
	}
	for i, check := range config.Workload.Checks {
		if check.Name == "" {
			config.Workload.Checks[i].Name = fmt.Sprintf("check_%d", i+1)
		}
		if check.Condition == "" {
			config.Workload.Checks[i].Condition = "eq"
		}
	}
}

// ScheduleStages converts the configured stages into scheduler stages.
//
// The config should have been validated first; the first malformed stage
// is reported otherwise.
func (c *TestConfig) ScheduleStages() ([]schedule.Stage, error) {
	stages := make([]schedule.Stage, 0, len(c.Stages))
	for i, sc := range c.Stages {
		d, err := ParseDurationString(sc.Duration)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}
		name := sc.Name
		if name == "" {
			name = fmt.Sprintf("stage-%d", i+1)
		}
		stages = append(stages, schedule.Stage{Duration: d, Target: sc.Target, Name: name})
	}
	return stages, nil
}

// TotalDuration sums the parseable stage durations.
func (c *TestConfig) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		if d, err := ParseDurationString(stage.Duration); err == nil && d > 0 {
			total += d
		}
	}
	return total
}

// PeakTarget returns the highest stage target.
func (c *TestConfig) PeakTarget() int {
	peak := 0
	for _, stage := range c.Stages {
		if stage.Target > peak {
			peak = stage.Target
		}
	}
	return peak
}
