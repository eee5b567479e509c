// Package config provides configuration parsing and validation for staged load tests.
package config

import (
	"time"
)

// TestConfig is the root configuration for a staged load test.
//
// Example YAML:
//
//	name: "users endpoint"
//	stages:
//	  - duration: 5s
//	    target: 1000
//	  - duration: 1m
//	    target: 1000
//	  - duration: 20s
//	    target: 0
//	workload:
//	  method: GET
//	  url: "http://localhost:5555/users"
//	  checks:
//	    - name: "is status 200"
//	      type: status
//	      condition: eq
//	      value: "200"
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Stages is the ordered concurrency schedule. It may be empty, in which
	// case the run completes immediately without spawning any VU.
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Options tunes the scheduler, pool and iteration loop
	Options Options `json:"options,omitempty" yaml:"options,omitempty"`

	// Workload is the request every VU iteration executes
	Workload WorkloadConfig `json:"workload" yaml:"workload"`

	// HTTP contains transport settings for the built-in HTTP workload
	HTTP HTTPSettings `json:"http,omitempty" yaml:"http,omitempty"`

	// Thresholds define pass/fail criteria for the final summary
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// StageConfig defines a single stage of the schedule.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m"). "0s" is an instant jump.
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Options are the run-wide tunables.
type Options struct {
	// MaxVUs is the hard ceiling on concurrently alive VUs
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// TickInterval is how often the scheduler re-evaluates the target
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// ShutdownGrace bounds how long in-flight iterations may run after the
	// schedule ends before they are cancelled
	ShutdownGrace Duration `json:"shutdownGrace,omitempty" yaml:"shutdownGrace,omitempty"`

	// IterationTimeout is the per-iteration deadline
	IterationTimeout Duration `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// SampleInterval is the spacing of concurrency-over-time samples
	SampleInterval Duration `json:"sampleInterval,omitempty" yaml:"sampleInterval,omitempty"`

	// RPS caps the global iteration start rate (0 = unlimited)
	RPS float64 `json:"rps,omitempty" yaml:"rps,omitempty"`

	// Pacing controls time between iterations of the same VU
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// WorkloadConfig defines the HTTP request executed once per iteration.
type WorkloadConfig struct {
	// Name for this request (used in logs and reports)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the request URL
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// ExpectedStatuses lists the statuses the workload treats as success.
	// When empty any status below 400 succeeds.
	ExpectedStatuses []int `json:"expectedStatuses,omitempty" yaml:"expectedStatuses,omitempty"`

	// Checks are observational assertions recorded per iteration
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// CheckConfig defines a named assertion over an iteration's response.
type CheckConfig struct {
	// Name identifies the check in the report
	Name string `json:"name" yaml:"name"`

	// Type is what the check inspects: "status", "body", "header",
	// "duration", "jsonpath", "jsonschema"
	Type string `json:"type" yaml:"type"`

	// Condition is the comparison: "eq", "ne", "gt", "lt", "gte", "lte",
	// "contains", "matches", "exists"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the header name or JSONPath expression
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is the JSON schema document for "jsonschema" checks
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// AbortOnFail marks the iteration as failed when this check fails
	AbortOnFail bool `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
}

// HTTPSettings contains HTTP transport settings.
type HTTPSettings struct {
	// Timeout is the HTTP client timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// DisableKeepAlives disables connection reuse
	DisableKeepAlives bool `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the test.
type ThresholdsConfig struct {
	// IterationDuration thresholds, e.g. ["p95 < 500ms", "avg < 200ms"]
	IterationDuration []string `json:"iteration_duration,omitempty" yaml:"iteration_duration,omitempty"`

	// IterationsFailed thresholds on the failure rate, e.g. ["rate < 0.01"]
	IterationsFailed []string `json:"iterations_failed,omitempty" yaml:"iterations_failed,omitempty"`

	// Checks thresholds on the check pass rate, e.g. ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Iterations thresholds on count or rate, e.g. ["count > 1000"]
	Iterations []string `json:"iterations,omitempty" yaml:"iterations,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
