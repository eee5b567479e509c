package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const yamlConfig = `
name: "users endpoint"
stages:
  - duration: 5s
    target: 1000
  - duration: 1m
    target: 1000
  - duration: 20s
    target: 0
    name: cool-down
options:
  maxVUs: 500
  tickInterval: 50ms
  shutdownGrace: 10s
  rps: 200
  pacing:
    type: constant
    duration: 100ms
workload:
  url: "http://localhost:5555/users"
  headers:
    Accept: application/json
  checks:
    - name: "is status 200"
      type: status
      value: "200"
    - type: jsonpath
      path: "$[0].id"
      condition: exists
thresholds:
  iteration_duration:
    - "p95 < 500ms"
`

func TestParseConfig_YAML(t *testing.T) {
	config, err := ParseConfig([]byte(yamlConfig), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	if config.Name != "users endpoint" {
		t.Errorf("Name = %q", config.Name)
	}
	if len(config.Stages) != 3 || config.Stages[1].Duration != "1m" || config.Stages[0].Target != 1000 {
		t.Errorf("Stages = %+v", config.Stages)
	}
	if config.Stages[2].Name != "cool-down" {
		t.Errorf("Stages[2].Name = %q", config.Stages[2].Name)
	}
	if config.Options.MaxVUs != 500 {
		t.Errorf("MaxVUs = %d", config.Options.MaxVUs)
	}
	if time.Duration(config.Options.TickInterval) != 50*time.Millisecond {
		t.Errorf("TickInterval = %v", config.Options.TickInterval)
	}
	if time.Duration(config.Options.ShutdownGrace) != 10*time.Second {
		t.Errorf("ShutdownGrace = %v", config.Options.ShutdownGrace)
	}
	if config.Options.RPS != 200 {
		t.Errorf("RPS = %v", config.Options.RPS)
	}
	if config.Options.Pacing == nil || config.Options.Pacing.Duration != "100ms" {
		t.Errorf("Pacing = %+v", config.Options.Pacing)
	}
	if config.Workload.Headers["Accept"] != "application/json" {
		t.Errorf("Headers = %v", config.Workload.Headers)
	}
	if len(config.Workload.Checks) != 2 {
		t.Fatalf("Checks = %+v", config.Workload.Checks)
	}
	if config.Thresholds == nil || len(config.Thresholds.IterationDuration) != 1 {
		t.Errorf("Thresholds = %+v", config.Thresholds)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := []byte(`{
		"name": "json test",
		"stages": [{"duration": "10s", "target": 5}],
		"options": {"iterationTimeout": "2s", "sampleInterval": "500ms"},
		"workload": {"method": "POST", "url": "http://localhost/api", "body": "{}", "expectedStatuses": [201]}
	}`)

	config, err := ParseConfig(data, "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}
	if time.Duration(config.Options.IterationTimeout) != 2*time.Second {
		t.Errorf("IterationTimeout = %v", config.Options.IterationTimeout)
	}
	if time.Duration(config.Options.SampleInterval) != 500*time.Millisecond {
		t.Errorf("SampleInterval = %v", config.Options.SampleInterval)
	}
	if config.Workload.Method != "POST" || len(config.Workload.ExpectedStatuses) != 1 {
		t.Errorf("Workload = %+v", config.Workload)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	if _, err := ParseConfig([]byte("stages: [unclosed"), "bad.yaml"); err == nil {
		t.Error("expected YAML parse error")
	}
	if _, err := ParseConfig([]byte("{"), "bad.json"); err == nil {
		t.Error("expected JSON parse error")
	}
	if _, err := ParseConfig([]byte(`{"options": {"tickInterval": "often"}}`), "bad.json"); err == nil {
		t.Error("expected duration parse error")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yml")
	if err := os.WriteFile(path, []byte(yamlConfig), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if config.Name != "users endpoint" {
		t.Errorf("Name = %q", config.Name)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &TestConfig{
		Workload: WorkloadConfig{
			URL:    "http://localhost:5555/users",
			Checks: []CheckConfig{{Type: "status", Value: "200"}, {Name: "kept", Type: "body", Condition: "contains"}},
		},
	}
	ApplyDefaults(config)

	if config.Name != "load test" {
		t.Errorf("Name = %q", config.Name)
	}
	if config.Options.MaxVUs != DefaultMaxVUs {
		t.Errorf("MaxVUs = %d", config.Options.MaxVUs)
	}
	if time.Duration(config.Options.TickInterval) != DefaultTickInterval {
		t.Errorf("TickInterval = %v", config.Options.TickInterval)
	}
	if time.Duration(config.Options.ShutdownGrace) != DefaultShutdownGrace {
		t.Errorf("ShutdownGrace = %v", config.Options.ShutdownGrace)
	}
	if time.Duration(config.Options.IterationTimeout) != DefaultIterationTimeout {
		t.Errorf("IterationTimeout = %v", config.Options.IterationTimeout)
	}
	if time.Duration(config.Options.SampleInterval) != DefaultSampleInterval {
		t.Errorf("SampleInterval = %v", config.Options.SampleInterval)
	}
	if config.HTTP.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q", config.HTTP.UserAgent)
	}
	if config.Workload.Method != "GET" || config.Workload.Name != "GET http://localhost:5555/users" {
		t.Errorf("Workload = %+v", config.Workload)
	}
	if config.Workload.Checks[0].Name != "check_1" || config.Workload.Checks[0].Condition != "eq" {
		t.Errorf("Checks[0] = %+v", config.Workload.Checks[0])
	}
	if config.Workload.Checks[1].Name != "kept" || config.Workload.Checks[1].Condition != "contains" {
		t.Errorf("Checks[1] = %+v", config.Workload.Checks[1])
	}

	// Explicit values survive
	config = &TestConfig{Options: Options{MaxVUs: 7, TickInterval: Duration(time.Second)}}
	ApplyDefaults(config)
	if config.Options.MaxVUs != 7 || time.Duration(config.Options.TickInterval) != time.Second {
		t.Errorf("Options = %+v", config.Options)
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"0s", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"1h30m", 90 * time.Minute, false},
		{"45", 45 * time.Second, false},
		{"fast", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDurationString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDurationString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScheduleStages(t *testing.T) {
	config := &TestConfig{Stages: []StageConfig{
		{Duration: "5s", Target: 10},
		{Duration: "0s", Target: 20, Name: "jump"},
	}}

	stages, err := config.ScheduleStages()
	if err != nil {
		t.Fatalf("ScheduleStages() error: %v", err)
	}
	if stages[0].Name != "stage-1" || stages[0].Duration != 5*time.Second || stages[0].Target != 10 {
		t.Errorf("stages[0] = %+v", stages[0])
	}
	if stages[1].Name != "jump" || stages[1].Duration != 0 {
		t.Errorf("stages[1] = %+v", stages[1])
	}

	if config.TotalDuration() != 5*time.Second {
		t.Errorf("TotalDuration() = %v", config.TotalDuration())
	}
	if config.PeakTarget() != 20 {
		t.Errorf("PeakTarget() = %d", config.PeakTarget())
	}

	config.Stages = append(config.Stages, StageConfig{Duration: "later", Target: 1})
	if _, err := config.ScheduleStages(); err == nil {
		t.Error("expected error for malformed stage")
	}
}

func TestDuration_Marshal(t *testing.T) {
	d := Duration(1500 * time.Millisecond)

	data, err := d.MarshalJSON()
	if err != nil || string(data) != `"1.5s"` {
		t.Errorf("MarshalJSON() = %s, %v", data, err)
	}

	var back Duration
	if err := back.UnmarshalJSON([]byte(`"1.5s"`)); err != nil || back != d {
		t.Errorf("UnmarshalJSON() = %v, %v", back, err)
	}
	if err := back.UnmarshalJSON([]byte(`null`)); err != nil || back != 0 {
		t.Errorf("UnmarshalJSON(null) = %v, %v", back, err)
	}

	if got := Duration(0).GetDuration(time.Minute); got != time.Minute {
		t.Errorf("GetDuration() = %v", got)
	}
	if got := d.GetDuration(time.Minute); got != 1500*time.Millisecond {
		t.Errorf("GetDuration() = %v", got)
	}
}
