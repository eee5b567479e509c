package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/load/config"
)

// resetFlags restores every flag to its default so commands can be executed
// repeatedly within one test binary.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(RootCmd)
	t.Cleanup(func() { resetFlags(RootCmd) })

	var stdout, stderr bytes.Buffer
	RootCmd.SetOut(&stdout)
	RootCmd.SetErr(&stderr)
	RootCmd.SetArgs(args)
	defer func() {
		RootCmd.SetOut(nil)
		RootCmd.SetErr(nil)
		RootCmd.SetArgs(nil)
	}()

	err := RootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []config.StageConfig
		wantErr bool
	}{
		{
			name:  "three stages",
			input: "5s:1000,1m:1000,20s:0",
			want: []config.StageConfig{
				{Duration: "5s", Target: 1000, Name: "stage-1"},
				{Duration: "1m", Target: 1000, Name: "stage-2"},
				{Duration: "20s", Target: 0, Name: "stage-3"},
			},
		},
		{
			name:  "whitespace and instant jump",
			input: " 0s:10 , 30s:10 ",
			want: []config.StageConfig{
				{Duration: "0s", Target: 10, Name: "stage-1"},
				{Duration: "30s", Target: 10, Name: "stage-2"},
			},
		},
		{name: "missing colon", input: "invalid", wantErr: true},
		{name: "bad duration", input: "soon:10", wantErr: true},
		{name: "bad target", input: "5s:many", wantErr: true},
		{name: "negative target", input: "5s:-1", wantErr: true},
		{name: "negative duration", input: "-5s:1", wantErr: true},
		{name: "empty", input: " , ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStages(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Run("url requires stages", func(t *testing.T) {
		resetFlags(RootCmd)
		require.NoError(t, runCmd.Flags().Set("url", "http://localhost:5555/users"))
		_, err := buildConfig(runCmd, nil)
		assert.Error(t, err)
	})

	t.Run("url with stages", func(t *testing.T) {
		resetFlags(RootCmd)
		require.NoError(t, runCmd.Flags().Set("url", "http://localhost:5555/users"))
		require.NoError(t, runCmd.Flags().Set("stages", "5s:1000,1m:1000,20s:0"))
		require.NoError(t, runCmd.Flags().Set("max-vus", "500"))
		require.NoError(t, runCmd.Flags().Set("tick", "50ms"))

		cfg, err := buildConfig(runCmd, nil)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:5555/users", cfg.Workload.URL)
		assert.Len(t, cfg.Stages, 3)
		require.Len(t, cfg.Workload.Checks, 1)
		assert.Equal(t, "is status 200", cfg.Workload.Checks[0].Name)
		assert.Equal(t, 500, cfg.Options.MaxVUs)
		assert.Equal(t, config.Duration(50*time.Millisecond), cfg.Options.TickInterval)
		assert.Zero(t, cfg.Options.ShutdownGrace)
	})

	t.Run("config file with overrides", func(t *testing.T) {
		resetFlags(RootCmd)
		path := filepath.Join(t.TempDir(), "test.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
name: from file
stages:
  - duration: 10s
    target: 5
options:
  maxVUs: 20
workload:
  url: http://localhost:5555/users
`), 0644))
		require.NoError(t, runCmd.Flags().Set("stages", "1s:2"))
		require.NoError(t, runCmd.Flags().Set("rps", "25"))

		cfg, err := buildConfig(runCmd, []string{path})
		require.NoError(t, err)
		assert.Equal(t, "from file", cfg.Name)
		assert.Equal(t, []config.StageConfig{{Duration: "1s", Target: 2, Name: "stage-1"}}, cfg.Stages)
		assert.Equal(t, 20, cfg.Options.MaxVUs)
		assert.Equal(t, 25.0, cfg.Options.RPS)
	})

	t.Run("nothing to run", func(t *testing.T) {
		resetFlags(RootCmd)
		_, err := buildConfig(runCmd, nil)
		assert.Error(t, err)
	})
	resetFlags(RootCmd)
}

func TestRunCommand_URL(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	reportPath := filepath.Join(t.TempDir(), "report.json")
	stdout, _, err := execute(t, "run",
		"--url", server.URL+"/users",
		"--stages", "0s:3,200ms:3",
		"--tick", "10ms",
		"--output", reportPath,
		"--quiet",
		"--log-level", "off",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "PASSED")
	assert.Greater(t, hits.Load(), int64(0))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)

	var report struct {
		Passed  bool `json:"passed"`
		Summary struct {
			Iterations struct {
				Completed int64 `json:"completed"`
				Failure   int64 `json:"failure"`
			} `json:"iterations"`
			Checks []struct {
				Name  string `json:"name"`
				Fails int64  `json:"fails"`
			} `json:"checks"`
		} `json:"summary"`
		VUs struct {
			Peak int `json:"peak"`
		} `json:"vus"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.Passed)
	assert.Equal(t, hits.Load(), report.Summary.Iterations.Completed)
	assert.Zero(t, report.Summary.Iterations.Failure)
	assert.Equal(t, 3, report.VUs.Peak)
	require.Len(t, report.Summary.Checks, 1)
	assert.Equal(t, "is status 200", report.Summary.Checks[0].Name)
	assert.Zero(t, report.Summary.Checks[0].Fails)
}

func TestRunCommand_JSONToStdout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	stdout, stderr, err := execute(t, "run",
		"--url", server.URL,
		"--stages", "0s:1,50ms:1",
		"--tick", "10ms",
		"--json",
		"--no-color",
		"--log-level", "off",
	)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded), "stdout should be pure JSON")
	assert.Equal(t, "CLI Test", decoded["name"])
	assert.Contains(t, stderr, "CLI Test - Completed")
}

func TestRunCommand_ThresholdsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "failing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: failing
stages:
  - duration: 0s
    target: 2
  - duration: 100ms
    target: 2
options:
  tickInterval: 10ms
workload:
  url: `+server.URL+`
thresholds:
  iterations_failed:
    - "rate < 0.01"
`), 0644))

	stdout, _, err := execute(t, "run", path, "--quiet", "--log-level", "off")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrThresholdsFailed))
	assert.Contains(t, stdout, "FAILED")
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
stages:
  - duration: 10s
    target: -5
workload:
  url: ftp://example.com
`), 0644))

	_, _, err := execute(t, "run", path, "--log-level", "off")
	require.Error(t, err)

	var verrs *config.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("stages[0].target"))
	assert.True(t, verrs.Has("workload.url"))
}

func TestRunCommand_BadLogLevel(t *testing.T) {
	_, _, err := execute(t, "run", "--url", "http://localhost:1", "--stages", "0s:0", "--log-level", "loud")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("off")
	require.NoError(t, err)
	assert.NotNil(t, l)

	l, err = newLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = newLogger("nope")
	assert.Error(t, err)
}
