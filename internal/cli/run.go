package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/load/config"
	"github.com/wesleyorama2/stampede/internal/load/engine"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
	"github.com/wesleyorama2/stampede/internal/load/output"
)

var runCmd = &cobra.Command{
	Use:   "run [config]",
	Short: "Run a staged load test",
	Long: `Run a staged load test from a configuration file or from flags.

Config file mode:
  stampede run test.yaml

Quick CLI mode:
  stampede run --url http://localhost:5555/users \
    --stages "5s:1000,1m:1000,20s:0"

Flags override the matching options of a configuration file. The command
exits with status 1 when a threshold fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLoadTest,
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts := []engine.Option{engine.WithLogger(logger)}

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		exporter := metrics.NewPrometheusExporter()
		opts = append(opts, engine.WithObserver(exporter))

		stopMetrics := serveMetrics(metricsAddr, exporter, logger)
		defer stopMetrics()
	}

	eng, err := engine.New(cfg, nil, opts...)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	outputPath, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	// JSON on stdout keeps the human-readable output off it
	var consoleWriter io.Writer = cmd.OutOrStdout()
	if jsonOutput && outputPath == "" {
		consoleWriter = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleWriter,
		Quiet:   quiet,
		NoColor: noColor,
	})

	sched := eng.Schedule()
	console.PrintHeader(cfg.Name, sched.Len(), sched.TotalDuration(), cfg.Options.MaxVUs)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var report *engine.Report
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, runErr = eng.Run(ctx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

progressLoop:
	for {
		select {
		case <-done:
			break progressLoop
		case <-ticker.C:
			if !quiet {
				console.Progress(output.StatsFromRun(eng.Stats(), eng.Snapshot(), sched.Len(), sched.TotalDuration()))
			}
		}
	}

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	console.PrintSummary(report)

	if outputPath != "" {
		if err := output.WriteJSONFile(outputPath, report); err != nil {
			return err
		}
		if !quiet {
			fmt.Fprintf(consoleWriter, "Report: %s\n", outputPath)
		}
	} else if jsonOutput {
		if err := output.WriteJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	}

	if !report.Passed {
		return ErrThresholdsFailed
	}
	return nil
}

// serveMetrics exposes the exporter on addr until the returned func is called.
func serveMetrics(addr string, exporter *metrics.PrometheusExporter, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// buildConfig loads the config file (positional argument or --config) or
// builds one from --url, then applies flag overrides.
func buildConfig(cmd *cobra.Command, args []string) (*config.TestConfig, error) {
	flags := cmd.Flags()

	configFile, _ := flags.GetString("config")
	if len(args) > 0 {
		configFile = args[0]
	}
	url, _ := flags.GetString("url")
	stages, _ := flags.GetString("stages")

	var cfg *config.TestConfig
	switch {
	case configFile != "":
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
		if url != "" {
			cfg.Workload.URL = url
		}
	case url != "":
		if stages == "" {
			return nil, fmt.Errorf("--stages is required with --url")
		}
		cfg = &config.TestConfig{
			Name:        "CLI Test",
			Description: fmt.Sprintf("Test generated from CLI flags for %s", url),
			Workload: config.WorkloadConfig{
				Method: "GET",
				URL:    url,
				Checks: []config.CheckConfig{
					{Name: "is status 200", Type: "status", Condition: "eq", Value: "200"},
				},
			},
		}
	default:
		return nil, fmt.Errorf("either a config file or --url is required")
	}

	if stages != "" {
		parsed, err := parseStages(stages)
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		cfg.Stages = parsed
	}

	if flags.Changed("max-vus") {
		cfg.Options.MaxVUs, _ = flags.GetInt("max-vus")
	}
	if flags.Changed("rps") {
		cfg.Options.RPS, _ = flags.GetFloat64("rps")
	}
	for flag, dst := range map[string]*config.Duration{
		"tick":              &cfg.Options.TickInterval,
		"shutdown-grace":    &cfg.Options.ShutdownGrace,
		"iteration-timeout": &cfg.Options.IterationTimeout,
	} {
		if flags.Changed(flag) {
			d, _ := flags.GetDuration(flag)
			*dst = config.Duration(d)
		}
	}

	return cfg, nil
}

// parseStages parses stages from CLI format "5s:1000,1m:1000,20s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := strings.TrimSpace(part[:colonIdx])
		targetStr := strings.TrimSpace(part[colonIdx+1:])

		d, err := config.ParseDurationString(durationStr)
		if err != nil || durationStr == "" {
			return nil, fmt.Errorf("stage %d: invalid duration '%s'", i+1, durationStr)
		}
		if d < 0 {
			return nil, fmt.Errorf("stage %d: duration cannot be negative", i+1)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}
		if target < 0 {
			return nil, fmt.Errorf("stage %d: target cannot be negative", i+1)
		}

		stages = append(stages, config.StageConfig{
			Duration: durationStr,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "Configuration file (YAML or JSON)")
	runCmd.Flags().String("url", "", "URL to GET on every iteration (alternative to a config file)")
	runCmd.Flags().String("stages", "", "Stages in format 'duration:target,duration:target,...'")

	runCmd.Flags().Int("max-vus", config.DefaultMaxVUs, "Hard ceiling on concurrently alive VUs")
	runCmd.Flags().Duration("tick", config.DefaultTickInterval, "Scheduler tick interval")
	runCmd.Flags().Duration("shutdown-grace", config.DefaultShutdownGrace, "Time in-flight iterations get to finish after the schedule ends")
	runCmd.Flags().Duration("iteration-timeout", config.DefaultIterationTimeout, "Per-iteration deadline")
	runCmd.Flags().Float64("rps", 0, "Global cap on iteration starts per second (0 = unlimited)")

	runCmd.Flags().Bool("json", false, "Output the report as JSON")
	runCmd.Flags().String("output", "", "Write the JSON report to this file")
	runCmd.Flags().BoolP("quiet", "q", false, "Disable live progress output, show only PASSED/FAILED")
	runCmd.Flags().Bool("no-color", false, "Disable colored output")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
}
