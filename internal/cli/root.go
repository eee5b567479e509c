package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "0.1.0"

// ErrThresholdsFailed is returned by the run command when the report did not pass.
var ErrThresholdsFailed = errors.New("one or more thresholds failed")

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "stampede",
	Short:   "A staged virtual-user load generator",
	Version: version,
	Long: `Stampede drives a workload with a population of virtual users that
follows a staged schedule: ramp up, hold, ramp down. Every iteration is
recorded and summarized once the schedule completes.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	err := RootCmd.Execute()
	if err != nil && !errors.Is(err, ErrThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stampede %s\n", version)
	},
}

// newLogger builds the zap logger for --log-level. "off" disables logging.
func newLogger(level string) (*zap.Logger, error) {
	if level == "" || level == "off" {
		return zap.NewNop(), nil
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.Sampling = nil
	return cfg.Build()
}

func init() {
	RootCmd.SilenceErrors = true
	RootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error, off")

	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(validateCmd)
	RootCmd.AddCommand(versionCmd)
}
