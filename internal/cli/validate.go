package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/load/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config>",
	Short: "Validate a test configuration without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(args[0])
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		config.ApplyDefaults(cfg)

		ok := color.New(color.FgGreen).Sprint("✓")
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s is valid\n", ok, args[0])
		fmt.Fprintf(out, "  Stages:   %d (%s)\n", len(cfg.Stages), cfg.TotalDuration())
		fmt.Fprintf(out, "  Peak VUs: %d (maxVUs %d)\n", cfg.PeakTarget(), cfg.Options.MaxVUs)
		fmt.Fprintf(out, "  Workload: %s\n", cfg.Workload.Name)
		if peak := cfg.PeakTarget(); peak > cfg.Options.MaxVUs {
			fmt.Fprintf(out, "  %s targets above %d will be clamped\n", color.New(color.FgYellow).Sprint("⚠"), cfg.Options.MaxVUs)
		}
		return nil
	},
}
