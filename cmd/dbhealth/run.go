package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/orchestrator"
)

var outputDir string
var reportPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the registered checks for one target and emit a report",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to save findings in canonical tree form (empty disables)")
	runCmd.Flags().StringVar(&reportPath, "report", "", "file to write the rendered AsciiDoc report to (empty writes to stdout)")
}

func runRun(cmd *cobra.Command, args []string) error {
	target, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	plugin, err := resolvePlugin(target.Plugin)
	if err != nil {
		return err
	}

	orch := orchestrator.New(target, plugin, outputDir)
	report, runErr := orch.Run(context.Background())
	if report == nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %d/%d checks successful (%.1fs)\n",
		report.Run.RunID, report.Run.SuccessfulChecks, report.Run.TotalChecks, report.Run.DurationSeconds)

	if reportPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), report.Rendered)
	} else if err := os.WriteFile(reportPath, []byte(report.Rendered), 0o644); err != nil {
		return err
	}

	// a persistence failure degrades the run but the report above is
	// still complete; exit non-zero to flag the engine-level fault
	return runErr
}
