package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evalgo/dbhealth/internal/config"
	"github.com/evalgo/dbhealth/internal/obs"
	"github.com/evalgo/dbhealth/internal/trendstore"
)

var trendDaysBack int
var trendMetrics []string

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Print the trend analysis for a target's persisted run history",
	RunE:  runTrend,
}

func init() {
	trendCmd.Flags().IntVar(&trendDaysBack, "days", 7, "trailing window, in days, to analyze")
	trendCmd.Flags().StringSliceVar(&trendMetrics, "metric", nil, "metric name(s) to analyze (default: all seen in the window)")
}

func runTrend(cmd *cobra.Command, args []string) error {
	target, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if !target.TrendStorageEnabled {
		return fmt.Errorf("trend_storage_enabled is false for this target")
	}

	log := obs.RunLogger("trend-cli", target.CompanyName, target.Host)
	store, err := trendstore.Open(target.TrendDatabase, target.CompanyName, log)
	if err != nil {
		return fmt.Errorf("opening trend store: %w", err)
	}
	defer store.Close()

	analysis, err := store.GetTrendAnalysis(trendDaysBack, trendMetrics)
	if err != nil {
		return fmt.Errorf("computing trend analysis: %w", err)
	}

	out, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling trend analysis: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
