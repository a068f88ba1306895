// Command dbhealth runs fleet-wide database health checks against a
// single configured target and reports findings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo/dbhealth/internal/obs"
)

var cfgFile string
var logLevel string
var logFormat string

var rootCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Pluggable fleet-wide database health check orchestration engine",
	Long: `dbhealth connects to a PostgreSQL, Kafka, Cassandra, ClickHouse, or
Valkey/Redis target, runs its registered diagnostic checks in weight
order, and reports the findings as an AsciiDoc document, optionally
persisting a trend-analysis history.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		obs.Configure(obs.Config{Level: logLevel, Format: logFormat})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (yaml/json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(runCmd, trendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
