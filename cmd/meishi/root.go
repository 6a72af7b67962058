package main

import (
	"github.com/spf13/cobra"

	"github.com/meishi-bot/meishi/internal/api"
	"github.com/meishi-bot/meishi/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "meishi",
	Short: "Business card digitization bot for Slack and FileMaker",
	Long: `Meishi turns business card photos shared in a Slack channel into
FileMaker records using a vision model for extraction.

The pipeline includes:
  - Concurrent extraction of up to five card images per batch
  - Schema-validated structured output from the vision model
  - Duplicate screening against existing records by name
  - Threaded Slack reports with confirm and cleanup actions`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.meishi/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
