package commands

import (
	"github.com/spf13/cobra"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nepse",
	Short: "NEPSE sector sentiment service",
	Long: `Keeps per-sector advance/decline observations for NEPSE trading dates and
the market-wide aggregate derived from them.

Configuration is read from the environment and an optional .env file.

Examples:
  nepse serve
  nepse migrate
  nepse recompute --date 2024-01-05
  nepse import sectors.csv
  nepse export --sector hydropower`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
