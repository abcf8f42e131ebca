package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"plangov/pkg/logging"
)

var (
	rootConfigPath string
	rootLogLevel   string
)

// rootCmd is the base command for the plangov application.
var rootCmd = &cobra.Command{
	Use:   "plangov",
	Short: "Governance and drift remediation for API usage plans",
	Long: `plangov keeps tiered API rate-limiting policies ("usage plans")
synchronized between a declarative governance store and the live
configuration of a managed gateway. It detects drift, applies minimal
corrective actions, and recreates deleted plans with full lineage.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.ParseLevel(rootLogLevel), os.Stderr)
	},
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "plangov version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootConfigPath, "config", "c", "plangov.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
