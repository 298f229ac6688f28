package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "campaignflow",
	Short: "Staged campaign pipeline with validated handoffs",
	Long: `campaignflow carries a travel marketing campaign through five stages
(data_collection, content, design, quality, delivery). Each stage's output is
turned into a typed context, checked, handed off and accumulated into the
campaign's workflow state. Continuity audits score what survived each step.

State lives in the configured storage backend (file, sqlite, postgres or
memory). Settings come from campaignflow.yaml and CAMPAIGNFLOW_* variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(campaignCmd)
	rootCmd.AddCommand(artifactCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyticsCmd)
}
