// Package commands implements the LeadClaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leadclaw",
		Short: "LeadClaw - chat-driven sales assistant",
		Long: `LeadClaw is a chat-driven sales and support assistant. It answers
customer questions through Telegram and Discord, captures contact details,
and re-engages users who go quiet.

Examples:
  leadclaw serve
  leadclaw serve --config ./config.yaml
  leadclaw config init
  leadclaw config set-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newReportCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
