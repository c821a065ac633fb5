// Package commands implements the automator CLI's cobra commands.
package commands

import (
	"github.com/spf13/cobra"
)

// Version is the build-time version string, surfaced by Status() and
// embedded in the root command. Set once by NewRootCmd.
var Version = "dev"

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	Version = version
	rootCmd := &cobra.Command{
		Use:   "automator",
		Short: "Personal automation daemon",
		Long: `automator runs small, user-authored scripts on a schedule, captures
their results, and exposes an HTTP control plane and a stdio MCP tool
registry.

Examples:
  automator serve
  automator mcp serve
  automator status
  automator credential set my-api-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newStatusCmd(),
		newCredentialCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
