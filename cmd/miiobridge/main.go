// Miiobridge is a management utility for Xiaomi miio devices.
//
// It provides network discovery, an interactive setup wizard, Xiaomi
// cloud account access for device and token retrieval, and direct
// status/control commands over the local encrypted UDP protocol.
// The companion daemon 'miiobridged' publishes configured devices to
// Home Assistant over MQTT and serves a local HTTP API.
//
// Usage:
//
//	miiobridge [command] [flags]
//
// Running without arguments launches the interactive wizard.
// See 'miiobridge --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/miiobridge/internal/config"
	"github.com/muurk/miiobridge/internal/logging"
	"github.com/muurk/miiobridge/internal/version"
	"github.com/muurk/miiobridge/internal/wizard/tui"
)

func main() {
	if err := logging.InitializeFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "miiobridge",
	Short: "Xiaomi miio Device Management Utility",
	Long: `A standalone utility for managing Xiaomi miio devices.

Provides network discovery, an interactive setup wizard, Xiaomi cloud
access for token retrieval, and direct status and control commands
over the local encrypted UDP protocol.

If no command is specified, the interactive wizard will launch automatically.`,
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: run wizard when no subcommand provided
		return runWizard(cmd, args)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("miiobridge %s (commit: %s)\n", version.Version, version.Commit)
	},
}

// wizardCmd launches the interactive TUI wizard
var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Launch interactive setup wizard",
	Long: `Launch an interactive TUI wizard for adding devices.

The wizard provides a user-friendly interface for:
- Logging into the Xiaomi cloud and importing devices with their tokens
- Discovering devices on the local network
- Entering host and token manually
- Verifying the connection before saving

This is the recommended way to add devices for most users.`,
	Example: `  # Launch the wizard
  miiobridge wizard
  # Or simply (wizard is default):
  miiobridge`,
	RunE: runWizard,
}

func init() {
	rootCmd.AddCommand(wizardCmd)
}

func runWizard(cmd *cobra.Command, args []string) error {
	registry, err := config.LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := tui.Run(registry); err != nil {
		return fmt.Errorf("wizard error: %w", err)
	}
	return nil
}
