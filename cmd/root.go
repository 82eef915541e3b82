// Package cmd implements the delegate CLI: the daemon entrypoint plus
// the small bootstrap commands an operator runs before it (team
// registration, one-shot migration). Command wiring follows the
// teacher's cobra root/init shape; there is no TUI here, so none of
// that machinery carries over.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/delegate-run/delegate/internal/paths"
)

var (
	version  = "dev"
	homeFlag string
)

var rootCmd = &cobra.Command{
	Use:     "delegate",
	Short:   "Delegate orchestrates a team of AI agents against your repos",
	Long:    "Delegate is a daemon that dispatches agent turns, reviews, and merges against a configured team's repos, plus the CLI commands to bootstrap one.",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "delegate home directory (default: $DELEGATE_HOME or ~/.delegate)")
}

func home() string {
	if homeFlag != "" {
		return homeFlag
	}
	return paths.Home()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
