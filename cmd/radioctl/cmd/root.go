// Package cmd implements radioctl's subcommands. Grounded on the
// pack's go-sq-decoder/cmd package: a package-level rootCmd built with
// spf13/cobra, persistent flags shared by every subcommand, and an
// Execute entry point the main package calls.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiAddr string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "radioctl",
	Short: "radioctl controls and inspects a running radio-engine daemon",
	Long: `radioctl is the operator CLI for the radio-engine daemon.

It talks to the daemon's status reporter over HTTP to list channels
and their telemetry, and can inspect mode-file preset libraries
offline without a running daemon.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:8090", "status reporter base URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print extra diagnostic detail")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(modefileCmd)
}

// Execute runs the root command. Callers check the returned error and
// exit non-zero on failure rather than calling os.Exit here, so the
// command tree stays testable.
func Execute() error {
	return rootCmd.Execute()
}

func verbosef(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
