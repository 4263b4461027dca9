package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes reported to the surrounding test harness.
const (
	exitPass           = 0
	exitFailed         = 1
	exitInfrastructure = 2
)

// exitCode is set by the run command and consumed by main after Execute.
var exitCode = exitPass

var rootCmd = &cobra.Command{
	Use:   "darkswarm",
	Short: "Load-test swarm client for the game server",
	Long: "darkswarm simulates many concurrent game clients over the binary UDP " +
		"protocol, drives them through movement patterns and validates the " +
		"server against its bandwidth and snapshot-rate budgets.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == exitPass {
			exitCode = exitFailed
		}
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
