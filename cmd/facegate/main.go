package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	logLevel   string
)

// errScanCancelled ends the process with status 1 without printing an error.
var errScanCancelled = errors.New("scan cancelled")

var rootCmd = &cobra.Command{
	Use:           "facegate <command>",
	Short:         "Camera presence gate: scan until a face is seen",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			os.Setenv("FACEGATE_LOG_LEVEL", logLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errScanCancelled):
		return 1
	default:
		return 2
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errScanCancelled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
