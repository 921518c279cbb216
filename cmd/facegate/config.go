package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"facegate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

func writeConfig(out io.Writer, cfg config.Config) error {
	if cfg.Detector.Facestream.APIKey != "" {
		cfg.Detector.Facestream.APIKey = "<redacted>"
	}
	if cfg.Source != "" {
		fmt.Fprintf(out, "# loaded from %s\n", cfg.Source)
	}
	return cfg.WriteYAML(out)
}
