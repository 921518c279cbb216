package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"facegate/internal/bootstrap"
	"facegate/internal/config"
	"facegate/internal/ports"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check camera permission and availability without scanning",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		return runProbe(ctx, cmd.OutOrStdout(), bootstrap.NewFrameSource(cfg.Camera), cfg.Camera.InputDevice)
	},
}

type probeResult struct {
	Device     string `json:"device"`
	Authorized bool   `json:"authorized"`
	Available  bool   `json:"available"`
	Problem    string `json:"problem,omitempty"`
}

func runProbe(ctx context.Context, out io.Writer, frames ports.FrameSource, device string) error {
	result := probeResult{Device: device}

	err := frames.Authorize(ctx)
	if err == nil {
		result.Authorized = true
		err = frames.Available(ctx)
		result.Available = err == nil
	}
	if err != nil {
		result.Problem = probeProblem(err)
	}

	if jsonOutput {
		data, marshalErr := json.MarshalIndent(result, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("marshaling JSON: %w", marshalErr)
		}
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintf(out, "Camera:     %s\n", result.Device)
		fmt.Fprintf(out, "Authorized: %t\n", result.Authorized)
		fmt.Fprintf(out, "Available:  %t\n", result.Available)
		if result.Problem != "" {
			fmt.Fprintf(out, "Problem:    %s\n", result.Problem)
		}
	}

	if err != nil {
		return fmt.Errorf("camera not ready: %w", err)
	}
	return nil
}

func probeProblem(err error) string {
	switch {
	case errors.Is(err, ports.ErrPermissionDenied):
		return "permission denied"
	case errors.Is(err, ports.ErrDeviceUnavailable):
		return "camera not found"
	default:
		return err.Error()
	}
}
