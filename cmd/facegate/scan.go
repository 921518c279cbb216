package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"facegate/internal/bootstrap"
	"facegate/internal/domain"
	applog "facegate/internal/log"
	"facegate/internal/ports"
	"facegate/internal/usecase"
)

var (
	metricsAddr string
	scanTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Open the camera and wait for a face (Ctrl-C cancels)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if scanTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, scanTimeout)
			defer cancel()
		}
		return runScan(ctx, cmd.ErrOrStderr())
	},
}

func init() {
	scanCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while scanning")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 0, "give up after this long (0 waits until cancelled)")
}

func runScan(ctx context.Context, out io.Writer) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	sink := newConsoleSink(out, jsonOutput)
	services, err := bootstrap.Build(sink, registry)
	if err != nil {
		return err
	}
	defer services.Close()

	addr := metricsAddr
	if addr == "" {
		addr = services.Config.Metrics.Addr
	}
	if addr != "" {
		shutdown := serveMetrics(addr, registry)
		defer shutdown()
	}

	session, err := services.Gate.Activate(ctx, usecase.Callbacks{})
	if err != nil {
		return err
	}
	<-session.Done()

	applog.WithComponent("cli").Debug().
		Float64("ticks_no_face", services.Metrics.TickTotal(ports.TickOutcomeNoFace)).
		Float64("ticks_skipped", services.Metrics.TickTotal(ports.TickOutcomeSkipped)).
		Msg("scan finished")

	if session.Phase() == domain.PhaseCompleted {
		return nil
	}
	return errScanCancelled
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := applog.WithComponent("metrics")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// consoleSink prints gate events for a terminal user.
type consoleSink struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func newConsoleSink(out io.Writer, asJSON bool) *consoleSink {
	return &consoleSink{out: out, json: asJSON}
}

func (c *consoleSink) PhaseChanged(sessionID string, phase domain.Phase, reason domain.PhaseReason) {
	c.write(map[string]interface{}{
		"event":     "phase",
		"sessionId": sessionID,
		"phase":     phase,
		"reason":    reason,
	}, phaseLine(phase, reason))
}

func (c *consoleSink) FacesDetected(sessionID string, count int) {
	// Empty ticks are only interesting to machine consumers.
	line := ""
	if count > 0 {
		line = fmt.Sprintf("%d face(s) in view", count)
	}
	c.write(map[string]interface{}{
		"event":     "faces",
		"sessionId": sessionID,
		"count":     count,
	}, line)
}

func (c *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	line := fmt.Sprintf("warning: %s: %s", code, detail)
	if code.Blocking() {
		line = fmt.Sprintf("error: %s: %s (press Ctrl-C to quit)", code, detail)
	}
	c.write(map[string]interface{}{
		"event":    "error",
		"code":     code,
		"detail":   detail,
		"blocking": code.Blocking(),
	}, line)
}

func (c *consoleSink) write(record map[string]interface{}, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.json {
		data, err := json.Marshal(record)
		if err != nil {
			return
		}
		fmt.Fprintln(c.out, string(data))
		return
	}
	if line != "" {
		fmt.Fprintln(c.out, line)
	}
}

func phaseLine(phase domain.Phase, reason domain.PhaseReason) string {
	switch phase {
	case domain.PhaseAwaitingPermission:
		if reason == domain.PhaseReasonRetrying {
			return "Retrying camera..."
		}
		return "Requesting camera permission..."
	case domain.PhaseScanning:
		return "Hold still - scanning face"
	case domain.PhaseDetected:
		return "Face detected"
	case domain.PhaseCompleted:
		return "Face verified"
	case domain.PhaseCancelled:
		if reason == domain.PhaseReasonDismissed {
			return ""
		}
		return "Scan cancelled"
	default:
		return ""
	}
}
