package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facegate/internal/config"
	"facegate/internal/domain"
	"facegate/internal/ports"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errScanCancelled))
	assert.Equal(t, 1, exitCode(fmt.Errorf("wrapped: %w", errScanCancelled)))
	assert.Equal(t, 2, exitCode(errors.New("boom")))
}

func TestConsoleSinkText(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf, false)

	sink.PhaseChanged("s1", domain.PhaseAwaitingPermission, domain.PhaseReasonActivated)
	sink.PhaseChanged("s1", domain.PhaseScanning, domain.PhaseReasonPermissionGranted)
	sink.FacesDetected("s1", 0)
	sink.FacesDetected("s1", 1)
	sink.SessionError(domain.ErrorCodeCapture, "buffer underrun")
	sink.SessionError(domain.ErrorCodeDeviceUnavailable, "no camera")
	sink.PhaseChanged("s1", domain.PhaseCancelled, domain.PhaseReasonDismissed)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"Requesting camera permission...",
		"Hold still - scanning face",
		"1 face(s) in view",
		"warning: capture: buffer underrun",
		"error: device_unavailable: no camera (press Ctrl-C to quit)",
	}, lines)
}

func TestConsoleSinkJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := newConsoleSink(&buf, true)

	sink.FacesDetected("s1", 0)
	sink.SessionError(domain.ErrorCodePermissionDenied, "denied")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var faces map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &faces))
	assert.Equal(t, "faces", faces["event"])
	assert.Equal(t, 0.0, faces["count"])

	var failure map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failure))
	assert.Equal(t, "permission_denied", failure["code"])
	assert.Equal(t, true, failure["blocking"])
}

func TestPhaseLine(t *testing.T) {
	assert.Equal(t, "Retrying camera...", phaseLine(domain.PhaseAwaitingPermission, domain.PhaseReasonRetrying))
	assert.Equal(t, "Face detected", phaseLine(domain.PhaseDetected, domain.PhaseReasonFaceDetected))
	assert.Equal(t, "Face verified", phaseLine(domain.PhaseCompleted, domain.PhaseReasonConfirmed))
	assert.Equal(t, "Scan cancelled", phaseLine(domain.PhaseCancelled, domain.PhaseReasonUserCancelled))
	assert.Empty(t, phaseLine(domain.PhaseIdle, domain.PhaseReasonGateCold))
}

func TestRunProbeReady(t *testing.T) {
	jsonOutput = false
	var buf bytes.Buffer

	require.NoError(t, runProbe(context.Background(), &buf, probeFrames{}, "/dev/video0"))
	assert.Contains(t, buf.String(), "Authorized: true")
	assert.Contains(t, buf.String(), "Available:  true")
	assert.NotContains(t, buf.String(), "Problem")
}

func TestRunProbeReportsProblems(t *testing.T) {
	jsonOutput = true
	defer func() { jsonOutput = false }()

	var buf bytes.Buffer
	err := runProbe(context.Background(), &buf, probeFrames{availErr: fmt.Errorf("%w: /dev/video9", ports.ErrDeviceUnavailable)}, "/dev/video9")
	require.ErrorIs(t, err, ports.ErrDeviceUnavailable)

	var result probeResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, probeResult{Device: "/dev/video9", Authorized: true, Problem: "camera not found"}, result)

	buf.Reset()
	err = runProbe(context.Background(), &buf, probeFrames{authErr: ports.ErrPermissionDenied}, "/dev/video0")
	require.ErrorIs(t, err, ports.ErrPermissionDenied)
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.False(t, result.Authorized)
	assert.Equal(t, "permission denied", result.Problem)
}

func TestWriteConfigRedactsAPIKey(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Detector.Facestream.APIKey = "super-secret"
	cfg.Source = "/etc/facegate/config.yaml"

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, cfg))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "# loaded from /etc/facegate/config.yaml\n"))
	assert.Contains(t, out, "api_key: <redacted>")
	assert.NotContains(t, out, "super-secret")
}

type probeFrames struct {
	authErr  error
	availErr error
}

func (p probeFrames) Authorize(context.Context) error { return p.authErr }
func (p probeFrames) Available(context.Context) error { return p.availErr }
func (probeFrames) Capture(context.Context) (domain.Frame, error) {
	return domain.Frame{}, errors.New("not used")
}
