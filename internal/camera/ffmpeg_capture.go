package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"facegate/internal/domain"
	"facegate/internal/ports"
)

const (
	defaultInputFormat    = "v4l2"
	defaultInputDevice    = "/dev/video0"
	defaultCaptureTimeout = 3 * time.Second
)

// FFMPEGCapture grabs single JPEG stills from a camera using ffmpeg.
type FFMPEGCapture struct {
	command string
	cfg     ports.CameraConfig
}

func NewFFMPEGCapture(command string, cfg ports.CameraConfig) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = defaultInputFormat
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = defaultInputDevice
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = defaultCaptureTimeout
	}
	return &FFMPEGCapture{command: command, cfg: cfg}
}

// Authorize opens path-like devices read-only so the OS can refuse access up front.
// Devices addressed by index (avfoundation, dshow) are authorized on first capture.
func (c *FFMPEGCapture) Authorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !isDevicePath(c.cfg.InputDevice) {
		return nil
	}

	file, err := os.OpenFile(c.cfg.InputDevice, os.O_RDONLY, 0)
	if err != nil {
		return classifyOpenErr(c.cfg.InputDevice, err)
	}
	return file.Close()
}

// Available reports whether ffmpeg and the configured device are present.
func (c *FFMPEGCapture) Available(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("%w: ffmpeg not found: %v", ports.ErrDeviceUnavailable, err)
	}
	if !isDevicePath(c.cfg.InputDevice) {
		return nil
	}
	if _, err := os.Stat(c.cfg.InputDevice); err != nil {
		return classifyOpenErr(c.cfg.InputDevice, err)
	}
	return nil
}

// Capture runs ffmpeg for exactly one frame and returns it as JPEG.
func (c *FFMPEGCapture) Capture(ctx context.Context) (domain.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CaptureTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command, c.args()...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		switch ctxErr := ctx.Err(); {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			return domain.Frame{}, fmt.Errorf("ffmpeg capture timed out: %w", ctxErr)
		case ctxErr != nil:
			return domain.Frame{}, ctxErr
		}
		return domain.Frame{}, classifyRunErr(err, stringsTrimSpaceSafe(stderr.String()))
	}
	if stdout.Len() == 0 {
		return domain.Frame{}, fmt.Errorf("ffmpeg produced no frame: %s", stringsTrimSpaceSafe(stderr.String()))
	}

	return domain.Frame{
		ID:         uuid.NewString(),
		Data:       stdout.Bytes(),
		Format:     "jpeg",
		CapturedAt: time.Now(),
	}, nil
}

func (c *FFMPEGCapture) args() []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", c.cfg.InputFormat,
	}
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height))
	}
	return append(args,
		"-i", c.cfg.InputDevice,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
}

func isDevicePath(device string) bool {
	return filepath.IsAbs(device)
}

func classifyOpenErr(device string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ports.ErrPermissionDenied, device)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ports.ErrDeviceUnavailable, device)
	default:
		return fmt.Errorf("failed to open camera %s: %w", device, err)
	}
}

// classifyRunErr maps ffmpeg's stderr onto the camera sentinels where it is unambiguous.
func classifyRunErr(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"):
		return fmt.Errorf("%w: %s", ports.ErrPermissionDenied, stderr)
	case strings.Contains(lower, "no such file or directory"), strings.Contains(lower, "no such device"):
		return fmt.Errorf("%w: %s", ports.ErrDeviceUnavailable, stderr)
	case stderr != "":
		return fmt.Errorf("ffmpeg capture failed: %w: %s", err, stderr)
	default:
		return fmt.Errorf("ffmpeg capture failed: %w", err)
	}
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
