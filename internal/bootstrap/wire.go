package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"facegate/internal/camera"
	"facegate/internal/config"
	"facegate/internal/detectors/opencv"
	applog "facegate/internal/log"
	"facegate/internal/metrics"
	"facegate/internal/ports"
	"facegate/internal/providers/facestream"
	"facegate/internal/rules"
	"facegate/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Gate    *usecase.PresenceGate
	Frames  ports.FrameSource
	Metrics *metrics.Recorder
	Config  config.Config

	detector io.Closer
}

// Close releases the face detector.
func (s Services) Close() error {
	if s.detector == nil {
		return nil
	}
	return s.detector.Close()
}

// Build loads configuration and wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, reg prometheus.Registerer) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return Assemble(cfg, eventSink, reg)
}

// Assemble wires an already resolved configuration.
func Assemble(cfg config.Config, eventSink ports.EventSink, reg prometheus.Registerer) (Services, error) {
	applog.Configure(applog.Config{Level: cfg.Log.Level, Console: cfg.Log.Console})

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path)
	if err != nil {
		return Services{}, err
	}

	detector, err := newDetector(cfg.Detector)
	if err != nil {
		return Services{}, err
	}

	frames := NewFrameSource(cfg.Camera)
	recorder := metrics.NewRecorder(reg)

	gate := usecase.NewPresenceGate(
		frames,
		detector,
		eventSink,
		usecase.Config{
			PollInterval:           cfg.Gate.PollInterval,
			ConfirmDelay:           cfg.Gate.ConfirmDelay,
			MaxConsecutiveFailures: cfg.Gate.MaxConsecutiveFailures,
		},
		usecase.WithMetrics(recorder),
		usecase.WithRegionFilter(rulesEngine),
	)

	applog.WithComponent("bootstrap").Info().
		Str("backend", cfg.Detector.Backend).
		Str("device", cfg.Camera.InputDevice).
		Int("rules", rulesEngine.Len()).
		Str("config", cfg.Source).
		Msg("gate assembled")

	return Services{
		Gate:     gate,
		Frames:   frames,
		Metrics:  recorder,
		Config:   cfg,
		detector: detector,
	}, nil
}

// NewFrameSource builds the ffmpeg camera from configuration.
func NewFrameSource(cfg config.CameraConfig) *camera.FFMPEGCapture {
	return camera.NewFFMPEGCapture(cfg.Command, ports.CameraConfig{
		InputFormat:    cfg.InputFormat,
		InputDevice:    cfg.InputDevice,
		Width:          cfg.Width,
		Height:         cfg.Height,
		CaptureTimeout: cfg.CaptureTimeout,
	})
}

type closingDetector interface {
	ports.FaceDetector
	io.Closer
}

func newDetector(cfg config.DetectorConfig) (closingDetector, error) {
	switch cfg.Backend {
	case config.BackendFacestream:
		if strings.TrimSpace(cfg.Facestream.APIKey) == "" {
			return nil, errors.New("facestream detector requires an API key")
		}
		return facestream.NewDetector(facestream.Config{
			APIKey:        cfg.Facestream.APIKey,
			APIBaseURL:    cfg.Facestream.APIBaseURL,
			MinConfidence: cfg.Facestream.MinConfidence,
			MaxFaces:      cfg.Facestream.MaxFaces,
			Timeout:       cfg.Facestream.Timeout,
		}), nil
	case config.BackendOpenCV:
		detector, err := opencv.NewDetector(opencv.Config{
			CascadePath:  cfg.OpenCV.CascadePath,
			ScaleFactor:  cfg.OpenCV.ScaleFactor,
			MinNeighbors: cfg.OpenCV.MinNeighbors,
			MinSize:      cfg.OpenCV.MinSize,
		})
		if err != nil {
			return nil, err
		}
		return detector, nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}
