package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendOpenCV     = "opencv"
	BackendFacestream = "facestream"
)

// Config stores runtime configuration for the presence gate.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Rules    RulesConfig    `yaml:"rules"`
	Gate     GateConfig     `yaml:"gate"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Source is the config file that was applied, empty when none was found.
	Source string `yaml:"-"`
}

type CameraConfig struct {
	Command        string        `yaml:"command"`
	InputFormat    string        `yaml:"input_format"`
	InputDevice    string        `yaml:"input_device"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

type DetectorConfig struct {
	Backend    string           `yaml:"backend"`
	OpenCV     OpenCVConfig     `yaml:"opencv"`
	Facestream FacestreamConfig `yaml:"facestream"`
}

type OpenCVConfig struct {
	CascadePath  string  `yaml:"cascade_path"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	MinNeighbors int     `yaml:"min_neighbors"`
	MinSize      int     `yaml:"min_size"`
}

type FacestreamConfig struct {
	APIKey        string        `yaml:"api_key"`
	APIBaseURL    string        `yaml:"api_base_url"`
	MinConfidence float64       `yaml:"min_confidence"`
	MaxFaces      int           `yaml:"max_faces"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RulesConfig struct {
	Path string `yaml:"path"`
}

type GateConfig struct {
	PollInterval           time.Duration `yaml:"poll_interval"`
	ConfirmDelay           time.Duration `yaml:"confirm_delay"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load resolves configuration from defaults, an optional YAML file and
// environment variables, in that order.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Default(home)

	path := envOrDefault("FACEGATE_CONFIG", filepath.Join(home, ".config", "facegate", "config.yaml"))
	contents, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(bytes.NewReader(contents), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
		cfg.Source = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration for a user home directory.
func Default(home string) Config {
	format, device := defaultCamera()
	return Config{
		Camera: CameraConfig{
			Command:        "ffmpeg",
			InputFormat:    format,
			InputDevice:    device,
			CaptureTimeout: 3 * time.Second,
		},
		Detector: DetectorConfig{
			Backend: BackendOpenCV,
			OpenCV: OpenCVConfig{
				CascadePath: firstExisting(
					filepath.Join(home, ".config", "facegate", "haarcascade_frontalface_default.xml"),
					"/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
					"/usr/local/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
				),
				ScaleFactor:  1.1,
				MinNeighbors: 5,
				MinSize:      60,
			},
			Facestream: FacestreamConfig{
				APIBaseURL: "http://127.0.0.1:8765/v1",
				Timeout:    5 * time.Second,
			},
		},
		Rules: RulesConfig{
			Path: firstExisting(
				filepath.Join(home, ".config", "facegate", "regions.rules"),
				"/etc/facegate/regions.rules",
			),
		},
		Gate: GateConfig{
			PollInterval: time.Second,
			ConfirmDelay: 800 * time.Millisecond,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate rejects configurations that cannot be wired.
func (c Config) Validate() error {
	switch c.Detector.Backend {
	case BackendOpenCV:
	case BackendFacestream:
		if strings.TrimSpace(c.Detector.Facestream.APIKey) == "" {
			return errors.New("facestream detector requires FACEGATE_FACESTREAM_API_KEY")
		}
	default:
		return fmt.Errorf("unknown detector backend %q", c.Detector.Backend)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return errors.New("camera size must not be negative")
	}
	return nil
}

// WriteYAML renders the configuration in the same format Load reads.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Camera.Command = envOrDefault("FACEGATE_FFMPEG_COMMAND", cfg.Camera.Command)
	cfg.Camera.InputFormat = envOrDefault("FACEGATE_CAMERA_INPUT_FORMAT", cfg.Camera.InputFormat)
	cfg.Camera.InputDevice = envOrDefault("FACEGATE_CAMERA_DEVICE", cfg.Camera.InputDevice)
	cfg.Camera.Width = envOrDefaultInt("FACEGATE_CAMERA_WIDTH", cfg.Camera.Width)
	cfg.Camera.Height = envOrDefaultInt("FACEGATE_CAMERA_HEIGHT", cfg.Camera.Height)
	cfg.Camera.CaptureTimeout = envOrDefaultMillis("FACEGATE_CAPTURE_TIMEOUT_MS", cfg.Camera.CaptureTimeout)

	cfg.Detector.Backend = strings.ToLower(envOrDefault("FACEGATE_DETECTOR", cfg.Detector.Backend))
	cfg.Detector.OpenCV.CascadePath = envOrDefault("FACEGATE_CASCADE_FILE", cfg.Detector.OpenCV.CascadePath)
	cfg.Detector.Facestream.APIKey = envOrDefault("FACEGATE_FACESTREAM_API_KEY", cfg.Detector.Facestream.APIKey)
	cfg.Detector.Facestream.APIBaseURL = envOrDefault("FACEGATE_FACESTREAM_API_BASE", cfg.Detector.Facestream.APIBaseURL)
	cfg.Detector.Facestream.MinConfidence = envOrDefaultFloat("FACEGATE_FACESTREAM_MIN_CONFIDENCE", cfg.Detector.Facestream.MinConfidence)

	cfg.Rules.Path = envOrDefault("FACEGATE_RULES_FILE", cfg.Rules.Path)

	cfg.Gate.PollInterval = envOrDefaultMillis("FACEGATE_POLL_INTERVAL_MS", cfg.Gate.PollInterval)
	cfg.Gate.ConfirmDelay = envOrDefaultMillis("FACEGATE_CONFIRM_DELAY_MS", cfg.Gate.ConfirmDelay)
	cfg.Gate.MaxConsecutiveFailures = envOrDefaultInt("FACEGATE_MAX_CONSECUTIVE_FAILURES", cfg.Gate.MaxConsecutiveFailures)

	cfg.Log.Level = envOrDefault("FACEGATE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Console = envOrDefaultBool("FACEGATE_LOG_CONSOLE", cfg.Log.Console)

	cfg.Metrics.Addr = envOrDefault("FACEGATE_METRICS_ADDR", cfg.Metrics.Addr)
}

func normalize(cfg *Config) {
	if cfg.Camera.CaptureTimeout <= 0 {
		cfg.Camera.CaptureTimeout = 3 * time.Second
	}
	if cfg.Gate.PollInterval <= 0 {
		cfg.Gate.PollInterval = time.Second
	}
	if cfg.Gate.ConfirmDelay <= 0 {
		cfg.Gate.ConfirmDelay = 800 * time.Millisecond
	}
	if cfg.Gate.MaxConsecutiveFailures < 0 {
		cfg.Gate.MaxConsecutiveFailures = 0
	}
	if cfg.Detector.OpenCV.ScaleFactor <= 1 {
		cfg.Detector.OpenCV.ScaleFactor = 1.1
	}
	if cfg.Detector.OpenCV.MinNeighbors <= 0 {
		cfg.Detector.OpenCV.MinNeighbors = 5
	}
	if cfg.Detector.Facestream.Timeout <= 0 {
		cfg.Detector.Facestream.Timeout = 5 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// defaultCamera picks the built-in front camera for the host platform.
func defaultCamera() (format string, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", "0"
	case "windows":
		return "dshow", "video=Integrated Camera"
	default:
		return "v4l2", "/dev/video0"
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
