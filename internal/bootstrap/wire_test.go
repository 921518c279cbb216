package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"facegate/internal/config"
	"facegate/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FACEGATE_CONFIG", "")
	t.Setenv("FACEGATE_DETECTOR", "facestream")
	t.Setenv("FACEGATE_FACESTREAM_API_KEY", "test-key")

	services, err := Build(noopEventSink{}, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Gate == nil || services.Frames == nil || services.Metrics == nil {
		t.Fatalf("expected assembled services, got %+v", services)
	}
	if services.Config.Detector.Backend != config.BackendFacestream {
		t.Fatalf("unexpected backend: %q", services.Config.Detector.Backend)
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := t.TempDir()
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("FACEGATE_CONFIG", "")
	t.Setenv("FACEGATE_DETECTOR", "facestream")
	t.Setenv("FACEGATE_FACESTREAM_API_KEY", "test-key")
	t.Setenv("FACEGATE_RULES_FILE", rules)

	_, err := Build(noopEventSink{}, prometheus.NewRegistry())
	if err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestAssembleFailsWithoutCascade(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Detector.Backend = config.BackendOpenCV
	cfg.Detector.OpenCV.CascadePath = filepath.Join(t.TempDir(), "missing.xml")
	cfg.Rules.Path = ""

	_, err := Assemble(cfg, noopEventSink{}, prometheus.NewRegistry())
	if err == nil {
		t.Fatalf("expected build error due to missing cascade")
	}
}

func TestAssembleRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Detector.Backend = "dlib"
	cfg.Rules.Path = ""

	_, err := Assemble(cfg, noopEventSink{}, prometheus.NewRegistry())
	if err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestAssembleRejectsFacestreamWithoutKey(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Detector.Backend = config.BackendFacestream
	cfg.Rules.Path = ""

	_, err := Assemble(cfg, noopEventSink{}, prometheus.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Fatalf("expected missing API key error, got %v", err)
	}
}

func TestServicesCloseWithoutDetector(t *testing.T) {
	if err := (Services{}).Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

type noopEventSink struct{}

func (noopEventSink) PhaseChanged(_ string, _ domain.Phase, _ domain.PhaseReason) {}
func (noopEventSink) FacesDetected(_ string, _ int)                               {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                   {}
