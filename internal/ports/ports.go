package ports

import (
	"context"
	"errors"
	"time"

	"facegate/internal/domain"
)

var (
	// ErrPermissionDenied is returned when camera access was refused.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable is returned when no usable camera device exists.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrDetectorRejected is returned when the face detector refuses the
	// configured credentials. Retrying on the next frame cannot help.
	ErrDetectorRejected = errors.New("face detector rejected credentials")
)

// CameraConfig describes how the camera should be captured.
type CameraConfig struct {
	InputFormat    string
	InputDevice    string
	Width          int
	Height         int
	CaptureTimeout time.Duration
}

// FrameSource captures still frames from a camera on demand.
type FrameSource interface {
	// Authorize requests camera access. It returns ErrPermissionDenied or
	// ErrDeviceUnavailable when capture cannot proceed.
	Authorize(ctx context.Context) error
	// Available reports whether a usable device is present.
	Available(ctx context.Context) error
	Capture(ctx context.Context) (domain.Frame, error)
}

// FaceDetector finds face regions in a captured frame.
type FaceDetector interface {
	Detect(ctx context.Context, frame domain.Frame) ([]domain.FaceRegion, error)
}

// RegionFilter drops regions that should not count as presence.
type RegionFilter interface {
	Apply(regions []domain.FaceRegion) []domain.FaceRegion
}

// EventSink emits gate state/events to the UI.
type EventSink interface {
	PhaseChanged(sessionID string, phase domain.Phase, reason domain.PhaseReason)
	FacesDetected(sessionID string, count int)
	SessionError(code domain.ErrorCode, detail string)
}

// TickOutcome labels the result of one scheduler tick.
type TickOutcome string

const (
	TickOutcomeNoFace       TickOutcome = "no_face"
	TickOutcomeFace         TickOutcome = "face"
	TickOutcomeCaptureError TickOutcome = "capture_error"
	TickOutcomeDetectError  TickOutcome = "detect_error"
	TickOutcomeSkipped      TickOutcome = "skipped"
	TickOutcomeDiscarded    TickOutcome = "discarded"
)

// Metrics records gate activity.
type Metrics interface {
	Tick(outcome TickOutcome)
	RoundTrip(d time.Duration)
	SessionFinished(result domain.PhaseReason)
	Blocked(code domain.ErrorCode)
}
