package domain

import "time"

// Phase models the presence gate lifecycle.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseAwaitingPermission Phase = "awaiting_permission"
	PhaseScanning           Phase = "scanning"
	PhaseDetected           Phase = "detected"
	PhaseCompleted          Phase = "completed"
	PhaseCancelled          Phase = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// PhaseReason provides a structured reason for phase transitions.
type PhaseReason string

const (
	PhaseReasonGateCold          PhaseReason = "gate_cold"
	PhaseReasonActivated         PhaseReason = "activated"
	PhaseReasonPermissionGranted PhaseReason = "permission_granted"
	PhaseReasonRetrying          PhaseReason = "retrying"
	PhaseReasonFaceDetected      PhaseReason = "face_detected"
	PhaseReasonConfirmed         PhaseReason = "confirmed"
	PhaseReasonUserCancelled     PhaseReason = "user_cancelled"
	PhaseReasonDismissed         PhaseReason = "dismissed"
)

// ErrorCode identifies non-fatal and blocking gate errors.
type ErrorCode string

const (
	ErrorCodeNone              ErrorCode = ""
	ErrorCodeStartup           ErrorCode = "startup"
	ErrorCodePermissionDenied  ErrorCode = "permission_denied"
	ErrorCodeDeviceUnavailable ErrorCode = "device_unavailable"
	ErrorCodeCapture           ErrorCode = "capture"
	ErrorCodeDetect            ErrorCode = "detect"
	ErrorCodeCaptureFailing    ErrorCode = "capture_failing"
	ErrorCodeDetectorRejected  ErrorCode = "detector_rejected"
)

// Blocking reports whether the code stops polling until the caller acts.
func (c ErrorCode) Blocking() bool {
	switch c {
	case ErrorCodePermissionDenied, ErrorCodeDeviceUnavailable, ErrorCodeCaptureFailing, ErrorCodeDetectorRejected:
		return true
	default:
		return false
	}
}

// Frame is one captured still image, valid for a single detect call.
type Frame struct {
	ID         string    `json:"id"`
	Data       []byte    `json:"-"`
	Format     string    `json:"format"`
	CapturedAt time.Time `json:"capturedAt"`
}

// FaceRegion is the bounding box of one detected face within a frame.
type FaceRegion struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Status summarizes the current gate session.
type Status struct {
	SessionID string    `json:"sessionId,omitempty"`
	Phase     Phase     `json:"phase"`
	Active    bool      `json:"active"`
	Capturing bool      `json:"capturing"`
	Blocked   ErrorCode `json:"blocked,omitempty"`
	Message   string    `json:"message,omitempty"`
}
