package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"facegate/internal/bootstrap"
	"facegate/internal/config"
	"facegate/internal/domain"
	"facegate/internal/usecase"
)

const (
	eventPhase  = "facegate:phase"
	eventFaces  = "facegate:faces"
	eventError  = "facegate:error"
	eventResult = "facegate:result"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	gate     *usecase.PresenceGate
	cfg      config.Config
	bootErr  error

	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, prometheus.DefaultRegisterer)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.gate = services.Gate
	a.PhaseChanged("", domain.PhaseIdle, domain.PhaseReasonGateCold)
}

func (a *App) shutdown(_ context.Context) {
	if a.gate != nil {
		a.gate.Dismiss()
	}
	_ = a.services.Close()
}

// Activate opens the camera and starts scanning for a face.
func (a *App) Activate() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if _, err := a.gate.Activate(a.ctx, a.resultCallbacks()); err != nil {
		return domain.Status{}, err
	}
	return a.gate.Status(), nil
}

// Cancel ends the current scan and reports a cancelled result.
func (a *App) Cancel() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.gate.CancelCurrent(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// Retry re-requests the camera after a blocking error.
func (a *App) Retry() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.gate.RetryCurrent(); err != nil {
		return domain.Status{}, err
	}
	return a.gate.Status(), nil
}

// Dismiss tears down the scanner without reporting a result.
func (a *App) Dismiss() {
	if a.gate != nil {
		a.gate.Dismiss()
	}
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.gate == nil {
		if a.bootErr != nil {
			return domain.Status{Phase: domain.PhaseIdle, Blocked: domain.ErrorCodeStartup, Message: a.bootErr.Error()}
		}
		return domain.Status{Phase: domain.PhaseIdle}
	}
	status := a.gate.Status()
	switch {
	case status.Message != "":
	case status.Blocked != domain.ErrorCodeNone:
		status.Message = errorMessage(status.Blocked, "")
	default:
		status.Message = phaseMessage(status.Phase)
	}
	return status
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"detector":     a.cfg.Detector.Backend,
		"camera":       a.cfg.Camera.InputDevice,
		"cameraFormat": a.cfg.Camera.InputFormat,
		"rulesFile":    a.cfg.Rules.Path,
		"pollInterval": a.cfg.Gate.PollInterval.String(),
		"confirmDelay": a.cfg.Gate.ConfirmDelay.String(),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.gate == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) resultCallbacks() usecase.Callbacks {
	return usecase.Callbacks{
		OnSuccess: func() { a.emitEvent(eventResult, map[string]string{"result": "success"}) },
		OnCancel:  func() { a.emitEvent(eventResult, map[string]string{"result": "cancelled"}) },
	}
}

// PhaseChanged emits session lifecycle updates to the frontend.
func (a *App) PhaseChanged(sessionID string, phase domain.Phase, reason domain.PhaseReason) {
	a.emitEvent(eventPhase, map[string]string{
		"sessionId": sessionID,
		"phase":     string(phase),
		"reason":    string(reason),
		"message":   phaseMessage(phase),
	})
}

// FacesDetected emits the face count of every settled scan.
func (a *App) FacesDetected(sessionID string, count int) {
	a.emitEvent(eventFaces, map[string]interface{}{
		"sessionId": sessionID,
		"count":     count,
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emitEvent(eventError, map[string]interface{}{
		"code":     string(code),
		"message":  errorMessage(code, detail),
		"detail":   detail,
		"blocking": code.Blocking(),
	})
}

func (a *App) emitEvent(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func phaseMessage(phase domain.Phase) string {
	switch phase {
	case domain.PhaseIdle:
		return "Camera off"
	case domain.PhaseAwaitingPermission:
		return "Requesting Camera Permission..."
	case domain.PhaseScanning:
		return "Hold still - scanning face"
	case domain.PhaseDetected:
		return "Face Detected ✔"
	case domain.PhaseCompleted:
		return "Face verified"
	case domain.PhaseCancelled:
		return "Scan cancelled"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermissionDenied:
		return "Camera permission denied"
	case domain.ErrorCodeDeviceUnavailable:
		return "Front Camera Not Found"
	case domain.ErrorCodeCapture:
		return "Camera capture issue"
	case domain.ErrorCodeDetect:
		return "Face detection issue"
	case domain.ErrorCodeCaptureFailing:
		return "Camera keeps failing"
	case domain.ErrorCodeDetectorRejected:
		return "Face detection service refused access"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
