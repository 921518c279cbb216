package usecase

import (
	"context"
	"errors"
	"fmt"

	"facegate/internal/domain"
	"facegate/internal/ports"
)

// tick schedules the next tick and starts a round-trip unless one is in flight.
func (g *PresenceGate) tick(s *Session, gen int) {
	s.mu.Lock()
	if s.phase != domain.PhaseScanning || s.attempt != gen || s.blocked != domain.ErrorCodeNone {
		s.mu.Unlock()
		return
	}
	s.tickTimer = g.clock.AfterFunc(g.cfg.PollInterval, func() {
		g.tick(s, gen)
	})
	if s.capturing {
		s.mu.Unlock()
		g.metrics.Tick(ports.TickOutcomeSkipped)
		g.sessionLog(s).Debug().Msg("previous capture still in flight, skipping tick")
		return
	}
	s.capturing = true
	s.mu.Unlock()

	go g.roundTrip(s, gen)
}

func (g *PresenceGate) roundTrip(s *Session, gen int) {
	started := g.clock.Now()
	faces, outcome, err := g.captureAndDetect(s.ctx)
	g.metrics.RoundTrip(g.clock.Now().Sub(started))
	g.settle(s, gen, faces, outcome, err)
}

func (g *PresenceGate) captureAndDetect(ctx context.Context) ([]domain.FaceRegion, ports.TickOutcome, error) {
	var frame domain.Frame
	err := guard(func() error {
		var captureErr error
		frame, captureErr = g.frames.Capture(ctx)
		return captureErr
	})
	if err != nil {
		return nil, ports.TickOutcomeCaptureError, err
	}

	var regions []domain.FaceRegion
	err = guard(func() error {
		var detectErr error
		regions, detectErr = g.detector.Detect(ctx, frame)
		if detectErr == nil && g.filter != nil {
			regions = g.filter.Apply(regions)
		}
		return detectErr
	})
	if err != nil {
		return nil, ports.TickOutcomeDetectError, err
	}
	if len(regions) == 0 {
		return nil, ports.TickOutcomeNoFace, nil
	}
	return regions, ports.TickOutcomeFace, nil
}

// settle releases the capture flag and applies a round-trip result. Results
// that arrive after the session left scanning are discarded.
func (g *PresenceGate) settle(s *Session, gen int, faces []domain.FaceRegion, outcome ports.TickOutcome, err error) {
	s.mu.Lock()
	s.capturing = false
	if s.phase != domain.PhaseScanning || s.attempt != gen || s.blocked != domain.ErrorCodeNone {
		s.mu.Unlock()
		g.metrics.Tick(ports.TickOutcomeDiscarded)
		g.sessionLog(s).Debug().Str("outcome", string(outcome)).Msg("discarding late round-trip result")
		return
	}

	switch outcome {
	case ports.TickOutcomeFace:
		s.failures = 0
		s.phase = domain.PhaseDetected
		s.reason = domain.PhaseReasonFaceDetected
		if s.tickTimer != nil {
			s.tickTimer.Stop()
			s.tickTimer = nil
		}
		s.mu.Unlock()

		g.metrics.Tick(outcome)
		g.sessionLog(s).Info().Int("faces", len(faces)).Msg("face detected, confirming")
		g.publish(s, domain.PhaseDetected, func() {
			g.events.FacesDetected(s.id, len(faces))
		})
		g.publish(s, domain.PhaseDetected, func() {
			g.events.PhaseChanged(s.id, domain.PhaseDetected, domain.PhaseReasonFaceDetected)
		})
		g.armConfirm(s)
		return

	case ports.TickOutcomeNoFace:
		s.failures = 0
		s.mu.Unlock()
		g.metrics.Tick(outcome)
		g.publish(s, domain.PhaseScanning, func() {
			g.events.FacesDetected(s.id, 0)
		})
		return
	}

	code := domain.ErrorCodeCapture
	if outcome == ports.TickOutcomeDetectError {
		code = domain.ErrorCodeDetect
	}
	switch {
	case errors.Is(err, ports.ErrPermissionDenied):
		code = domain.ErrorCodePermissionDenied
	case errors.Is(err, ports.ErrDeviceUnavailable):
		code = domain.ErrorCodeDeviceUnavailable
	case errors.Is(err, ports.ErrDetectorRejected):
		code = domain.ErrorCodeDetectorRejected
	default:
		s.failures++
		if limit := g.cfg.MaxConsecutiveFailures; limit > 0 && s.failures >= limit {
			err = fmt.Errorf("%d consecutive failures: %w", s.failures, err)
			code = domain.ErrorCodeCaptureFailing
		}
	}

	if code.Blocking() {
		s.blocked = code
		if s.tickTimer != nil {
			s.tickTimer.Stop()
			s.tickTimer = nil
		}
		s.mu.Unlock()
		g.metrics.Tick(outcome)
		g.reportBlocked(s, domain.PhaseScanning, code, err)
		return
	}
	failures := s.failures
	s.mu.Unlock()

	g.metrics.Tick(outcome)
	g.sessionLog(s).Warn().Err(err).Int("consecutive_failures", failures).Msg("scan round-trip failed, retrying next tick")
	g.publish(s, domain.PhaseScanning, func() {
		g.events.SessionError(code, err.Error())
	})
}
