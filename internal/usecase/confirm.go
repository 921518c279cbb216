package usecase

import "facegate/internal/domain"

// confirm completes a detected session once the settle delay has elapsed.
func (g *PresenceGate) confirm(s *Session) {
	s.mu.Lock()
	if s.phase != domain.PhaseDetected {
		s.mu.Unlock()
		return
	}
	s.phase = domain.PhaseCompleted
	s.reason = domain.PhaseReasonConfirmed
	s.confirmTimer = nil
	s.mu.Unlock()

	g.finish(s, domain.PhaseCompleted, domain.PhaseReasonConfirmed, s.callbacks.OnSuccess)
}

// armConfirm starts the settle delay unless the session left detected meanwhile.
func (g *PresenceGate) armConfirm(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != domain.PhaseDetected {
		return
	}
	s.confirmTimer = g.clock.AfterFunc(g.cfg.ConfirmDelay, func() {
		g.confirm(s)
	})
}
