package usecase

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"facegate/internal/clock"
	"facegate/internal/domain"
)

// Callbacks are invoked at most once per session, never both.
type Callbacks struct {
	OnSuccess func()
	OnCancel  func()
}

// Session is one presence-confirmation attempt.
type Session struct {
	id        string
	callbacks Callbacks

	ctx        context.Context
	cancel     context.CancelFunc
	stopParent func() bool
	done       chan struct{}

	// emitMu orders event delivery. It is never taken while mu is held.
	emitMu sync.Mutex

	mu           sync.Mutex
	phase        domain.Phase
	reason       domain.PhaseReason
	capturing    bool
	blocked      domain.ErrorCode
	failures     int
	attempt      int
	tickTimer    clock.Timer
	confirmTimer clock.Timer
}

func newSession(parent context.Context, callbacks Callbacks) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:         uuid.NewString(),
		callbacks:  callbacks,
		ctx:        ctx,
		cancel:     cancel,
		stopParent: func() bool { return false },
		done:       make(chan struct{}),
		phase:      domain.PhaseIdle,
		reason:     domain.PhaseReasonGateCold,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current phase.
func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Capturing reports whether a capture/detect round-trip is in flight.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// Blocked returns the condition that stopped polling, if any.
func (s *Session) Blocked() domain.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

// Done is closed once the session completes or is cancelled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Status{
		SessionID: s.id,
		Phase:     s.phase,
		Active:    !s.phase.Terminal() && s.phase != domain.PhaseIdle,
		Capturing: s.capturing,
		Blocked:   s.blocked,
	}
}

// stopTimersLocked must be called with s.mu held.
func (s *Session) stopTimersLocked() {
	if s.tickTimer != nil {
		s.tickTimer.Stop()
		s.tickTimer = nil
	}
	if s.confirmTimer != nil {
		s.confirmTimer.Stop()
		s.confirmTimer = nil
	}
}
