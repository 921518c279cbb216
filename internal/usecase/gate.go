package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"facegate/internal/clock"
	"facegate/internal/domain"
	applog "facegate/internal/log"
	"facegate/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active gate session")
	ErrSessionActive   = errors.New("a gate session is already active")
	ErrNotBlocked      = errors.New("gate session is not blocked")
	ErrSessionFinished = errors.New("gate session already finished")
)

const (
	DefaultPollInterval = time.Second
	DefaultConfirmDelay = 800 * time.Millisecond
)

// Config controls scan cadence and confirmation behavior.
type Config struct {
	PollInterval time.Duration
	ConfirmDelay time.Duration
	// MaxConsecutiveFailures blocks the session after this many transient
	// capture/detect failures in a row. Zero retries forever.
	MaxConsecutiveFailures int
}

// Option customizes a PresenceGate.
type Option func(*PresenceGate)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(g *PresenceGate) { g.clock = c }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *PresenceGate) { g.log = l }
}

// WithMetrics records tick and session activity.
func WithMetrics(m ports.Metrics) Option {
	return func(g *PresenceGate) { g.metrics = m }
}

// WithRegionFilter drops detected regions before presence is decided.
func WithRegionFilter(f ports.RegionFilter) Option {
	return func(g *PresenceGate) { g.filter = f }
}

// PresenceGate drives the capture/detect/confirm loop for one session at a time.
type PresenceGate struct {
	frames   ports.FrameSource
	detector ports.FaceDetector
	filter   ports.RegionFilter
	events   ports.EventSink
	metrics  ports.Metrics
	clock    clock.Clock
	log      zerolog.Logger
	cfg      Config

	mu      sync.Mutex
	current *Session
}

func NewPresenceGate(
	frames ports.FrameSource,
	detector ports.FaceDetector,
	events ports.EventSink,
	cfg Config,
	opts ...Option,
) *PresenceGate {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = DefaultConfirmDelay
	}
	if cfg.MaxConsecutiveFailures < 0 {
		cfg.MaxConsecutiveFailures = 0
	}
	g := &PresenceGate{
		frames:   frames,
		detector: detector,
		events:   events,
		metrics:  noopMetrics{},
		clock:    clock.Real{},
		log:      applog.WithComponent("gate"),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Activate starts a new session. Cancelling ctx cancels the session.
func (g *PresenceGate) Activate(ctx context.Context, callbacks Callbacks) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.current != nil && !g.current.Phase().Terminal() {
		g.mu.Unlock()
		return nil, ErrSessionActive
	}

	s := newSession(ctx, callbacks)
	s.phase = domain.PhaseAwaitingPermission
	s.reason = domain.PhaseReasonActivated
	gen := s.attempt

	// The parent hook must be in place before the session is reachable
	// through CancelCurrent, otherwise finish would release a placeholder.
	stop := context.AfterFunc(ctx, func() {
		_ = g.Cancel(s)
	})
	s.mu.Lock()
	s.stopParent = stop
	s.mu.Unlock()

	g.current = s
	g.mu.Unlock()

	g.sessionLog(s).Debug().Msg("gate activated")
	g.publish(s, domain.PhaseAwaitingPermission, func() {
		g.events.PhaseChanged(s.id, domain.PhaseAwaitingPermission, domain.PhaseReasonActivated)
	})

	go g.prepare(s, gen)
	return s, nil
}

// Cancel moves a non-terminal session to cancelled and fires OnCancel once.
// It is a no-op for finished sessions.
func (g *PresenceGate) Cancel(s *Session) error {
	if s == nil {
		return ErrNoActiveSession
	}
	g.terminate(s, domain.PhaseReasonUserCancelled, s.callbacks.OnCancel)
	return nil
}

// CancelCurrent cancels the live session.
func (g *PresenceGate) CancelCurrent() error {
	s := g.Current()
	if s == nil || s.Phase().Terminal() {
		return ErrNoActiveSession
	}
	return g.Cancel(s)
}

// Dismiss tears down the live session without invoking either callback.
func (g *PresenceGate) Dismiss() {
	s := g.Current()
	if s == nil {
		return
	}
	g.terminate(s, domain.PhaseReasonDismissed, nil)
}

// Retry re-runs authorization for a blocked session.
func (g *PresenceGate) Retry(s *Session) error {
	if s == nil {
		return ErrNoActiveSession
	}

	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	if s.blocked == domain.ErrorCodeNone {
		s.mu.Unlock()
		return ErrNotBlocked
	}
	s.stopTimersLocked()
	s.blocked = domain.ErrorCodeNone
	s.failures = 0
	s.attempt++
	gen := s.attempt
	s.phase = domain.PhaseAwaitingPermission
	s.reason = domain.PhaseReasonRetrying
	s.mu.Unlock()

	g.sessionLog(s).Info().Msg("retrying blocked gate session")
	g.publish(s, domain.PhaseAwaitingPermission, func() {
		g.events.PhaseChanged(s.id, domain.PhaseAwaitingPermission, domain.PhaseReasonRetrying)
	})

	go g.prepare(s, gen)
	return nil
}

// RetryCurrent retries the live session.
func (g *PresenceGate) RetryCurrent() error {
	return g.Retry(g.Current())
}

// Current returns the live or most recent session, or nil.
func (g *PresenceGate) Current() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Status returns the current gate status.
func (g *PresenceGate) Status() domain.Status {
	s := g.Current()
	if s == nil {
		return domain.Status{Phase: domain.PhaseIdle}
	}
	return s.status()
}

func (g *PresenceGate) prepare(s *Session, gen int) {
	err := guard(func() error {
		if err := g.frames.Authorize(s.ctx); err != nil {
			return err
		}
		return g.frames.Available(s.ctx)
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		code := domain.ErrorCodeDeviceUnavailable
		if errors.Is(err, ports.ErrPermissionDenied) {
			code = domain.ErrorCodePermissionDenied
		}
		s.mu.Lock()
		if s.phase != domain.PhaseAwaitingPermission || s.attempt != gen {
			s.mu.Unlock()
			return
		}
		s.blocked = code
		s.mu.Unlock()
		g.reportBlocked(s, domain.PhaseAwaitingPermission, code, err)
		return
	}

	s.mu.Lock()
	if s.phase != domain.PhaseAwaitingPermission || s.attempt != gen {
		s.mu.Unlock()
		return
	}
	s.phase = domain.PhaseScanning
	s.reason = domain.PhaseReasonPermissionGranted
	s.mu.Unlock()

	g.sessionLog(s).Debug().Msg("camera authorized, scanning")
	g.publish(s, domain.PhaseScanning, func() {
		g.events.PhaseChanged(s.id, domain.PhaseScanning, domain.PhaseReasonPermissionGranted)
	})

	g.tick(s, gen)
}

// terminate moves s to cancelled. It reports false if s was already terminal.
func (g *PresenceGate) terminate(s *Session, reason domain.PhaseReason, callback func()) bool {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.phase = domain.PhaseCancelled
	s.reason = reason
	s.stopTimersLocked()
	s.mu.Unlock()

	g.finish(s, domain.PhaseCancelled, reason, callback)
	return true
}

// finish releases session resources, fires the callback and closes Done.
// Callers must have moved s to a terminal phase under s.mu exactly once.
func (g *PresenceGate) finish(s *Session, phase domain.Phase, reason domain.PhaseReason, callback func()) {
	s.mu.Lock()
	stop := s.stopParent
	s.mu.Unlock()

	s.cancel()
	stop()
	g.metrics.SessionFinished(reason)
	g.sessionLog(s).Info().Str("reason", string(reason)).Msg("gate session finished")
	g.publish(s, phase, func() {
		g.events.PhaseChanged(s.id, phase, reason)
	})

	if callback != nil {
		callback()
	}
	close(s.done)
}

func (g *PresenceGate) reportBlocked(s *Session, phase domain.Phase, code domain.ErrorCode, err error) {
	g.metrics.Blocked(code)
	g.sessionLog(s).Error().Err(err).Str("code", string(code)).Msg("gate session blocked")
	g.publish(s, phase, func() {
		g.events.SessionError(code, err.Error())
	})
}

// publish delivers session events one at a time. An event is dropped when
// the session has left phase by the time its turn comes, so a stale
// transition never lands after a terminal one.
func (g *PresenceGate) publish(s *Session, phase domain.Phase, emit func()) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.Phase() != phase {
		return
	}
	emit()
}

func (g *PresenceGate) sessionLog(s *Session) *zerolog.Logger {
	l := g.log.With().Str("session_id", s.id).Logger()
	return &l
}

// guard converts a panicking collaborator into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collaborator panic: %v", r)
		}
	}()
	return fn()
}

type noopMetrics struct{}

func (noopMetrics) Tick(ports.TickOutcome)             {}
func (noopMetrics) RoundTrip(time.Duration)            {}
func (noopMetrics) SessionFinished(domain.PhaseReason) {}
func (noopMetrics) Blocked(domain.ErrorCode)           {}
