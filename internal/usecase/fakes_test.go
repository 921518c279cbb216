package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"facegate/internal/clock"
	"facegate/internal/domain"
	"facegate/internal/ports"
)

var testStart = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

type fakeFrames struct {
	mu          sync.Mutex
	authErr     error
	availErr    error
	captureErrs []error
	captures    int

	// authHold, when set, parks Authorize until closed. authEntered is
	// signalled once Authorize is parked.
	authHold    chan struct{}
	authEntered chan struct{}
}

func (f *fakeFrames) Authorize(_ context.Context) error {
	f.mu.Lock()
	hold, entered, err := f.authHold, f.authEntered, f.authErr
	f.mu.Unlock()

	if hold != nil {
		entered <- struct{}{}
		<-hold
	}
	return err
}

func (f *fakeFrames) Available(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.availErr
}

func (f *fakeFrames) Capture(_ context.Context) (domain.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
	if len(f.captureErrs) > 0 {
		err := f.captureErrs[0]
		f.captureErrs = f.captureErrs[1:]
		if err != nil {
			return domain.Frame{}, err
		}
	}
	return domain.Frame{ID: "frame", Format: "jpeg", Data: []byte{0xff, 0xd8}}, nil
}

func (f *fakeFrames) setAuthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authErr = err
}

func (f *fakeFrames) Captures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

// detectStep scripts one Detect call. A non-nil release blocks the call until closed.
type detectStep struct {
	faces   int
	err     error
	panic   bool
	release chan struct{}
}

type scriptedDetector struct {
	mu    sync.Mutex
	steps []detectStep
	calls int
}

func newScriptedDetector(steps ...detectStep) *scriptedDetector {
	return &scriptedDetector{steps: steps}
}

func faces(counts ...int) []detectStep {
	steps := make([]detectStep, 0, len(counts))
	for _, n := range counts {
		steps = append(steps, detectStep{faces: n})
	}
	return steps
}

func (d *scriptedDetector) Detect(_ context.Context, _ domain.Frame) ([]domain.FaceRegion, error) {
	d.mu.Lock()
	d.calls++
	step := detectStep{}
	if len(d.steps) > 0 {
		step = d.steps[0]
		d.steps = d.steps[1:]
	}
	d.mu.Unlock()

	if step.release != nil {
		<-step.release
	}
	if step.panic {
		panic("detector exploded")
	}
	if step.err != nil {
		return nil, step.err
	}
	regions := make([]domain.FaceRegion, step.faces)
	for i := range regions {
		regions[i] = domain.FaceRegion{X: 10 * i, Y: 10, Width: 120, Height: 120, Confidence: 0.9}
	}
	return regions, nil
}

func (d *scriptedDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type dropAllFilter struct{}

func (dropAllFilter) Apply(_ []domain.FaceRegion) []domain.FaceRegion { return nil }

type fakeEventSink struct {
	mu sync.Mutex

	phases []phaseEvent
	counts []int
	errors []errEvent

	// facesHold, when set, parks the first FacesDetected call reporting a face.
	facesHold    chan struct{}
	facesEntered chan struct{}
}

type phaseEvent struct {
	sessionID string
	phase     domain.Phase
	reason    domain.PhaseReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) PhaseChanged(sessionID string, phase domain.Phase, reason domain.PhaseReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phaseEvent{sessionID: sessionID, phase: phase, reason: reason})
}

func (f *fakeEventSink) FacesDetected(_ string, count int) {
	f.mu.Lock()
	f.counts = append(f.counts, count)
	hold := f.facesHold
	if count > 0 {
		f.facesHold = nil
	}
	f.mu.Unlock()

	if count > 0 && hold != nil {
		f.facesEntered <- struct{}{}
		<-hold
	}
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotPhases() []phaseEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]phaseEvent, len(f.phases))
	copy(out, f.phases)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

type fakeMetrics struct {
	mu       sync.Mutex
	ticks    map[ports.TickOutcome]int
	finished []domain.PhaseReason
	blocked  []domain.ErrorCode
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{ticks: map[ports.TickOutcome]int{}}
}

func (m *fakeMetrics) Tick(outcome ports.TickOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[outcome]++
}

func (m *fakeMetrics) RoundTrip(time.Duration) {}

func (m *fakeMetrics) SessionFinished(result domain.PhaseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, result)
}

func (m *fakeMetrics) Blocked(code domain.ErrorCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, code)
}

func (m *fakeMetrics) blockedCodes() []domain.ErrorCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ErrorCode, len(m.blocked))
	copy(out, m.blocked)
	return out
}

func (m *fakeMetrics) TickCount(outcome ports.TickOutcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks[outcome]
}

type callbackCounter struct {
	success atomic.Int32
	cancel  atomic.Int32

	mu        sync.Mutex
	successAt time.Time
}

func (c *callbackCounter) callbacks(clk clock.Clock) Callbacks {
	return Callbacks{
		OnSuccess: func() {
			c.success.Add(1)
			c.mu.Lock()
			c.successAt = clk.Now()
			c.mu.Unlock()
		},
		OnCancel: func() { c.cancel.Add(1) },
	}
}

func (c *callbackCounter) SuccessAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successAt
}

type harness struct {
	clock    *clock.Fake
	frames   *fakeFrames
	detector *scriptedDetector
	events   *fakeEventSink
	metrics  *fakeMetrics
	gate     *PresenceGate
}

func newHarness(t *testing.T, cfg Config, steps []detectStep, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewFake(testStart),
		frames:   &fakeFrames{},
		detector: newScriptedDetector(steps...),
		events:   &fakeEventSink{},
		metrics:  newFakeMetrics(),
	}
	opts = append([]Option{
		WithClock(h.clock),
		WithMetrics(h.metrics),
		WithLogger(zerolog.New(io.Discard)),
	}, opts...)
	h.gate = NewPresenceGate(h.frames, h.detector, h.events, cfg, opts...)
	return h
}

// waitSettled blocks until n detect calls have been made and no round-trip is in flight.
func (h *harness) waitSettled(t *testing.T, s *Session, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.detector.Calls() == n && !s.Capturing()
	}, 2*time.Second, time.Millisecond, "expected %d settled round-trips", n)
}

// waitDetected blocks until the session is detected and only the confirm timer is pending.
func (h *harness) waitDetected(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Phase() == domain.PhaseDetected && h.clock.Pending() == 1
	}, 2*time.Second, time.Millisecond, "expected armed confirmation")
}

func waitPhase(t *testing.T, s *Session, phase domain.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Phase() == phase
	}, 2*time.Second, time.Millisecond, "expected phase %s", phase)
}

func waitBlocked(t *testing.T, s *Session, code domain.ErrorCode) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Blocked() == code
	}, 2*time.Second, time.Millisecond, "expected blocked %s", code)
}

var errTransient = errors.New("transient")
