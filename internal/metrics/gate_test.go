package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facegate/internal/domain"
	"facegate/internal/ports"
)

func TestRecorderTicks(t *testing.T) {
	t.Parallel()

	r := NewRecorder(prometheus.NewRegistry())
	r.Tick(ports.TickOutcomeNoFace)
	r.Tick(ports.TickOutcomeNoFace)
	r.Tick(ports.TickOutcomeSkipped)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ticks.WithLabelValues("no_face")))
	assert.Equal(t, 1.0, r.TickTotal(ports.TickOutcomeSkipped))
	assert.Equal(t, 0.0, r.TickTotal(ports.TickOutcomeFace))
}

func TestRecorderSessionResults(t *testing.T) {
	t.Parallel()

	r := NewRecorder(prometheus.NewRegistry())
	r.SessionFinished(domain.PhaseReasonConfirmed)
	r.SessionFinished(domain.PhaseReasonUserCancelled)
	r.SessionFinished(domain.PhaseReasonDismissed)
	r.SessionFinished(domain.PhaseReasonConfirmed)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.sessions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions.WithLabelValues("dismissed")))
}

func TestRecorderBlockedAndRoundTrip(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.Blocked(domain.ErrorCodePermissionDenied)
	r.RoundTrip(120 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.blocked.WithLabelValues("permission_denied")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.roundTrip))

	expected := `
# HELP facegate_blocked_total Total number of sessions that stopped scanning, by error code.
# TYPE facegate_blocked_total counter
facegate_blocked_total{code="permission_denied"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "facegate_blocked_total"))
}

func TestNewRecorderRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) })
}

func TestSessionResultUnknown(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", sessionResult(domain.PhaseReasonFaceDetected))
}
