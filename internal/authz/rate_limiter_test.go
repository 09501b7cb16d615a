package authz

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souqline/souqline/internal/audit"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Record(event audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *captureSink) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func testMeta() FailureMeta {
	return FailureMeta{IP: "203.0.113.7", UserAgent: "curl/8.0", Path: "/api/v1/roles", Method: "DELETE"}
}

func TestFailureTrackerBelowThresholdStaysQuiet(t *testing.T) {
	sink := &captureSink{}
	tracker := NewFailureTracker(sink, nil, nil)

	for i := 0; i < failureThreshold-1; i++ {
		assert.False(t, tracker.RecordFailure(42, testMeta()))
	}
	assert.Empty(t, sink.all())
	assert.Equal(t, failureThreshold-1, tracker.Pending(42))
}

func TestFailureTrackerThresholdEmitsAnomalyAndResets(t *testing.T) {
	sink := &captureSink{}
	tracker := NewFailureTracker(sink, nil, nil)

	for i := 0; i < failureThreshold-1; i++ {
		tracker.RecordFailure(42, testMeta())
	}
	assert.True(t, tracker.RecordFailure(42, testMeta()))

	events := sink.all()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, audit.ActionSuspiciousActivity, event.Action)
	assert.Equal(t, audit.SeverityCritical, event.Severity)
	assert.False(t, event.Success)
	require.NotNil(t, event.UserID)
	assert.Equal(t, int64(42), *event.UserID)
	assert.Equal(t, "203.0.113.7", event.IP)
	assert.Equal(t, failureThreshold, event.Metadata["failed_attempts"])

	// The tracker state was dropped, so the count restarts at zero.
	assert.Equal(t, 0, tracker.Pending(42))
	assert.False(t, tracker.RecordFailure(42, testMeta()))
	assert.Equal(t, 1, tracker.Pending(42))
}

func TestFailureTrackerWindowResets(t *testing.T) {
	sink := &captureSink{}
	tracker := NewFailureTracker(sink, nil, nil)
	now := time.Now()
	tracker.now = func() time.Time { return now }

	for i := 0; i < failureThreshold-1; i++ {
		tracker.RecordFailure(42, testMeta())
	}

	// The window elapses before the next failure, so the count starts over.
	now = now.Add(failureWindow + time.Second)
	assert.False(t, tracker.RecordFailure(42, testMeta()))
	assert.Equal(t, 1, tracker.Pending(42))
	assert.Empty(t, sink.all())
}

func TestFailureTrackerPrincipalsAreIndependent(t *testing.T) {
	sink := &captureSink{}
	tracker := NewFailureTracker(sink, nil, nil)

	for i := 0; i < failureThreshold-1; i++ {
		tracker.RecordFailure(1, testMeta())
		tracker.RecordFailure(2, testMeta())
	}
	assert.Empty(t, sink.all())
	assert.True(t, tracker.RecordFailure(1, testMeta()))
	assert.Equal(t, failureThreshold-1, tracker.Pending(2))
}

func TestFailureTrackerSweepReclaimsIdleEntries(t *testing.T) {
	sink := &captureSink{}
	tracker := NewFailureTracker(sink, nil, nil)
	now := time.Now()
	tracker.now = func() time.Time { return now }

	tracker.RecordFailure(1, testMeta())
	now = now.Add(trackerIdleTTL - time.Second)
	tracker.RecordFailure(2, testMeta())

	now = now.Add(2 * time.Second)
	tracker.sweep()
	assert.Equal(t, 0, tracker.Pending(1))
	assert.Equal(t, 1, tracker.Pending(2))
}
