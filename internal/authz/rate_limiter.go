package authz

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/souqline/souqline/internal/audit"
	"github.com/souqline/souqline/internal/observability"
)

const (
	// failureWindow is the rolling window over which denied attempts per
	// principal are counted.
	failureWindow = time.Minute
	// failureThreshold is the count at which a principal is flagged.
	failureThreshold = 10
	// trackerIdleTTL is how long a tracker may sit untouched before the
	// sweeper reclaims it.
	trackerIdleTTL = 5 * time.Minute

	sweepInterval = time.Minute
)

type failureState struct {
	count   int
	firstAt time.Time
	lastAt  time.Time
}

// FailureMeta carries request context for the anomaly event emitted when a
// principal crosses the failure threshold.
type FailureMeta struct {
	IP        string
	UserAgent string
	Path      string
	Method    string
}

// FailureTracker counts denied authorization attempts per principal inside a
// rolling window. Crossing the threshold emits a single suspicious-activity
// audit event and resets the principal's state, so a sustained attack is
// flagged once per threshold's worth of failures rather than once per request.
type FailureTracker struct {
	sink    AuditSink
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	failures map[int64]*failureState

	now func() time.Time
}

// NewFailureTracker constructs a tracker.
func NewFailureTracker(sink AuditSink, logger *slog.Logger, metrics *observability.Metrics) *FailureTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailureTracker{
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
		failures: make(map[int64]*failureState),
		now:      time.Now,
	}
}

// RecordFailure registers one denied attempt for the principal. It reports
// whether this attempt crossed the anomaly threshold.
func (t *FailureTracker) RecordFailure(principalID int64, meta FailureMeta) bool {
	now := t.now()

	t.mu.Lock()
	state, ok := t.failures[principalID]
	switch {
	case !ok:
		state = &failureState{count: 1, firstAt: now}
		t.failures[principalID] = state
	case now.Sub(state.firstAt) > failureWindow:
		// Window elapsed: this attempt starts a fresh one.
		state.count = 1
		state.firstAt = now
	default:
		state.count++
	}
	state.lastAt = now
	flagged := state.count >= failureThreshold
	if flagged {
		delete(t.failures, principalID)
	}
	t.mu.Unlock()

	if !flagged {
		return false
	}

	t.metrics.ObserveAnomaly()
	t.logger.Warn("authorization anomaly flagged",
		slog.Int64("user_id", principalID),
		slog.Int("failed_attempts", failureThreshold),
	)
	t.sink.Record(audit.Event{
		UserID:    &principalID,
		Action:    audit.ActionSuspiciousActivity,
		Severity:  audit.SeverityCritical,
		Success:   false,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Path:      meta.Path,
		Method:    meta.Method,
		Metadata: map[string]any{
			"failed_attempts": failureThreshold,
			"window_seconds":  int(failureWindow.Seconds()),
		},
	})
	return true
}

// Pending reports the principal's current failure count, for inspection.
func (t *FailureTracker) Pending(principalID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.failures[principalID]; ok {
		return state.count
	}
	return 0
}

// StartSweep reclaims idle trackers until ctx is cancelled.
func (t *FailureTracker) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *FailureTracker) sweep() {
	cutoff := t.now().Add(-trackerIdleTTL)
	t.mu.Lock()
	for id, state := range t.failures {
		if state.lastAt.Before(cutoff) {
			delete(t.failures, id)
		}
	}
	t.mu.Unlock()
}
