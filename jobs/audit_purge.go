package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/souqline/souqline/internal/jobs"
)

const defaultRetentionDays = 90

// Purger deletes audit events older than the cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPurgeJob enforces the audit retention window.
type AuditPurgeJob struct {
	purger  Purger
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditPurgeJob initialises the purge handler.
func NewAuditPurgeJob(purger Purger, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditPurgeJob{
		purger:  purger,
		logger:  logger,
		metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes one retention purge. The error return is named so the
// deferred tracker observes the final outcome.
func (j *AuditPurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.purger == nil {
		return errors.New("audit purge: handler not configured")
	}
	var payload AuditPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = defaultRetentionDays
	}

	tracker := j.metrics.Track(TaskAuditPurge)
	defer func() {
		err = tracker.End(err)
	}()

	cutoff := j.clock().AddDate(0, 0, -payload.RetentionDays)
	removed, err := j.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("audit purge failed", slog.Any("error", err))
		return err
	}
	j.metrics.AddPurged(removed)
	j.logger.Info("audit purge complete",
		slog.Int("retention_days", payload.RetentionDays),
		slog.Int64("removed", removed),
	)
	return nil
}
