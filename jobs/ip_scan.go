package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/souqline/souqline/internal/audit"
	jobmetrics "github.com/souqline/souqline/internal/jobs"
)

const (
	defaultScanWindowHours = 24
	defaultScanThreshold   = 50
)

// IPScanJob aggregates denied requests per source address and files a
// suspicious-activity record for addresses above the threshold. It catches
// slow scans that stay under the per-principal rate limiter, and anonymous
// probing that has no principal at all.
type IPScanJob struct {
	pool     *pgxpool.Pool
	recorder audit.Recorder
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewIPScanJob initialises the scan handler.
func NewIPScanJob(pool *pgxpool.Pool, recorder audit.Recorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *IPScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IPScanJob{
		pool:     pool,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

type ipFinding struct {
	IP       string
	Failures int64
}

// Handle executes one scan. The error return is named so the deferred
// tracker observes the final outcome.
func (j *IPScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.pool == nil {
		return errors.New("ip scan: handler not configured")
	}
	var payload IPScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = defaultScanWindowHours
	}
	if payload.Threshold <= 0 {
		payload.Threshold = defaultScanThreshold
	}

	tracker := j.metrics.Track(TaskIPScan)
	defer func() {
		err = tracker.End(err)
	}()

	findings, err := j.scan(ctx, payload)
	if err != nil {
		j.logger.Error("ip scan failed", slog.Any("error", err))
		return err
	}

	now := j.clock()
	for _, finding := range findings {
		severity := audit.SeverityWarning
		if finding.Failures >= int64(3*payload.Threshold) {
			severity = audit.SeverityCritical
		}
		j.logger.Warn("suspicious source address",
			slog.String("ip", finding.IP),
			slog.Int64("failures", finding.Failures),
			slog.String("severity", severity),
		)
		j.metrics.AddAnomalies(severity, 1)
		if err := j.recorder.Insert(ctx, &audit.Event{
			Action:   audit.ActionSuspiciousActivity,
			Severity: severity,
			Success:  false,
			IP:       finding.IP,
			Metadata: map[string]any{
				"failures":     finding.Failures,
				"window_hours": payload.WindowHours,
				"source":       "ip_scan",
			},
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("ip scan: record finding: %w", err)
		}
	}

	j.logger.Info("ip scan complete",
		slog.Int("window_hours", payload.WindowHours),
		slog.Int("threshold", payload.Threshold),
		slog.Int("findings", len(findings)),
	)
	return nil
}

func (j *IPScanJob) scan(ctx context.Context, payload IPScanPayload) ([]ipFinding, error) {
	since := j.clock().Add(-time.Duration(payload.WindowHours) * time.Hour)
	rows, err := j.pool.Query(ctx, `
		SELECT ip, COUNT(*) AS failures
		FROM security_audit_events
		WHERE success = FALSE
		  AND ip <> ''
		  AND action <> $1
		  AND created_at >= $2
		GROUP BY ip
		HAVING COUNT(*) >= $3
		ORDER BY failures DESC
		LIMIT 100`,
		audit.ActionSuspiciousActivity, since, payload.Threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []ipFinding
	for rows.Next() {
		var finding ipFinding
		if err := rows.Scan(&finding.IP, &finding.Failures); err != nil {
			return nil, err
		}
		findings = append(findings, finding)
	}
	return findings, rows.Err()
}
