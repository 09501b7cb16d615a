package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/souqline/souqline/internal/jobs"
)

type fakePurger struct {
	cutoff  time.Time
	removed int64
	err     error
}

func (p *fakePurger) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.removed, p.err
}

func purgeTask(t *testing.T, payload AuditPurgePayload) *asynq.Task {
	t.Helper()
	task, err := NewAuditPurgeTask(payload)
	require.NoError(t, err)
	return task
}

func TestAuditPurgeUsesPayloadRetention(t *testing.T) {
	purger := &fakePurger{removed: 12}
	job := NewAuditPurgeJob(purger, nil, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	err := job.Handle(context.Background(), purgeTask(t, AuditPurgePayload{RetentionDays: 30}))
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -30), purger.cutoff)
}

func TestAuditPurgeDefaultsRetention(t *testing.T) {
	purger := &fakePurger{}
	job := NewAuditPurgeJob(purger, nil, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	err := job.Handle(context.Background(), purgeTask(t, AuditPurgePayload{}))
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -defaultRetentionDays), purger.cutoff)
}

func TestAuditPurgePropagatesErrors(t *testing.T) {
	purger := &fakePurger{err: errors.New("db down")}
	job := NewAuditPurgeJob(purger, nil, nil)

	err := job.Handle(context.Background(), purgeTask(t, AuditPurgePayload{RetentionDays: 7}))
	assert.Error(t, err)
}

func TestAuditPurgeOutcomeReachesJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	purger := &fakePurger{err: errors.New("db down")}
	job := NewAuditPurgeJob(purger, nil, metrics)

	err := job.Handle(context.Background(), purgeTask(t, AuditPurgePayload{RetentionDays: 7}))
	require.Error(t, err)

	purger.err = nil
	purger.removed = 3
	require.NoError(t, job.Handle(context.Background(), purgeTask(t, AuditPurgePayload{RetentionDays: 7})))

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `souqline_jobs_failures_total{job="audit:purge"} 1`)
	assert.Contains(t, body, `souqline_jobs_total{job="audit:purge",status="failure"} 1`)
	assert.Contains(t, body, `souqline_jobs_total{job="audit:purge",status="success"} 1`)
	assert.Contains(t, body, `souqline_audit_events_purged_total 3`)
}

func TestAuditPurgeRejectsMalformedPayload(t *testing.T) {
	job := NewAuditPurgeJob(&fakePurger{}, nil, nil)
	task := asynq.NewTask(TaskAuditPurge, []byte("{not json"))

	err := job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskPayloadsRoundTrip(t *testing.T) {
	task, err := NewIPScanTask(IPScanPayload{WindowHours: 6, Threshold: 25})
	require.NoError(t, err)
	var payload IPScanPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, 6, payload.WindowHours)
	assert.Equal(t, 25, payload.Threshold)
}
