// Package jobs holds the asynchronous maintenance work: audit retention
// purges and the security IP scan. Tasks run on Asynq with a cron scheduler.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPurge removes audit events past the retention window.
	TaskAuditPurge = "audit:purge"
	// TaskIPScan looks for source addresses with abnormal denial rates.
	TaskIPScan = "security:ip_scan"
)

// AuditPurgePayload parameterises a retention purge.
type AuditPurgePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPurgeTask constructs an audit purge task.
func NewAuditPurgeTask(payload AuditPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPurge, data), nil
}

// IPScanPayload parameterises the security IP scan.
type IPScanPayload struct {
	WindowHours int `json:"window_hours"`
	Threshold   int `json:"threshold"`
}

// NewIPScanTask constructs an IP scan task.
func NewIPScanTask(payload IPScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIPScan, data), nil
}
