// internal/models/job.go
package models

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusClaimed    JobStatus = "claimed"
	JobStatusDispatched JobStatus = "dispatched"
	JobStatusSkipped    JobStatus = "skipped"
	JobStatusFailed     JobStatus = "failed"
)

// ScheduledJob binds one plan step to an absolute trigger time. The job ID
// is derived from (lead, template, trigger time) so re-scheduling the same
// plan overwrites instead of duplicating.
type ScheduledJob struct {
	ID           string    `json:"id" db:"id"`
	LeadID       string    `json:"leadId" db:"lead_id"`
	PlanID       string    `json:"planId" db:"plan_id"`
	StepIndex    int       `json:"stepIndex" db:"step_index"`
	TemplateName string    `json:"templateName" db:"template_name"`
	Channel      Channel   `json:"channel" db:"channel"`
	RunAt        time.Time `json:"runAt" db:"run_at"`
	Status       JobStatus `json:"status" db:"status"`
	StatusReason string    `json:"statusReason,omitempty" db:"status_reason"`
	ExecutedAt   *time.Time `json:"executedAt,omitempty" db:"executed_at"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// JobID builds the deterministic identifier for a lead/template/trigger
// combination.
func JobID(leadID, templateName string, runAt time.Time) string {
	return fmt.Sprintf("%s_%s_%d", leadID, templateName, runAt.Unix())
}
