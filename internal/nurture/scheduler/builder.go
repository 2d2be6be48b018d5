// internal/nurture/scheduler/builder.go
package scheduler

import (
	"context"
	"time"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/common/metrics"
	"nurture-engine/internal/models"
)

// JobWriter is the slice of the job store the scheduler writes through.
type JobWriter interface {
	Upsert(ctx context.Context, job *models.ScheduledJob) error
	Cancel(ctx context.Context, id string) error
}

// BuildJobs converts plan steps into absolute-time jobs. Each trigger time
// is the previous one plus that step's day offset; the seed is the lead's
// last-contact time, or now when the lead was never contacted. Job IDs are
// deterministic, so building the same plan twice yields the same IDs.
func BuildJobs(plan *models.NurturePlan, lead *models.Lead, now time.Time) []*models.ScheduledJob {
	seed := lead.LastContactAt
	if seed.IsZero() {
		seed = now
	}

	jobs := make([]*models.ScheduledJob, 0, len(plan.Steps))
	trigger := seed
	for i, step := range plan.Steps {
		trigger = trigger.Add(time.Duration(step.DaysAfterPrevious) * 24 * time.Hour)
		jobs = append(jobs, &models.ScheduledJob{
			ID:           models.JobID(lead.ID, step.TemplateName, trigger),
			LeadID:       lead.ID,
			PlanID:       plan.ID,
			StepIndex:    i,
			TemplateName: step.TemplateName,
			Channel:      step.Channel,
			RunAt:        trigger.UTC(),
			Status:       models.JobStatusPending,
		})
	}
	return jobs
}

// Scheduler persists plan steps as scheduled jobs.
type Scheduler struct {
	jobs   JobWriter
	config *config.SchedulerConfig
	logger logger.Logger
}

func New(jobs JobWriter, cfg *config.SchedulerConfig, log logger.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

// Schedule writes one job per plan step. Upserting on the deterministic job
// ID makes re-scheduling idempotent: the same step overwrites itself.
func (s *Scheduler) Schedule(ctx context.Context, lead *models.Lead, plan *models.NurturePlan) ([]*models.ScheduledJob, error) {
	jobs := BuildJobs(plan, lead, time.Now().UTC())

	for _, job := range jobs {
		if err := s.jobs.Upsert(ctx, job); err != nil {
			return nil, err
		}
		metrics.JobsScheduled.Inc()
	}

	s.logger.Info("plan scheduled", map[string]interface{}{
		"leadId": lead.ID,
		"planId": plan.ID,
		"jobs":   len(jobs),
	})
	return jobs, nil
}

// Cancel removes a single pending job from the queue.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	return s.jobs.Cancel(ctx, jobID)
}
