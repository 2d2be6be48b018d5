// internal/nurture/orchestrator/engine.go
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/common/metrics"
	"nurture-engine/internal/models"
	"nurture-engine/internal/nurture/dispatch"
	"nurture-engine/internal/nurture/engagement"
	"nurture-engine/internal/nurture/planner"
	"nurture-engine/internal/nurture/scheduler"
)

const (
	OutcomeScheduled = "scheduled"
	OutcomeSkipped   = "skipped"
)

// LeadStore is the lead persistence surface the orchestrator mutates.
type LeadStore interface {
	Get(ctx context.Context, id string) (*models.Lead, error)
	UpdateStatus(ctx context.Context, id string, status models.LeadStatus) error
	TouchLastContact(ctx context.Context, id string, at time.Time) error
}

// PlanStore is the plan persistence surface.
type PlanStore interface {
	Save(ctx context.Context, plan *models.NurturePlan) error
	Get(ctx context.Context, id string) (*models.NurturePlan, error)
	SetStatus(ctx context.Context, id string, status models.PlanStatus) error
}

// JobStore is the scheduled-job surface used at fire time.
type JobStore interface {
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	MarkSkipped(ctx context.Context, id, reason string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	Requeue(ctx context.Context, id string) error
	CancelPending(ctx context.Context, leadID, reason string) (int64, error)
}

// TemplateSource resolves template names at execution time.
type TemplateSource interface {
	Get(name string) (models.MessageTemplate, error)
	Names() []string
}

// Sender delivers a rendered template over its channel.
type Sender interface {
	Dispatch(ctx context.Context, lead *models.Lead, tmpl models.MessageTemplate) (*dispatch.DeliveryResult, error)
}

// SNSAPI is the escalation alert surface, satisfied by the SNS client wrapper.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// Dependencies carries everything the engine needs. All fields except Alerts
// are required.
type Dependencies struct {
	Leads      LeadStore
	Plans      PlanStore
	Jobs       JobStore
	Templates  TemplateSource
	Tracker    *engagement.Tracker
	Planner    *planner.Generator
	Scheduler  *scheduler.Scheduler
	Dispatcher Sender
	Locker     *LeadLocker
	Marks      *scheduler.ExecutionMarks
	Alerts     SNSAPI
	Logger     logger.Logger
}

// StartResult reports what a planning cycle did for a lead.
type StartResult struct {
	Outcome string              `json:"outcome"`
	Reason  string              `json:"reason,omitempty"`
	Plan    *models.NurturePlan `json:"plan,omitempty"`
}

// Engine drives the nurture lifecycle: planning cycles, step execution at
// trigger time, pause/resume, and escalation to humans.
type Engine struct {
	leads         LeadStore
	plans         PlanStore
	jobs          JobStore
	templates     TemplateSource
	tracker       *engagement.Tracker
	planner       *planner.Generator
	scheduler     *scheduler.Scheduler
	dispatcher    Sender
	locker        *LeadLocker
	marks         *scheduler.ExecutionMarks
	alerts        SNSAPI
	escalationARN string
	errorHandler  *errors.ErrorHandler
	logger        logger.Logger
}

func NewEngine(deps Dependencies, escalationTopicARN string) *Engine {
	return &Engine{
		leads:         deps.Leads,
		plans:         deps.Plans,
		jobs:          deps.Jobs,
		templates:     deps.Templates,
		tracker:       deps.Tracker,
		planner:       deps.Planner,
		scheduler:     deps.Scheduler,
		dispatcher:    deps.Dispatcher,
		locker:        deps.Locker,
		marks:         deps.Marks,
		alerts:        deps.Alerts,
		escalationARN: escalationTopicARN,
		errorHandler:  errors.NewErrorHandler(deps.Logger),
		logger:        deps.Logger,
	}
}

// StartNurturing runs one planning cycle for the lead: skip check, plan
// generation, persistence, scheduling, and the new → nurturing status flip.
func (e *Engine) StartNurturing(ctx context.Context, leadID string) (*StartResult, error) {
	lead, err := e.leads.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}

	skip, reason, err := e.tracker.ShouldSkip(ctx, lead)
	if err != nil {
		return nil, err
	}
	if skip {
		e.logger.Info("nurturing skipped", map[string]interface{}{
			"leadId": leadID,
			"reason": reason,
		})
		return &StartResult{Outcome: OutcomeSkipped, Reason: reason}, nil
	}

	summary, err := e.tracker.Summarize(ctx, lead.ID)
	if err != nil {
		e.logger.Warn("engagement summary unavailable, planning without history", map[string]interface{}{
			"leadId": leadID,
			"error":  err.Error(),
		})
		summary = &engagement.Summary{}
	}

	// Plan generation may block on the LLM for tens of seconds, so it runs
	// before the lock is taken.
	plan := e.planner.Generate(ctx, lead, summary, e.templates.Names())

	lock, err := e.locker.Acquire(ctx, leadID)
	if err != nil {
		return nil, err
	}
	defer e.locker.Release(ctx, lock)

	if err := e.plans.Save(ctx, plan); err != nil {
		return nil, err
	}
	if _, err := e.scheduler.Schedule(ctx, lead, plan); err != nil {
		return nil, err
	}
	if lead.Status == models.LeadStatusNew {
		if err := e.leads.UpdateStatus(ctx, leadID, models.LeadStatusNurturing); err != nil {
			return nil, err
		}
	}

	return &StartResult{Outcome: OutcomeScheduled, Plan: plan}, nil
}

// HandleTrigger executes one due job. It is the terminal boundary for step
// execution: it never panics outward and never returns an error; every
// failure ends as a log line, a failed job row, and a recorded event.
func (e *Engine) HandleTrigger(ctx context.Context, job *models.ScheduledJob) {
	start := time.Now()
	metrics.StepsActive.Inc()
	defer metrics.StepsActive.Dec()
	defer func() {
		metrics.StepDuration.WithLabelValues(string(job.Channel)).Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			stdErr := e.errorHandler.Recover(job.ID, job.LeadID, r)
			e.markStepFailed(ctx, job, stdErr)
		}
	}()

	lock, err := e.locker.Acquire(ctx, job.LeadID)
	if err != nil {
		e.failStep(ctx, job, err)
		return
	}

	lead, plan, proceed := e.recheck(ctx, lock, job)
	if !proceed {
		return
	}

	// Lock is released here. Template resolution, rendering, and the
	// provider round-trip all run unlocked.
	tmpl, err := e.resolveTemplate(job)
	if err != nil {
		e.failStep(ctx, job, err)
		return
	}

	result, dispatchErr := e.dispatcher.Dispatch(ctx, lead, tmpl)

	e.recordOutcome(ctx, job, plan, tmpl, result, dispatchErr)
	e.checkEscalation(ctx, lead)
}

// recheck re-evaluates plan status and skip criteria under the lead lock.
// It releases the lock in every path and reports whether the step should
// proceed to dispatch.
func (e *Engine) recheck(ctx context.Context, lock *Lock, job *models.ScheduledJob) (*models.Lead, *models.NurturePlan, bool) {
	defer e.locker.Release(ctx, lock)

	lead, err := e.leads.Get(ctx, job.LeadID)
	if err != nil {
		e.failStep(ctx, job, err)
		return nil, nil, false
	}

	plan, err := e.plans.Get(ctx, job.PlanID)
	if err != nil {
		e.failStep(ctx, job, err)
		return nil, nil, false
	}

	switch plan.Status {
	case models.PlanStatusActive:
	case models.PlanStatusPaused:
		e.logger.Info("plan paused, step returned to queue", map[string]interface{}{
			"jobId":  job.ID,
			"planId": plan.ID,
		})
		if err := e.jobs.Requeue(ctx, job.ID); err != nil {
			e.logger.Error("failed to requeue paused step", map[string]interface{}{
				"jobId": job.ID,
				"error": err.Error(),
			})
		}
		return nil, nil, false
	default:
		e.skipStep(ctx, job, "plan_"+string(plan.Status))
		return nil, nil, false
	}

	skip, reason, err := e.tracker.ShouldSkip(ctx, lead)
	if err != nil {
		e.failStep(ctx, job, err)
		return nil, nil, false
	}
	if skip {
		e.skipStep(ctx, job, reason)
		e.cancelRemaining(ctx, job, reason)
		return nil, nil, false
	}

	met, gateReason, err := e.stepGate(ctx, lead, plan, job)
	if err != nil {
		e.failStep(ctx, job, err)
		return nil, nil, false
	}
	if !met {
		// Only this step is dropped; later steps carry their own gates.
		e.skipStep(ctx, job, gateReason)
		return nil, nil, false
	}

	return lead, plan, true
}

// stepGate evaluates the step's require_open and require_reply conditions
// against interactions recorded after the last outbound contact. A lead
// that was never contacted cannot have met either condition.
func (e *Engine) stepGate(ctx context.Context, lead *models.Lead, plan *models.NurturePlan, job *models.ScheduledJob) (bool, string, error) {
	if job.StepIndex < 0 || job.StepIndex >= len(plan.Steps) {
		return true, "", nil
	}
	step := plan.Steps[job.StepIndex]
	if !step.RequireOpen && !step.RequireReply {
		return true, "", nil
	}
	if lead.LastContactAt.IsZero() {
		if step.RequireOpen {
			return false, "require_open_unmet", nil
		}
		return false, "require_reply_unmet", nil
	}

	if step.RequireOpen {
		opened, err := e.tracker.RespondedSince(ctx, lead.ID, []models.ActionKind{models.ActionOpened}, lead.LastContactAt)
		if err != nil {
			return false, "", err
		}
		if !opened {
			return false, "require_open_unmet", nil
		}
	}
	if step.RequireReply {
		replied, err := e.tracker.RespondedSince(ctx, lead.ID, []models.ActionKind{models.ActionReplied}, lead.LastContactAt)
		if err != nil {
			return false, "", err
		}
		if !replied {
			return false, "require_reply_unmet", nil
		}
	}
	return true, "", nil
}

// resolveTemplate loads the job's template, falling back to the generic one
// when the named template has disappeared since planning.
func (e *Engine) resolveTemplate(job *models.ScheduledJob) (models.MessageTemplate, error) {
	tmpl, err := e.templates.Get(job.TemplateName)
	if err != nil {
		e.logger.Warn("template missing at fire time, using generic fallback", map[string]interface{}{
			"jobId":    job.ID,
			"template": job.TemplateName,
		})
		tmpl, err = e.templates.Get(models.GenericTemplateName)
		if err != nil {
			return models.MessageTemplate{}, err
		}
	}

	// The plan step owns the channel; the template only supplies content.
	if job.Channel != "" && tmpl.Channel != job.Channel {
		tmpl.Channel = job.Channel
	}
	return tmpl, nil
}

// recordOutcome re-acquires the lead lock and persists everything that
// follows a dispatch attempt: the interaction event, job status, lead
// last-contact, the execution mark, and plan completion on the final step.
func (e *Engine) recordOutcome(ctx context.Context, job *models.ScheduledJob, plan *models.NurturePlan, tmpl models.MessageTemplate, result *dispatch.DeliveryResult, dispatchErr error) {
	now := time.Now().UTC()

	lock, lockErr := e.locker.Acquire(ctx, job.LeadID)
	if lockErr != nil {
		// The event append is append-only and the job mark is idempotent;
		// proceeding unlocked is safer than losing the outcome.
		e.logger.Warn("lock re-acquire failed, recording outcome unlocked", map[string]interface{}{
			"jobId": job.ID,
			"error": lockErr.Error(),
		})
	} else {
		defer e.locker.Release(ctx, lock)
	}

	event := &models.InteractionEvent{
		LeadID:    job.LeadID,
		Channel:   job.Channel,
		Content:   tmpl.Name,
		Timestamp: now,
	}

	if dispatchErr != nil {
		stdErr := e.errorHandler.HandleStepError(job.ID, job.LeadID, dispatchErr)
		event.Kind = models.ActionDeliveryFailed
		event.Success = false
		event.FailureReason = stdErr.Details
		if event.FailureReason == "" {
			event.FailureReason = stdErr.Message
		}
		e.tracker.Record(ctx, event)
		e.markStepFailed(ctx, job, stdErr)
	} else {
		event.Kind = models.SentKindFor(job.Channel)
		event.Success = true
		if result != nil {
			event.ProviderMessageID = result.ProviderMessageID
		}
		e.tracker.Record(ctx, event)

		if err := e.jobs.MarkDispatched(ctx, job.ID, now); err != nil {
			e.logger.Error("failed to mark job dispatched", map[string]interface{}{
				"jobId": job.ID,
				"error": err.Error(),
			})
		}
		if err := e.leads.TouchLastContact(ctx, job.LeadID, now); err != nil {
			e.logger.Warn("failed to update lead last contact", map[string]interface{}{
				"leadId": job.LeadID,
				"error":  err.Error(),
			})
		}
		metrics.StepsDispatched.WithLabelValues(string(job.Channel), "success").Inc()
	}

	e.marks.Mark(ctx, job.ID)

	if job.StepIndex >= len(plan.Steps)-1 {
		if err := e.plans.SetStatus(ctx, plan.ID, models.PlanStatusCompleted); err != nil {
			e.logger.Error("failed to complete plan", map[string]interface{}{
				"planId": plan.ID,
				"error":  err.Error(),
			})
		} else {
			e.logger.Info("plan completed", map[string]interface{}{
				"planId": plan.ID,
				"leadId": job.LeadID,
			})
		}
	}
}

// checkEscalation promotes the lead to qualified and alerts sales once the
// escalation thresholds are met. Runs unlocked; the status gate makes the
// promotion single-shot.
func (e *Engine) checkEscalation(ctx context.Context, lead *models.Lead) {
	switch lead.Status {
	case models.LeadStatusQualified, models.LeadStatusConverted, models.LeadStatusClosed:
		return
	}

	met, reason, err := e.tracker.MeetsEscalation(ctx, lead)
	if err != nil {
		e.logger.Warn("escalation check failed", map[string]interface{}{
			"leadId": lead.ID,
			"error":  err.Error(),
		})
		return
	}
	if !met {
		return
	}

	e.publishEscalation(ctx, lead, reason)

	if err := e.leads.UpdateStatus(ctx, lead.ID, models.LeadStatusQualified); err != nil {
		e.logger.Error("failed to qualify escalated lead", map[string]interface{}{
			"leadId": lead.ID,
			"error":  err.Error(),
		})
		return
	}

	metrics.Escalations.Inc()
	e.logger.Info("lead escalated to sales", map[string]interface{}{
		"leadId": lead.ID,
		"reason": reason,
	})
}

func (e *Engine) publishEscalation(ctx context.Context, lead *models.Lead, reason string) {
	if e.alerts == nil || e.escalationARN == "" {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"leadId":      lead.ID,
		"email":       lead.Email,
		"companyName": lead.CompanyName,
		"reason":      reason,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	_, err = e.alerts.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(e.escalationARN),
		Subject:  aws.String(fmt.Sprintf("Lead ready for sales: %s", lead.Email)),
		Message:  aws.String(string(payload)),
	})
	if err != nil {
		e.logger.Error("escalation alert publish failed", map[string]interface{}{
			"leadId": lead.ID,
			"error":  err.Error(),
		})
	}
}

// Pause stops future steps of an active plan from dispatching.
func (e *Engine) Pause(ctx context.Context, planID string) error {
	plan, err := e.plans.Get(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != models.PlanStatusActive {
		return errors.NewValidationError(fmt.Sprintf("plan %s is %s, only active plans can be paused", planID, plan.Status))
	}
	return e.plans.SetStatus(ctx, planID, models.PlanStatusPaused)
}

// Resume reactivates a paused plan. Steps still inside the misfire grace
// window fire on the next poll.
func (e *Engine) Resume(ctx context.Context, planID string) error {
	plan, err := e.plans.Get(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != models.PlanStatusPaused {
		return errors.NewValidationError(fmt.Sprintf("plan %s is %s, only paused plans can be resumed", planID, plan.Status))
	}
	return e.plans.SetStatus(ctx, planID, models.PlanStatusActive)
}

func (e *Engine) failStep(ctx context.Context, job *models.ScheduledJob, err error) {
	stdErr := e.errorHandler.HandleStepError(job.ID, job.LeadID, err)
	e.markStepFailed(ctx, job, stdErr)
}

func (e *Engine) markStepFailed(ctx context.Context, job *models.ScheduledJob, stdErr *errors.StandardError) {
	metrics.StepsFailed.WithLabelValues(string(job.Channel), string(stdErr.Code)).Inc()
	metrics.StepsDispatched.WithLabelValues(string(job.Channel), "failure").Inc()
	if err := e.jobs.MarkFailed(ctx, job.ID, string(stdErr.Code), time.Now().UTC()); err != nil {
		e.logger.Error("failed to mark job failed", map[string]interface{}{
			"jobId": job.ID,
			"error": err.Error(),
		})
	}
}

func (e *Engine) skipStep(ctx context.Context, job *models.ScheduledJob, reason string) {
	metrics.StepsSkipped.WithLabelValues(reason).Inc()
	if err := e.jobs.MarkSkipped(ctx, job.ID, reason, time.Now().UTC()); err != nil {
		e.logger.Error("failed to mark job skipped", map[string]interface{}{
			"jobId": job.ID,
			"error": err.Error(),
		})
	}
	e.logger.Info("step skipped", map[string]interface{}{
		"jobId":  job.ID,
		"leadId": job.LeadID,
		"reason": reason,
	})
}

// cancelRemaining skips the plan's not-yet-fired jobs and parks the plan when
// the lead stops being nurturable.
func (e *Engine) cancelRemaining(ctx context.Context, job *models.ScheduledJob, reason string) {
	n, err := e.jobs.CancelPending(ctx, job.LeadID, reason)
	if err != nil {
		e.logger.Error("failed to cancel remaining steps", map[string]interface{}{
			"leadId": job.LeadID,
			"error":  err.Error(),
		})
		return
	}
	if err := e.plans.SetStatus(ctx, job.PlanID, models.PlanStatusSkipped); err != nil {
		e.logger.Error("failed to mark plan skipped", map[string]interface{}{
			"planId": job.PlanID,
			"error":  err.Error(),
		})
	}
	e.logger.Info("remaining steps cancelled", map[string]interface{}{
		"leadId":    job.LeadID,
		"reason":    reason,
		"cancelled": n,
	})
}
