// internal/store/jobs.go
package store

import (
	"context"
	"database/sql"
	"time"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/models"
)

const jobColumns = `id, lead_id, plan_id, step_index, template_name, channel,
	run_at, status, status_reason, executed_at, created_at`

// JobStore persists scheduled follow-up jobs in PostgreSQL. The table doubles
// as the due queue: the poller claims rows whose run_at has passed.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Upsert writes the job, replacing any existing job with the same ID. A
// replaced job is reset to pending so rescheduling a plan step is idempotent.
func (s *JobStore) Upsert(ctx context.Context, job *models.ScheduledJob) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, lead_id, plan_id, step_index, template_name,
			channel, run_at, status, status_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			step_index = EXCLUDED.step_index,
			channel = EXCLUDED.channel,
			run_at = EXCLUDED.run_at,
			status = EXCLUDED.status,
			status_reason = ''`,
		job.ID, job.LeadID, job.PlanID, job.StepIndex, job.TemplateName,
		job.Channel, job.RunAt.UTC(), job.Status, job.StatusReason, job.CreatedAt,
	)
	if err != nil {
		return errors.NewSchedulingFailedError(job.ID, err)
	}
	return nil
}

func scanJob(row rowScanner) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	var executed sql.NullTime

	err := row.Scan(
		&j.ID, &j.LeadID, &j.PlanID, &j.StepIndex, &j.TemplateName, &j.Channel,
		&j.RunAt, &j.Status, &j.StatusReason, &executed, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if executed.Valid {
		t := executed.Time
		j.ExecutedAt = &t
	}
	return &j, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE id = $1`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewJobNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get job", err)
	}
	return job, nil
}

// ClaimDue atomically claims pending jobs whose run_at is at or before now.
// Claimed rows move to the claimed status so concurrent pollers never pick
// the same job twice.
func (s *JobStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE status = $2 AND run_at <= $3
			ORDER BY run_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		models.JobStatusClaimed, models.JobStatusPending, now.UTC(), limit,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("claim due jobs", err)
	}
	defer rows.Close()

	var jobs []*models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("claim due jobs", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("claim due jobs", err)
	}
	return jobs, nil
}

func (s *JobStore) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	return s.mark(ctx, id, models.JobStatusDispatched, "", at)
}

func (s *JobStore) MarkSkipped(ctx context.Context, id, reason string, at time.Time) error {
	return s.mark(ctx, id, models.JobStatusSkipped, reason, at)
}

func (s *JobStore) MarkFailed(ctx context.Context, id, reason string, at time.Time) error {
	return s.mark(ctx, id, models.JobStatusFailed, reason, at)
}

func (s *JobStore) mark(ctx context.Context, id string, status models.JobStatus, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $2, status_reason = $3, executed_at = $4
		WHERE id = $1`, id, status, reason, at.UTC())
	if err != nil {
		return errors.NewQueryExecutionFailedError("mark job", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewJobNotFoundError(id)
	}
	return nil
}

// Cancel marks a single pending job skipped. Already-claimed or executed
// jobs are left alone.
func (s *JobStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $2, status_reason = 'cancelled'
		WHERE id = $1 AND status = $3`,
		id, models.JobStatusSkipped, models.JobStatusPending,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("cancel job", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewJobNotFoundError(id)
	}
	return nil
}

// Requeue puts a claimed job back to pending, e.g. when its plan is paused
// at fire time. The next poll picks it up again.
func (s *JobStore) Requeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $2, status_reason = ''
		WHERE id = $1 AND status = $3`,
		id, models.JobStatusPending, models.JobStatusClaimed,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("requeue job", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewJobNotFoundError(id)
	}
	return nil
}

// CancelPending marks every pending job for the lead as skipped. Used when a
// lead unsubscribes or converts so no queued step fires afterwards.
func (s *JobStore) CancelPending(ctx context.Context, leadID, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $2, status_reason = $3
		WHERE lead_id = $1 AND status = $4`,
		leadID, models.JobStatusSkipped, reason, models.JobStatusPending,
	)
	if err != nil {
		return 0, errors.NewQueryExecutionFailedError("cancel pending jobs", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// PendingForLead lists queued jobs for a lead ordered by run time.
func (s *JobStore) PendingForLead(ctx context.Context, leadID string) ([]*models.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE lead_id = $1 AND status = $2
		ORDER BY run_at`, leadID, models.JobStatusPending)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("pending jobs for lead", err)
	}
	defer rows.Close()

	var jobs []*models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.NewQueryExecutionFailedError("pending jobs for lead", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("pending jobs for lead", err)
	}
	return jobs, nil
}
