// internal/store/schema.go
package store

import (
	"context"
	"database/sql"

	"nurture-engine/internal/common/errors"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		job_title TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		company_size TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		website TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'new',
		unsubscribed BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		custom_attributes JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_contact_at TIMESTAMPTZ,
		converted_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS leads_email_idx ON leads (email)`,
	`CREATE TABLE IF NOT EXISTS nurture_plans (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL,
		strategy TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		reasoning TEXT NOT NULL DEFAULT '',
		steps JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS nurture_plans_lead_idx ON nurture_plans (lead_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		step_index INT NOT NULL,
		template_name TEXT NOT NULL,
		channel TEXT NOT NULL,
		run_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		status_reason TEXT NOT NULL DEFAULT '',
		executed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS scheduled_jobs_due_idx ON scheduled_jobs (status, run_at)`,
	`CREATE INDEX IF NOT EXISTS scheduled_jobs_lead_idx ON scheduled_jobs (lead_id)`,
}

// EnsureSchema creates the nurture tables when they do not exist yet.
// Statements are idempotent so repeated startups are safe.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.NewQueryExecutionFailedError("ensure schema", err)
		}
	}
	return nil
}
