// internal/store/plans.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/models"
)

// PlanStore persists nurture plans in PostgreSQL. Steps are stored as a
// JSONB array in plan order.
type PlanStore struct {
	db *sql.DB
}

func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db}
}

func (s *PlanStore) Save(ctx context.Context, plan *models.NurturePlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusActive
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		return errors.NewPlanValidationError("marshal steps: " + err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nurture_plans (id, lead_id, strategy, status, reasoning, steps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		plan.ID, plan.LeadID, plan.Strategy, plan.Status, plan.Reasoning, steps, plan.CreatedAt,
	)
	if err != nil {
		return errors.NewDatabaseInsertFailedError(err)
	}
	return nil
}

func scanPlan(row rowScanner) (*models.NurturePlan, error) {
	var p models.NurturePlan
	var steps []byte

	err := row.Scan(&p.ID, &p.LeadID, &p.Strategy, &p.Status, &p.Reasoning, &steps, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PlanStore) Get(ctx context.Context, id string) (*models.NurturePlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, strategy, status, reasoning, steps, created_at
		FROM nurture_plans
		WHERE id = $1`, id)

	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewPlanNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("get plan", err)
	}
	return plan, nil
}

// ActiveForLead returns the most recent plan for the lead that is still
// active or paused.
func (s *PlanStore) ActiveForLead(ctx context.Context, leadID string) (*models.NurturePlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, strategy, status, reasoning, steps, created_at
		FROM nurture_plans
		WHERE lead_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1`, leadID, models.PlanStatusActive, models.PlanStatusPaused)

	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewPlanNotFoundError(leadID)
	}
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("active plan for lead", err)
	}
	return plan, nil
}

func (s *PlanStore) SetStatus(ctx context.Context, id string, status models.PlanStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nurture_plans SET status = $2
		WHERE id = $1`, id, status)
	if err != nil {
		return errors.NewQueryExecutionFailedError("set plan status", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewPlanNotFoundError(id)
	}
	return nil
}
