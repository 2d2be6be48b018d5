// internal/models/plan.go
package models

import "time"

type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyModerate     Strategy = "moderate"
	StrategyConservative Strategy = "conservative"
)

func (s Strategy) IsValid() bool {
	switch s {
	case StrategyAggressive, StrategyModerate, StrategyConservative:
		return true
	}
	return false
}

type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusSkipped   PlanStatus = "skipped"
)

// MaxPlanSteps is the hard cap on follow-up steps per plan.
const MaxPlanSteps = 5

// PlanStep is one follow-up action, offset in days from the previous step.
type PlanStep struct {
	DaysAfterPrevious int      `json:"days_after_previous"`
	Channel           Channel  `json:"channel"`
	TemplateName      string   `json:"template_name"`
	TriggerConditions []string `json:"trigger_conditions,omitempty"`
	RequireOpen       bool     `json:"require_open,omitempty"`
	RequireReply      bool     `json:"require_reply,omitempty"`
}

// NurturePlan is an ordered follow-up sequence for one lead.
type NurturePlan struct {
	ID        string     `json:"id" db:"id"`
	LeadID    string     `json:"leadId" db:"lead_id"`
	Strategy  Strategy   `json:"strategy" db:"strategy"`
	Status    PlanStatus `json:"status" db:"status"`
	Reasoning string     `json:"reasoning,omitempty" db:"reasoning"`
	Steps     []PlanStep `json:"steps" db:"steps"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}
