// internal/nurture/planner/validate.go
package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/models"
)

const planSchema = `{
	"type": "object",
	"required": ["strategy", "steps"],
	"properties": {
		"strategy": {"type": "string", "enum": ["aggressive", "moderate", "conservative"]},
		"reasoning": {"type": "string"},
		"steps": {
			"type": "array",
			"minItems": 1,
			"maxItems": 5,
			"items": {
				"type": "object",
				"required": ["days_after_previous", "channel", "template_name"],
				"properties": {
					"days_after_previous": {"type": "integer", "minimum": 0},
					"channel": {"type": "string", "enum": ["email", "slack", "log"]},
					"template_name": {"type": "string", "minLength": 1},
					"trigger_conditions": {"type": "array", "items": {"type": "string"}},
					"require_open": {"type": "boolean"},
					"require_reply": {"type": "boolean"}
				}
			}
		}
	}
}`

// planDocument is the JSON envelope the model must return.
type planDocument struct {
	Strategy  string            `json:"strategy"`
	Reasoning string            `json:"reasoning"`
	Steps     []models.PlanStep `json:"steps"`
}

// validatePlanJSON checks the raw plan document against the schema and the
// available template set. The raw string is validated before unmarshalling
// so type violations surface as schema errors, not decode errors.
func validatePlanJSON(raw string, available []string) (*planDocument, error) {
	schemaLoader := gojsonschema.NewStringLoader(planSchema)
	documentLoader := gojsonschema.NewStringLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, errors.NewPlanValidationError("validation error: " + err.Error())
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, errors.NewPlanValidationError(strings.Join(errs, "; "))
	}

	var doc planDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.NewPlanValidationError("decode plan: " + err.Error())
	}

	availableSet := make(map[string]struct{}, len(available))
	for _, name := range available {
		availableSet[name] = struct{}{}
	}
	for i, step := range doc.Steps {
		if _, ok := availableSet[step.TemplateName]; !ok {
			return nil, errors.NewPlanValidationError(
				fmt.Sprintf("step %d references unknown template %q", i, step.TemplateName))
		}
	}

	return &doc, nil
}
