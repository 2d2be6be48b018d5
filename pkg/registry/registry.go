// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"nurture-engine/internal/common/validation"
	"nurture-engine/internal/models"
)

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg TemplateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks every entry before seeding: snake_case names, known
// channels, non-empty bodies, no duplicate names, and the generic fallback
// template present.
func (r *TemplateRegistry) Validate() error {
	if len(r.Templates) == 0 {
		return fmt.Errorf("registry contains no templates")
	}

	seen := make(map[string]bool, len(r.Templates))
	hasGeneric := false
	for i, entry := range r.Templates {
		if err := validation.ValidateTemplateName(entry.Name); err != nil {
			return fmt.Errorf("template %d (%q): %w", i, entry.Name, err)
		}
		if seen[entry.Name] {
			return fmt.Errorf("duplicate template name %q", entry.Name)
		}
		seen[entry.Name] = true

		if !models.Channel(entry.Channel).IsValid() {
			return fmt.Errorf("template %q: unknown channel %q", entry.Name, entry.Channel)
		}
		if entry.Body == "" {
			return fmt.Errorf("template %q: body is empty", entry.Name)
		}
		if entry.Name == models.GenericTemplateName {
			hasGeneric = true
		}
	}

	if !hasGeneric {
		return fmt.Errorf("registry is missing the %q fallback template", models.GenericTemplateName)
	}
	return nil
}

// Models converts all entries for seeding into the template store.
func (r *TemplateRegistry) Models() []models.MessageTemplate {
	templates := make([]models.MessageTemplate, 0, len(r.Templates))
	for _, entry := range r.Templates {
		templates = append(templates, entry.ToModel())
	}
	return templates
}
