// pkg/registry/schema.go
package registry

import "nurture-engine/internal/models"

// TemplateRegistry is the versioned seed file for the message template
// store. It ships under configs/ and loads at startup.
type TemplateRegistry struct {
	Version     string          `json:"version"`
	LastUpdated string          `json:"lastUpdated"`
	Templates   []TemplateEntry `json:"templates"`
}

type TemplateEntry struct {
	Name     string   `json:"name"`
	Channel  string   `json:"channel"`
	Subject  string   `json:"subject,omitempty"`
	Body     string   `json:"body"`
	Industry string   `json:"industry,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ToModel converts a registry entry to the runtime template type.
func (e TemplateEntry) ToModel() models.MessageTemplate {
	return models.MessageTemplate{
		Name:     e.Name,
		Channel:  models.Channel(e.Channel),
		Subject:  e.Subject,
		Body:     e.Body,
		Industry: e.Industry,
		Tags:     e.Tags,
	}
}
