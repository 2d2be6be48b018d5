// internal/models/agent.go
package models

import "time"

// Capabilities this service announces on the discovery network.
const (
	CapabilityLeadNurturing      = "lead_nurturing"
	CapabilityEmailAutomation    = "email_automation"
	CapabilityEngagementTracking = "engagement_tracking"
)

// AgentRecord is one entry on the discovery network.
type AgentRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"` // "fetch://<id>"
	Description  string    `json:"description,omitempty"`
	Capabilities []string  `json:"capabilities"`
	Protocol     string    `json:"protocol,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	RegisteredAt time.Time `json:"registeredAt,omitempty"`
}

// HasCapability reports whether the agent announces the given capability.
func (a *AgentRecord) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
