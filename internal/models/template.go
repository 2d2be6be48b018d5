// internal/models/template.go
package models

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
	ChannelLog   Channel = "log"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSlack, ChannelLog:
		return true
	}
	return false
}

// MessageTemplate is an immutable outbound message definition. Subject and
// body carry {placeholder} variables resolved at render time.
type MessageTemplate struct {
	Name     string   `json:"name"`
	Channel  Channel  `json:"channel"`
	Subject  string   `json:"subject,omitempty"`
	Body     string   `json:"body"`
	Industry string   `json:"industry,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// GenericTemplateName is the template every plan can fall back to when a
// step's template is missing at execution time.
const GenericTemplateName = "general_followup"
