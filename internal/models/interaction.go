// internal/models/interaction.go
package models

import "time"

type ActionKind string

const (
	ActionEmailSent        ActionKind = "email_sent"
	ActionSlackSent        ActionKind = "slack_sent"
	ActionLogSent          ActionKind = "log_sent"
	ActionOpened           ActionKind = "opened"
	ActionReplied          ActionKind = "replied"
	ActionMeetingScheduled ActionKind = "meeting_scheduled"
	ActionFormSubmitted    ActionKind = "form_submitted"
	ActionNegativeKeyword  ActionKind = "negative_keyword_detected"
	ActionDeliveryFailed   ActionKind = "delivery_failed"
	ActionUnsubscribed     ActionKind = "unsubscribed"
)

func (k ActionKind) IsValid() bool {
	switch k {
	case ActionEmailSent, ActionSlackSent, ActionLogSent, ActionOpened,
		ActionReplied, ActionMeetingScheduled, ActionFormSubmitted,
		ActionNegativeKeyword, ActionDeliveryFailed, ActionUnsubscribed:
		return true
	}
	return false
}

// SentKinds are the outbound actions counted as the denominator of
// engagement rates.
var SentKinds = []ActionKind{ActionEmailSent, ActionSlackSent, ActionLogSent}

// SentKindFor maps a delivery channel to its outbound action kind.
func SentKindFor(c Channel) ActionKind {
	switch c {
	case ChannelSlack:
		return ActionSlackSent
	case ChannelLog:
		return ActionLogSent
	default:
		return ActionEmailSent
	}
}

// InteractionEvent is one append-only engagement record. Events are never
// mutated or deleted once written.
type InteractionEvent struct {
	ID                string     `json:"id"`
	LeadID            string     `json:"leadId"`
	Kind              ActionKind `json:"kind"`
	Channel           Channel    `json:"channel,omitempty"`
	Content           string     `json:"content,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
	Success           bool       `json:"success"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	FailureReason     string     `json:"failureReason,omitempty"`
}
