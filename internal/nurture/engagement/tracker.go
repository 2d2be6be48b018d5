// internal/nurture/engagement/tracker.go
package engagement

import (
	"context"
	"strings"
	"time"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/common/metrics"
	"nurture-engine/internal/models"
)

const (
	SkipReasonUnsubscribed      = "unsubscribed"
	SkipReasonRecentlyConverted = "recently_converted"
	SkipReasonLowEngagement     = "low_engagement"
	SkipReasonNegativeKeyword   = "negative_keyword"

	EscalationReasonReplies  = "replies"
	EscalationReasonMeetings = "meetings"
	EscalationReasonForm     = "form_submission"
)

const (
	escalationWindow      = 30 * 24 * time.Hour
	escalationMinReplies  = 3
	escalationMinMeetings = 2
)

// EventStore is the slice of the interaction store the tracker needs.
type EventStore interface {
	Record(ctx context.Context, event *models.InteractionEvent) error
	RecentByLead(ctx context.Context, leadID string, limit int) ([]*models.InteractionEvent, error)
	CountSince(ctx context.Context, leadID string, kinds []models.ActionKind, since time.Time) (int64, error)
}

// Tracker records engagement events and answers the skip and escalation
// questions the orchestrator asks before touching a lead.
type Tracker struct {
	store  EventStore
	config *config.EngagementConfig
	logger logger.Logger
}

func NewTracker(store EventStore, cfg *config.EngagementConfig, log logger.Logger) *Tracker {
	return &Tracker{
		store:  store,
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"component": "engagement"}),
	}
}

// Record appends one event. Storage failures are logged and counted but
// never surface to the caller: losing one engagement event must not break a
// nurture cycle.
func (t *Tracker) Record(ctx context.Context, event *models.InteractionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := t.store.Record(ctx, event); err != nil {
		metrics.EventRecordFailures.Inc()
		t.logger.Error("failed to record interaction event", map[string]interface{}{
			"leadId": event.LeadID,
			"kind":   event.Kind,
			"error":  err.Error(),
		})
		return
	}
	metrics.EventsRecorded.WithLabelValues(string(event.Kind)).Inc()
}

// Rate returns matching events divided by sent events inside the trailing
// window. Zero sent events means rate 0, never a division error.
func (t *Tracker) Rate(ctx context.Context, leadID string, kind models.ActionKind, window time.Duration) (float64, error) {
	since := time.Now().UTC().Add(-window)

	sent, err := t.store.CountSince(ctx, leadID, models.SentKinds, since)
	if err != nil {
		return 0, err
	}
	if sent == 0 {
		return 0, nil
	}

	matching, err := t.store.CountSince(ctx, leadID, []models.ActionKind{kind}, since)
	if err != nil {
		return 0, err
	}
	return float64(matching) / float64(sent), nil
}

func (t *Tracker) rateWindow() time.Duration {
	days := t.config.RateWindowDays
	if days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

func (t *Tracker) OpenRate(ctx context.Context, leadID string) (float64, error) {
	return t.Rate(ctx, leadID, models.ActionOpened, t.rateWindow())
}

func (t *Tracker) ReplyRate(ctx context.Context, leadID string) (float64, error) {
	return t.Rate(ctx, leadID, models.ActionReplied, t.rateWindow())
}

// HasHistory reports whether anything was sent to the lead inside the rate
// window. Rates are only meaningful when this is true.
func (t *Tracker) HasHistory(ctx context.Context, leadID string) (bool, error) {
	sent, err := t.store.CountSince(ctx, leadID, models.SentKinds, time.Now().UTC().Add(-t.rateWindow()))
	if err != nil {
		return false, err
	}
	return sent > 0, nil
}

// RespondedSince reports whether the lead produced any of the given kinds
// after the cutoff. Step gates use it to check for an open or reply since
// the previous outbound message.
func (t *Tracker) RespondedSince(ctx context.Context, leadID string, kinds []models.ActionKind, since time.Time) (bool, error) {
	n, err := t.store.CountSince(ctx, leadID, kinds, since)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Summary bundles the engagement numbers the planner feeds into prompts and
// heuristics.
type Summary struct {
	OpenRate   float64
	ReplyRate  float64
	HasHistory bool
}

func (t *Tracker) Summarize(ctx context.Context, leadID string) (*Summary, error) {
	hasHistory, err := t.HasHistory(ctx, leadID)
	if err != nil {
		return nil, err
	}
	openRate, err := t.OpenRate(ctx, leadID)
	if err != nil {
		return nil, err
	}
	replyRate, err := t.ReplyRate(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return &Summary{OpenRate: openRate, ReplyRate: replyRate, HasHistory: hasHistory}, nil
}

// ShouldSkip decides whether the lead must not receive the next follow-up.
// Checks run in order: unsubscribe, conversion cooldown, low engagement
// (only when history exists), negative keywords in recent contents. A lead
// without history is never skipped for low engagement.
func (t *Tracker) ShouldSkip(ctx context.Context, lead *models.Lead) (bool, string, error) {
	if lead.Unsubscribed {
		return true, SkipReasonUnsubscribed, nil
	}

	cooldown := time.Duration(t.config.ConversionCooldownDays) * 24 * time.Hour
	if lead.Status == models.LeadStatusConverted && lead.ConvertedWithin(cooldown) {
		return true, SkipReasonRecentlyConverted, nil
	}

	hasHistory, err := t.HasHistory(ctx, lead.ID)
	if err != nil {
		return false, "", err
	}
	if hasHistory {
		openRate, err := t.OpenRate(ctx, lead.ID)
		if err != nil {
			return false, "", err
		}
		replyRate, err := t.ReplyRate(ctx, lead.ID)
		if err != nil {
			return false, "", err
		}
		if openRate < t.config.MinOpenRate || replyRate < t.config.MinReplyRate {
			return true, SkipReasonLowEngagement, nil
		}
	}

	keyword, err := t.findNegativeKeyword(ctx, lead.ID)
	if err != nil {
		return false, "", err
	}
	if keyword != "" {
		t.Record(ctx, &models.InteractionEvent{
			LeadID:  lead.ID,
			Kind:    models.ActionNegativeKeyword,
			Content: keyword,
			Success: true,
		})
		return true, SkipReasonNegativeKeyword, nil
	}

	return false, "", nil
}

func (t *Tracker) findNegativeKeyword(ctx context.Context, leadID string) (string, error) {
	window := t.config.NegativeKeywordWindow
	if window <= 0 {
		window = 5
	}

	events, err := t.store.RecentByLead(ctx, leadID, window)
	if err != nil {
		return "", err
	}

	for _, event := range events {
		// detection markers themselves don't re-trigger
		if event.Kind == models.ActionNegativeKeyword || event.Content == "" {
			continue
		}
		content := strings.ToLower(event.Content)
		for _, keyword := range t.config.NegativeKeywords {
			if keyword != "" && strings.Contains(content, strings.ToLower(keyword)) {
				return keyword, nil
			}
		}
	}
	return "", nil
}

// MeetsEscalation reports whether the lead is hot enough for a human:
// three replies or two meetings inside the trailing 30 days, or any form
// submission ever.
func (t *Tracker) MeetsEscalation(ctx context.Context, lead *models.Lead) (bool, string, error) {
	since := time.Now().UTC().Add(-escalationWindow)

	replies, err := t.store.CountSince(ctx, lead.ID, []models.ActionKind{models.ActionReplied}, since)
	if err != nil {
		return false, "", err
	}
	if replies >= escalationMinReplies {
		return true, EscalationReasonReplies, nil
	}

	meetings, err := t.store.CountSince(ctx, lead.ID, []models.ActionKind{models.ActionMeetingScheduled}, since)
	if err != nil {
		return false, "", err
	}
	if meetings >= escalationMinMeetings {
		return true, EscalationReasonMeetings, nil
	}

	forms, err := t.store.CountSince(ctx, lead.ID, []models.ActionKind{models.ActionFormSubmitted}, time.Time{})
	if err != nil {
		return false, "", err
	}
	if forms >= 1 {
		return true, EscalationReasonForm, nil
	}

	return false, "", nil
}
