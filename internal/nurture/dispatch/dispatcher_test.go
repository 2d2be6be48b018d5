// internal/nurture/dispatch/dispatcher_test.go
package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	commonerrors "nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

type stubPixels struct {
	url string
	err error
}

func (s *stubPixels) Issue(context.Context, string, string) (string, error) {
	return s.url, s.err
}

func dispatchLead() *models.Lead {
	return &models.Lead{
		ID:          "lead-1",
		FirstName:   "Dana",
		Email:       "dana@acme.example",
		CompanyName: "Acme Corp",
		CustomAttributes: map[string]string{
			"slack_channel": "#acme-deal",
		},
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestDispatchEmailWithPixelPlaceholder(t *testing.T) {
	email := &captureNotifier{channel: models.ChannelEmail}
	d := NewDispatcher(NewFactory(email), &stubPixels{url: "https://t.example/track/abc.gif"}, logger.NewTestLogger(t))

	tmpl := models.MessageTemplate{
		Name:    "intro_email",
		Channel: models.ChannelEmail,
		Subject: "Hi {first_name}",
		Body:    "Hello {first_name},\n{tracking_pixel}",
	}

	result, err := d.Dispatch(context.Background(), dispatchLead(), tmpl)

	assert.NoError(t, err)
	assert.Equal(t, "prov-1", result.ProviderMessageID)

	if assert.NotNil(t, email.last) {
		assert.Equal(t, "dana@acme.example", email.last.To)
		assert.Equal(t, "Hi Dana", email.last.Subject)
		assert.Contains(t, email.last.Body, `src="https://t.example/track/abc.gif"`)
		assert.NotContains(t, email.last.Body, "{tracking_pixel}")
	}
}

func TestDispatchEmailAppendsPixelWithoutPlaceholder(t *testing.T) {
	email := &captureNotifier{channel: models.ChannelEmail}
	d := NewDispatcher(NewFactory(email), &stubPixels{url: "https://t.example/track/abc.gif"}, logger.NewTestLogger(t))

	tmpl := models.MessageTemplate{
		Name:    "intro_email",
		Channel: models.ChannelEmail,
		Body:    "Hello {first_name},",
	}

	_, err := d.Dispatch(context.Background(), dispatchLead(), tmpl)

	assert.NoError(t, err)
	assert.Contains(t, email.last.Body, "Hello Dana,\n<img")
}

func TestDispatchSlackStripsPixelPlaceholder(t *testing.T) {
	slack := &captureNotifier{channel: models.ChannelSlack}
	d := NewDispatcher(NewFactory(slack), &stubPixels{url: "https://t.example/track/abc.gif"}, logger.NewTestLogger(t))

	tmpl := models.MessageTemplate{
		Name:    "slack_check_in",
		Channel: models.ChannelSlack,
		Body:    "Quick ping for {company_name}. {tracking_pixel}",
	}

	_, err := d.Dispatch(context.Background(), dispatchLead(), tmpl)

	assert.NoError(t, err)
	if assert.NotNil(t, slack.last) {
		assert.Equal(t, "#acme-deal", slack.last.To)
		assert.NotContains(t, slack.last.Body, "tracking_pixel")
		assert.NotContains(t, slack.last.Body, "<img")
	}
}

func TestDispatchPixelFailureStillSends(t *testing.T) {
	email := &captureNotifier{channel: models.ChannelEmail}
	d := NewDispatcher(NewFactory(email), &stubPixels{err: errors.New("redis down")}, logger.NewTestLogger(t))

	tmpl := models.MessageTemplate{
		Name:    "intro_email",
		Channel: models.ChannelEmail,
		Body:    "Hello {first_name},\n{tracking_pixel}",
	}

	result, err := d.Dispatch(context.Background(), dispatchLead(), tmpl)

	assert.NoError(t, err)
	assert.NotNil(t, result)
	assert.NotContains(t, email.last.Body, "{tracking_pixel}")
	assert.NotContains(t, email.last.Body, "<img")
}

func TestDispatchWithoutPixelSource(t *testing.T) {
	email := &captureNotifier{channel: models.ChannelEmail}
	d := NewDispatcher(NewFactory(email), nil, logger.NewTestLogger(t))

	tmpl := models.MessageTemplate{
		Name:    "intro_email",
		Channel: models.ChannelEmail,
		Body:    "Hello {first_name},\n{tracking_pixel}",
	}

	_, err := d.Dispatch(context.Background(), dispatchLead(), tmpl)

	assert.NoError(t, err)
	assert.NotContains(t, email.last.Body, "{tracking_pixel}")
	assert.NotContains(t, email.last.Body, "<img")
}

// ==========================
// Edge Cases
// ==========================

func TestDispatchUnconfiguredChannel(t *testing.T) {
	d := NewDispatcher(NewFactory(&captureNotifier{channel: models.ChannelLog}), nil, logger.NewTestLogger(t))

	tmpl := models.MessageTemplate{Name: "intro_email", Channel: models.ChannelEmail}

	_, err := d.Dispatch(context.Background(), dispatchLead(), tmpl)

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeChannelNotConfigured, stdErr.Code)
	}
}

func TestDispatchNotifierFailurePropagates(t *testing.T) {
	email := &captureNotifier{
		channel: models.ChannelEmail,
		sendErr: commonerrors.NewTransientDeliveryError("email", errors.New("throttled")),
	}
	d := NewDispatcher(NewFactory(email), nil, logger.NewTestLogger(t))

	tmpl := models.MessageTemplate{Name: "intro_email", Channel: models.ChannelEmail, Body: "hi"}

	_, err := d.Dispatch(context.Background(), dispatchLead(), tmpl)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestDispatchSlackWithoutChannelAttributeLeavesToEmpty(t *testing.T) {
	slack := &captureNotifier{channel: models.ChannelSlack}
	d := NewDispatcher(NewFactory(slack), nil, logger.NewTestLogger(t))

	lead := dispatchLead()
	lead.CustomAttributes = nil
	tmpl := models.MessageTemplate{Name: "slack_check_in", Channel: models.ChannelSlack, Body: "hi"}

	_, err := d.Dispatch(context.Background(), lead, tmpl)

	assert.NoError(t, err)
	assert.Empty(t, slack.last.To)
}
