// internal/nurture/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
	"nurture-engine/internal/nurture/personalize"
)

// slackChannelAttr is the lead custom attribute naming the Slack channel to
// post to. Leads without it fall through to the notifier's default channel.
const slackChannelAttr = "slack_channel"

// PixelSource issues open-tracking pixel URLs bound to a lead and a message
// reference.
type PixelSource interface {
	Issue(ctx context.Context, leadID, ref string) (string, error)
}

// Dispatcher renders a template for a lead and hands the result to the
// notifier registered for the template's channel. Email bodies get an
// open-tracking pixel when a PixelSource is configured.
type Dispatcher struct {
	factory *Factory
	pixels  PixelSource
	logger  logger.Logger
}

func NewDispatcher(factory *Factory, pixels PixelSource, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		factory: factory,
		pixels:  pixels,
		logger:  log,
	}
}

// Dispatch personalizes tmpl for lead and sends it. The returned result
// carries the provider message id for interaction history.
func (d *Dispatcher) Dispatch(ctx context.Context, lead *models.Lead, tmpl models.MessageTemplate) (*DeliveryResult, error) {
	notifier, err := d.factory.ForChannel(tmpl.Channel)
	if err != nil {
		return nil, err
	}

	extra := map[string]string{personalize.TrackingPixelVar: ""}

	pixelTag := ""
	if tmpl.Channel == models.ChannelEmail && d.pixels != nil {
		url, pixErr := d.pixels.Issue(ctx, lead.ID, tmpl.Name)
		if pixErr != nil {
			d.logger.Warn("pixel issue failed, sending without tracking", map[string]interface{}{
				"lead_id":  lead.ID,
				"template": tmpl.Name,
				"error":    pixErr.Error(),
			})
		} else {
			pixelTag = fmt.Sprintf(`<img src=%q width="1" height="1" alt="" />`, url)
			extra[personalize.TrackingPixelVar] = pixelTag
		}
	}

	subject, body := personalize.Render(tmpl, lead, extra)

	// Templates that never declared the placeholder still get the pixel.
	if pixelTag != "" && !strings.Contains(tmpl.Body, "{"+personalize.TrackingPixelVar+"}") {
		body = body + "\n" + pixelTag
	}

	msg := &Message{
		LeadID:  lead.ID,
		To:      d.recipient(lead, tmpl.Channel),
		Subject: subject,
		Body:    body,
		Channel: tmpl.Channel,
	}

	return notifier.Send(ctx, msg)
}

func (d *Dispatcher) recipient(lead *models.Lead, channel models.Channel) string {
	switch channel {
	case models.ChannelEmail:
		return lead.Email
	case models.ChannelSlack:
		return lead.CustomAttributes[slackChannelAttr]
	default:
		return ""
	}
}
