// internal/nurture/dispatch/email.go
package dispatch

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
)

// SESAPI is the slice of the SES client the notifier needs, kept as an
// interface for mocking.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailNotifier delivers follow-ups over AWS SES.
type EmailNotifier struct {
	client SESAPI
	from   string
	logger logger.Logger
}

func NewEmailNotifier(client SESAPI, from string, log logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		client: client,
		from:   from,
		logger: log.WithFields(map[string]interface{}{"notifier": "email"}),
	}
}

func (n *EmailNotifier) Channel() models.Channel {
	return models.ChannelEmail
}

func (n *EmailNotifier) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	if msg.To == "" {
		return nil, errors.NewValidationError("email message has no recipient")
	}

	out, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body)},
				Html: &types.Content{Data: aws.String(msg.Body)},
			},
		},
		Source: aws.String(n.from),
	})
	if err != nil {
		return nil, errors.NewTransientDeliveryError("email", err)
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	n.logger.Info("email sent", map[string]interface{}{
		"to":        msg.To,
		"messageId": messageID,
	})

	return &DeliveryResult{ProviderMessageID: messageID, Channel: models.ChannelEmail}, nil
}
