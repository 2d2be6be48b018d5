// internal/nurture/dispatch/log.go
package dispatch

import (
	"context"

	"github.com/google/uuid"

	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
)

// LogNotifier writes nurture messages to the structured log instead of an
// external provider. Used for dry runs and for channels without credentials.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Channel() models.Channel {
	return models.ChannelLog
}

func (n *LogNotifier) Send(_ context.Context, msg *Message) (*DeliveryResult, error) {
	id := uuid.New().String()

	n.logger.Info("nurture message", map[string]interface{}{
		"lead_id":    msg.LeadID,
		"subject":    msg.Subject,
		"body":       msg.Body,
		"message_id": id,
	})

	return &DeliveryResult{
		ProviderMessageID: id,
		Channel:           models.ChannelLog,
	}, nil
}
