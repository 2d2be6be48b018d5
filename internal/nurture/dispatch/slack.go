// internal/nurture/dispatch/slack.go
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"nurture-engine/internal/common/errors"
	commonhttp "nurture-engine/internal/common/http"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
)

const defaultSlackAPIBaseURL = "https://slack.com/api"

// SlackNotifier delivers nurture messages to a Slack channel via chat.postMessage.
type SlackNotifier struct {
	client         *commonhttp.Client
	baseURL        string
	botToken       string
	defaultChannel string
	logger         logger.Logger
}

type slackPostResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

func NewSlackNotifier(client *commonhttp.Client, baseURL, botToken, defaultChannel string, log logger.Logger) *SlackNotifier {
	if baseURL == "" {
		baseURL = defaultSlackAPIBaseURL
	}
	return &SlackNotifier{
		client:         client,
		baseURL:        baseURL,
		botToken:       botToken,
		defaultChannel: defaultChannel,
		logger:         log,
	}
}

func (n *SlackNotifier) Channel() models.Channel {
	return models.ChannelSlack
}

func (n *SlackNotifier) Send(ctx context.Context, msg *Message) (*DeliveryResult, error) {
	channel := msg.To
	if channel == "" {
		channel = n.defaultChannel
	}
	if channel == "" {
		return nil, errors.NewValidationError("slack message has no target channel")
	}

	text := msg.Body
	if msg.Subject != "" {
		text = "*" + msg.Subject + "*\n" + msg.Body
	}

	payload := map[string]interface{}{
		"channel": channel,
		"text":    text,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewTransientDeliveryError("slack", fmt.Errorf("failed to marshal payload: %w", err))
	}

	url := fmt.Sprintf("%s/chat.postMessage", n.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errors.NewTransientDeliveryError("slack", fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.botToken)

	resp, err := n.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, errors.NewTransientDeliveryError("slack", fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientDeliveryError("slack", fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewTransientDeliveryError("slack", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var postResp slackPostResponse
	if err := json.Unmarshal(body, &postResp); err != nil {
		return nil, errors.NewTransientDeliveryError("slack", fmt.Errorf("failed to unmarshal response: %w", err))
	}

	if !postResp.OK {
		return nil, errors.NewTransientDeliveryError("slack", fmt.Errorf("chat.postMessage failed: %s", postResp.Error))
	}

	n.logger.Debug("slack message posted", map[string]interface{}{
		"lead_id": msg.LeadID,
		"channel": channel,
		"ts":      postResp.TS,
	})

	return &DeliveryResult{
		ProviderMessageID: postResp.TS,
		Channel:           models.ChannelSlack,
	}, nil
}
