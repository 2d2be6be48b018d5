// internal/llm/client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
)

// Client talks to an OpenAI-compatible chat completions endpoint. Timeouts
// come from per-call contexts, never from the HTTP client itself.
type Client struct {
	config *config.LLMConfig
	client *http.Client
	logger logger.Logger
}

func NewClient(cfg *config.LLMConfig, log logger.Logger) *Client {
	return &Client{
		config: cfg,
		client: &http.Client{},
		logger: log.WithFields(map[string]interface{}{"component": "llm"}),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat round trip and returns the raw assistant text.
// Non-OK responses are retried with exponential backoff until the configured
// deadline runs out.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.GetDuration(c.config.Timeout))
	defer cancel()

	payload := chatRequest{
		Model:       c.config.Model,
		Temperature: c.config.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.NewLLMInvalidResponseError("marshal request: " + err.Error())
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", errors.NewLLMTimeoutError()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", errors.NewLLMInvalidResponseError("build request: " + err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

		resp, lastErr = c.client.Do(req)
		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}

		if ctx.Err() != nil {
			return "", errors.NewLLMTimeoutError()
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.NewLLMTimeoutError()
		}
		return "", errors.NewLLMInvalidResponseError(lastErr.Error())
	}
	if resp == nil {
		return "", errors.NewLLMInvalidResponseError("no successful response after retries")
	}
	defer resp.Body.Close()

	var apiResponse chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", errors.NewLLMInvalidResponseError("decode response: " + err.Error())
	}
	if len(apiResponse.Choices) == 0 {
		return "", errors.NewLLMInvalidResponseError("response has no choices")
	}

	text := strings.TrimSpace(apiResponse.Choices[0].Message.Content)
	if text == "" {
		return "", errors.NewLLMInvalidResponseError("response text is empty")
	}

	c.logger.Debug("completion received", map[string]interface{}{
		"model":  c.config.Model,
		"length": len(text),
	})
	return text, nil
}
