// internal/agentverse/client.go
package agentverse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
)

// Registration is the payload announcing this service on the network.
type Registration struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities"`
	Protocol     string   `json:"protocol,omitempty"`
	Endpoint     string   `json:"endpoint,omitempty"`
}

type registerResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

type discoverResponse struct {
	Agents []models.AgentRecord `json:"agents"`
}

// Client talks to the Agentverse discovery network.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(cfg *config.AgentverseConfig, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
	}
}

// Register announces the agent and returns the record with its assigned
// fetch:// address.
func (c *Client) Register(ctx context.Context, reg *Registration) (*models.AgentRecord, error) {
	jsonData, err := json.Marshal(reg)
	if err != nil {
		return nil, errors.NewAgentRegistrationFailedError(fmt.Errorf("failed to marshal registration: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1/agents", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, errors.NewAgentRegistrationFailedError(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewAgentRegistrationFailedError(fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewAgentRegistrationFailedError(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, errors.NewAgentRegistrationFailedError(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var regResp registerResponse
	if err := json.Unmarshal(body, &regResp); err != nil {
		return nil, errors.NewAgentRegistrationFailedError(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if regResp.ID == "" {
		return nil, errors.NewAgentRegistrationFailedError(fmt.Errorf("response carries no agent id"))
	}

	address := regResp.Address
	if address == "" {
		address = "fetch://" + regResp.ID
	}

	record := &models.AgentRecord{
		ID:           regResp.ID,
		Name:         reg.Name,
		Address:      address,
		Description:  reg.Description,
		Capabilities: reg.Capabilities,
		Protocol:     reg.Protocol,
		Endpoint:     reg.Endpoint,
		RegisteredAt: time.Now().UTC(),
	}

	c.logger.Info("agent registered", map[string]interface{}{
		"agentId": record.ID,
		"address": record.Address,
	})
	return record, nil
}

// Discover searches the network for peers announcing any of the given
// capabilities.
func (c *Client) Discover(ctx context.Context, capabilities []string, limit int) ([]models.AgentRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	query := url.Values{}
	query.Set("capabilities", strings.Join(capabilities, ","))
	query.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/v1/agents/search?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewAgentDiscoveryFailedError(fmt.Errorf("failed to create request: %w", err))
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewAgentDiscoveryFailedError(fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.NewAgentDiscoveryFailedError(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var discResp discoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&discResp); err != nil {
		return nil, errors.NewAgentDiscoveryFailedError(fmt.Errorf("failed to decode response: %w", err))
	}

	c.logger.Debug("agents discovered", map[string]interface{}{
		"capabilities": capabilities,
		"count":        len(discResp.Agents),
	})
	return discResp.Agents, nil
}

// SelfRegistration builds the registration payload for this service from
// config.
func SelfRegistration(cfg *config.AgentverseConfig) *Registration {
	name := cfg.AgentName
	if name == "" {
		name = "nurture-engine"
	}
	return &Registration{
		Name:        name,
		Description: "Automated B2B lead nurturing: planning, scheduling and multi-channel follow-up",
		Capabilities: []string{
			models.CapabilityLeadNurturing,
			models.CapabilityEmailAutomation,
			models.CapabilityEngagementTracking,
		},
		Protocol: "http",
		Endpoint: cfg.Endpoint,
	}
}
