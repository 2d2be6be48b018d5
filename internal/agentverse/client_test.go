// internal/agentverse/client_test.go
package agentverse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nurture-engine/internal/common/config"
	commonerrors "nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func createAgentverseClient(t *testing.T, baseURL, apiKey string) *Client {
	t.Helper()

	cfg := &config.AgentverseConfig{
		Enabled: true,
		BaseURL: baseURL,
		APIKey:  apiKey,
	}
	return NewClient(cfg, logger.NewTestLogger(t))
}

func testRegistration() *Registration {
	return &Registration{
		Name:         "nurture-engine",
		Description:  "lead nurturing service",
		Capabilities: []string{models.CapabilityLeadNurturing, models.CapabilityEmailAutomation},
		Protocol:     "http",
		Endpoint:     "https://nurture.example.com/agent",
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestRegister(t *testing.T) {
	var gotPath, gotAuth string
	var gotReg Registration
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReg))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"agent-123","address":"fetch://agent-123","status":"active"}`)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "av-key")
	record, err := client.Register(context.Background(), testRegistration())

	assert.NoError(t, err)
	assert.Equal(t, "/v1/agents", gotPath)
	assert.Equal(t, "Bearer av-key", gotAuth)
	assert.Equal(t, "nurture-engine", gotReg.Name)
	assert.Equal(t, []string{models.CapabilityLeadNurturing, models.CapabilityEmailAutomation}, gotReg.Capabilities)

	assert.Equal(t, "agent-123", record.ID)
	assert.Equal(t, "fetch://agent-123", record.Address)
	assert.Equal(t, "nurture-engine", record.Name)
	assert.WithinDuration(t, time.Now().UTC(), record.RegisteredAt, 5*time.Second)
}

func TestRegisterDefaultsAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"agent-456","status":"active"}`)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "")
	record, err := client.Register(context.Background(), testRegistration())

	assert.NoError(t, err)
	assert.Equal(t, "fetch://agent-456", record.Address)
}

func TestRegisterWithoutAPIKeySkipsAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"id":"agent-789"}`)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "")
	_, err := client.Register(context.Background(), testRegistration())

	assert.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestDiscover(t *testing.T) {
	var gotCapabilities, gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/search", r.URL.Path)
		gotCapabilities = r.URL.Query().Get("capabilities")
		gotLimit = r.URL.Query().Get("limit")
		fmt.Fprint(w, `{"agents":[
			{"id":"peer-1","name":"crm-bridge","address":"fetch://peer-1","capabilities":["crm_sync","lead_scoring"]},
			{"id":"peer-2","name":"scorer","address":"fetch://peer-2","capabilities":["lead_scoring"]}
		]}`)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "av-key")
	agents, err := client.Discover(context.Background(), []string{"crm_sync", "lead_scoring"}, 5)

	assert.NoError(t, err)
	assert.Equal(t, "crm_sync,lead_scoring", gotCapabilities)
	assert.Equal(t, "5", gotLimit)
	if assert.Len(t, agents, 2) {
		assert.Equal(t, "peer-1", agents[0].ID)
		assert.True(t, agents[0].HasCapability("crm_sync"))
		assert.False(t, agents[1].HasCapability("crm_sync"))
	}
}

func TestDiscoverDefaultLimit(t *testing.T) {
	var gotLimit string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		fmt.Fprint(w, `{"agents":[]}`)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "")
	agents, err := client.Discover(context.Background(), []string{"lead_scoring"}, 0)

	assert.NoError(t, err)
	assert.Empty(t, agents)
	assert.Equal(t, "10", gotLimit)
}

func TestSelfRegistration(t *testing.T) {
	reg := SelfRegistration(&config.AgentverseConfig{Endpoint: "https://nurture.example.com/agent"})

	assert.Equal(t, "nurture-engine", reg.Name)
	assert.Equal(t, "https://nurture.example.com/agent", reg.Endpoint)
	assert.Contains(t, reg.Capabilities, models.CapabilityLeadNurturing)
	assert.Contains(t, reg.Capabilities, models.CapabilityEmailAutomation)
	assert.Contains(t, reg.Capabilities, models.CapabilityEngagementTracking)
}

func TestSelfRegistrationCustomName(t *testing.T) {
	reg := SelfRegistration(&config.AgentverseConfig{AgentName: "nurture-engine-staging"})

	assert.Equal(t, "nurture-engine-staging", reg.Name)
}

// ==========================
// Edge Cases
// ==========================

func TestRegisterServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "av-key")
	_, err := client.Register(context.Background(), testRegistration())

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeAgentRegistrationFailed, stdErr.Code)
		assert.Contains(t, stdErr.Details, "429")
	}
}

func TestRegisterMissingAgentID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"active"}`)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "")
	_, err := client.Register(context.Background(), testRegistration())

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeAgentRegistrationFailed, stdErr.Code)
	}
}

func TestDiscoverServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "search backend down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := createAgentverseClient(t, server.URL, "")
	_, err := client.Discover(context.Background(), []string{"lead_scoring"}, 5)

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeAgentDiscoveryFailed, stdErr.Code)
	}
}
