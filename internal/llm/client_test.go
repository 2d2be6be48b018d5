// internal/llm/client_test.go
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nurture-engine/internal/common/config"
	commonerrors "nurture-engine/internal/common/errors"
	"nurture-engine/internal/common/logger"
)

// ==========================
// Test Helper Functions
// ==========================

func createLLMClient(t *testing.T, baseURL string, timeoutMS, maxRetries int) *Client {
	t.Helper()

	cfg := &config.LLMConfig{
		Enabled:     true,
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		Timeout:     timeoutMS,
		MaxRetries:  maxRetries,
	}
	return NewClient(cfg, logger.NewTestLogger(t))
}

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

// ==========================
// Core Functionality Tests
// ==========================

func TestCompleteSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, completionBody("  {\"strategy\":\"moderate\"}  "))
	}))
	defer server.Close()

	client := createLLMClient(t, server.URL, 5000, 2)
	text, err := client.Complete(context.Background(), "You plan follow-ups.", "Plan for Dana.")

	assert.NoError(t, err)
	assert.Equal(t, `{"strategy":"moderate"}`, text)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotReq.Model)
	assert.InDelta(t, 0.2, gotReq.Temperature, 0.0001)
	if assert.Len(t, gotReq.Messages, 2) {
		assert.Equal(t, "system", gotReq.Messages[0].Role)
		assert.Equal(t, "You plan follow-ups.", gotReq.Messages[0].Content)
		assert.Equal(t, "user", gotReq.Messages[1].Role)
		assert.Equal(t, "Plan for Dana.", gotReq.Messages[1].Content)
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, completionBody("recovered"))
	}))
	defer server.Close()

	client := createLLMClient(t, server.URL, 5000, 3)
	text, err := client.Complete(context.Background(), "system", "user")

	assert.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := createLLMClient(t, server.URL, 5000, 2)
	_, err := client.Complete(context.Background(), "system", "user")

	assert.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeLLMInvalidResponse, stdErr.Code)
		assert.Contains(t, stdErr.Details, "status 503")
	}
}

// ==========================
// Edge Cases
// ==========================

func TestCompleteTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(w, completionBody("too late"))
	}))
	defer server.Close()

	client := createLLMClient(t, server.URL, 100, 2)

	start := time.Now()
	_, err := client.Complete(context.Background(), "system", "user")

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeLLMTimeout, stdErr.Code)
		assert.False(t, stdErr.Retryable)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client := createLLMClient(t, server.URL, 5000, 0)
	_, err := client.Complete(context.Background(), "system", "user")

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeLLMInvalidResponse, stdErr.Code)
	}
}

func TestCompleteBlankText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody("   \n\t "))
	}))
	defer server.Close()

	client := createLLMClient(t, server.URL, 5000, 0)
	_, err := client.Complete(context.Background(), "system", "user")

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeLLMInvalidResponse, stdErr.Code)
		assert.Contains(t, stdErr.Details, "empty")
	}
}

func TestCompleteMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `this is not json`)
	}))
	defer server.Close()

	client := createLLMClient(t, server.URL, 5000, 0)
	_, err := client.Complete(context.Background(), "system", "user")

	assert.Error(t, err)
	var stdErr *commonerrors.StandardError
	if assert.ErrorAs(t, err, &stdErr) {
		assert.Equal(t, commonerrors.ErrCodeLLMInvalidResponse, stdErr.Code)
	}
}
